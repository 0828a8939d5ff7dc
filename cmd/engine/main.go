package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/0xBreath/lunar-engine/api"
	"github.com/0xBreath/lunar-engine/internal/config"
	"github.com/0xBreath/lunar-engine/internal/journal"
	"github.com/0xBreath/lunar-engine/internal/logger"
	"github.com/0xBreath/lunar-engine/pkg/binance"
	"github.com/0xBreath/lunar-engine/pkg/engine"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "lunar-engine",
		Short: "Automated bracket-order trading engine",
		Long:  `A trading engine that opens three-legged bracket positions on a spot exchange, trails the take-profit on closed bars and holds at most one position at a time`,
		Run:   runEngine,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runEngine(cmd *cobra.Command, args []string) {
	// Local development keeps credentials in a .env file; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	log := logger.New(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiURL, streamURL := binance.LiveAPIURL, binance.LiveStreamURL
	if cfg.Binance.Testnet {
		apiURL, streamURL = binance.TestnetAPIURL, binance.TestnetStreamURL
	}

	client := binance.NewClient(cfg.Binance.APIKey, cfg.Binance.APISecret, apiURL, 5000, log)
	userStream := binance.NewUserStream(client)

	var store *journal.Store
	if cfg.Database.Enabled {
		store, err = journal.Open(ctx, cfg.Database.DSN, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to open trade journal")
		}
		defer store.Close()
	}

	takeProfit, err := exitMethod(cfg.Trading.TakeProfitKind, cfg.Trading.TakeProfitValue)
	if err != nil {
		log.WithError(err).Fatal("Invalid take-profit method")
	}
	stopLoss, err := exitMethod(cfg.Trading.StopLossKind, cfg.Trading.StopLossValue)
	if err != nil {
		log.WithError(err).Fatal("Invalid stop-loss method")
	}

	eng := engine.New(engine.Config{
		Client:     client,
		UserStream: userStream,
		Signaler:   &engine.LevelCross{Level: cfg.Trading.SignalLevel},
		Journal:    journalOrNil(store),
		Logger:     log,
		Symbol:     cfg.Trading.Symbol,
		BaseAsset:  cfg.Trading.BaseAsset,
		QuoteAsset: cfg.Trading.QuoteAsset,
		TakeProfit: takeProfit,
		StopLoss:   stopLoss,
	})

	if err := eng.Startup(ctx); err != nil {
		log.WithError(err).Fatal("Startup sequence failed")
	}

	listenKey, err := eng.StartUserStream(ctx)
	if err != nil {
		log.WithError(err).Fatal("Failed to start user data stream")
	}
	defer func() {
		if err := eng.CloseUserStream(context.Background()); err != nil {
			log.WithError(err).Error("Failed to close user data stream")
		}
	}()

	apiServer := api.NewServer(eng, store, log, cfg.Server.Port, cfg.Server.JWTSecret)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start status server")
		}
	}()

	stream := binance.NewStreamClient(streamURL, func(ev binance.StreamEvent) error {
		return eng.HandleEvent(ctx, ev)
	}, log)

	subscriptions := []string{
		fmt.Sprintf("%s@kline_%s", strings.ToLower(cfg.Trading.Symbol), cfg.Trading.Interval),
		listenKey,
	}

	var run atomic.Bool
	run.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal")
		run.Store(false)
		if err := stream.Disconnect(); err != nil {
			log.WithError(err).Error("Failed to disconnect stream")
		}
		cancel()
	}()

	log.WithFields(logrus.Fields{
		"symbol":   cfg.Trading.Symbol,
		"interval": cfg.Trading.Interval,
	}).Info("Engine is running. Press Ctrl+C to stop.")

	// One reconnect attempt on stream loss; a second loss ends the process
	// so supervision restarts it clean.
	for attempt := 0; attempt < 2 && run.Load(); attempt++ {
		if err := stream.Connect(subscriptions); err != nil {
			log.WithError(err).Error("Stream connection failed")
			continue
		}
		err := stream.EventLoop(&run)
		if !run.Load() {
			break
		}
		// Clean closes and abrupt drops both classify as transport loss and
		// get the single reconnect; anything else is not recoverable here.
		if errors.Is(err, binance.ErrStreamClosed) || binance.IsKind(err, binance.KindTransport) {
			log.WithError(err).Warn("Stream lost, reconnecting once")
			continue
		}
		log.WithError(err).Error("Event loop failed")
		break
	}

	log.Info("Engine stopped")
}

func exitMethod(kind string, value float64) (engine.ExitMethod, error) {
	switch kind {
	case "ticks":
		return engine.Ticks(value), nil
	case "bips":
		return engine.Bips(value), nil
	default:
		return engine.ExitMethod{}, fmt.Errorf("unknown exit method %q", kind)
	}
}

// journalOrNil keeps a nil *journal.Store from becoming a non-nil interface.
func journalOrNil(store *journal.Store) engine.Journal {
	if store == nil {
		return nil
	}
	return store
}
