package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/0xBreath/lunar-engine/pkg/binance"
	"github.com/0xBreath/lunar-engine/pkg/models"
)

// keepAliveInterval is how often the private channel's listen key is
// refreshed. Checked inside the event handler, not on a separate timer, so
// the single-writer discipline holds.
const keepAliveInterval = 30 * time.Minute

// orderRecvWindow is the validity window for bracket-leg requests.
const orderRecvWindow = 10_000

// recentTradeCap bounds the in-memory closed-trade history kept for the
// status API.
const recentTradeCap = 64

// Journal persists closed trades. The engine treats it as best-effort
// storage: journal failures are logged, never propagated into trade flow.
type Journal interface {
	Record(ctx context.Context, trade models.ClosedTrade) error
}

// Config wires the engine's collaborators.
type Config struct {
	Client     *binance.Client
	UserStream *binance.UserStream
	Signaler   Signaler
	Journal    Journal
	Logger     *logrus.Logger

	Symbol     string
	BaseAsset  string
	QuoteAsset string

	TakeProfit ExitMethod
	StopLoss   ExitMethod
}

// Engine composes the signed client, the bundle state machine and the exit
// trackers. One stream event loop is the sole driver of mutation: the mutex
// is taken once per event and held for the whole transition, REST round
// trips included, because order correctness matters more than stream
// throughput at one bar per multi-minute interval.
type Engine struct {
	client     *binance.Client
	userStream *binance.UserStream
	signaler   Signaler
	journal    Journal
	logger     *logrus.Logger

	symbol     string
	baseAsset  string
	quoteAsset string

	mu            sync.Mutex
	bundle        *Bundle
	assets        models.Assets
	prevCandle    *models.Candle
	candle        *models.Candle
	listenKey     string
	lastKeepAlive time.Time
	recentTrades  []models.ClosedTrade
}

func New(cfg Config) *Engine {
	return &Engine{
		client:        cfg.Client,
		userStream:    cfg.UserStream,
		signaler:      cfg.Signaler,
		journal:       cfg.Journal,
		logger:        cfg.Logger,
		symbol:        cfg.Symbol,
		baseAsset:     cfg.BaseAsset,
		quoteAsset:    cfg.QuoteAsset,
		bundle:        NewBundle(cfg.TakeProfit, cfg.StopLoss),
		lastKeepAlive: time.Now(),
	}
}

// Startup runs the one-time sequence before the event loop takes over:
// cancel every open order so the process starts flat, equalize holdings,
// fetch balances. A process restart never resumes a pre-existing bracket.
func (e *Engine) Startup(ctx context.Context) error {
	if err := e.validateSymbol(ctx); err != nil {
		return err
	}
	if _, err := e.client.CancelAllOpenOrders(ctx, e.symbol); err != nil {
		return err
	}
	if err := e.EqualizeAssets(ctx); err != nil {
		return err
	}
	if err := e.UpdateAssets(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.logAssets()
	e.mu.Unlock()
	return nil
}

// validateSymbol checks the venue lists the configured pair with the
// configured base and quote assets before any order goes out.
func (e *Engine) validateSymbol(ctx context.Context) error {
	info, err := e.client.ExchangeInformation(ctx, e.symbol)
	if err != nil {
		return err
	}
	for _, s := range info.Symbols {
		if s.Symbol != e.symbol {
			continue
		}
		if s.BaseAsset != e.baseAsset || s.QuoteAsset != e.quoteAsset {
			return binance.InvariantError("configured assets do not match the venue's symbol definition")
		}
		if s.Status != "TRADING" {
			return binance.InvariantError("symbol is not open for trading")
		}
		return nil
	}
	return binance.InvariantError("symbol not listed on the venue")
}

// StartUserStream obtains the private-channel listen key.
func (e *Engine) StartUserStream(ctx context.Context) (string, error) {
	key, err := e.userStream.Start(ctx)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	e.listenKey = key
	e.lastKeepAlive = time.Now()
	e.mu.Unlock()
	return key, nil
}

// CloseUserStream invalidates the listen key on shutdown.
func (e *Engine) CloseUserStream(ctx context.Context) error {
	e.mu.Lock()
	key := e.listenKey
	e.mu.Unlock()
	if key == "" {
		return nil
	}
	return e.userStream.Close(ctx, key)
}

// HandleEvent is the fixed dispatcher registered on the stream client. It
// owns all state mutation; no other goroutine writes engine state while the
// event loop runs.
func (e *Engine) HandleEvent(ctx context.Context, event binance.StreamEvent) error {
	e.keepAliveCheck(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev := event.(type) {
	case *binance.KlineEvent:
		return e.handleKline(ctx, ev)
	case *binance.OrderTradeEvent:
		return e.handleOrderTrade(ctx, ev)
	case *binance.AccountUpdateEvent:
		assets, err := ev.Assets(e.quoteAsset, e.baseAsset)
		if err != nil {
			return err
		}
		e.assets = assets
		e.logger.WithFields(logrus.Fields{
			"quote_free": assets.FreeQuote,
			"base_free":  assets.FreeBase,
		}).Debug("Account update")
	case *binance.BalanceUpdateEvent:
		e.logger.WithFields(logrus.Fields{
			"asset": ev.Asset,
			"delta": ev.Delta,
		}).Debug("Balance update")
	}
	return nil
}

// keepAliveCheck refreshes the listen key when enough wall-clock time has
// elapsed. Runs before the current event is processed.
func (e *Engine) keepAliveCheck(ctx context.Context) {
	e.mu.Lock()
	due := e.listenKey != "" && time.Since(e.lastKeepAlive) > keepAliveInterval
	key := e.listenKey
	if due {
		e.lastKeepAlive = time.Now()
	}
	e.mu.Unlock()
	if !due {
		return
	}
	if err := e.userStream.KeepAlive(ctx, key); err != nil {
		e.logger.WithError(err).Error("Failed to keep user stream alive")
		return
	}
	e.logger.Info("User stream keep-alive sent")
}

func (e *Engine) handleKline(ctx context.Context, ev *binance.KlineEvent) error {
	if !ev.Kline.Final {
		return nil
	}
	candle, err := ev.Candle()
	if err != nil {
		return err
	}

	switch {
	case e.prevCandle == nil && e.candle == nil:
		e.prevCandle = &candle
	case e.prevCandle != nil && e.candle == nil:
		e.candle = &candle
		return e.ProcessCandle(ctx, *e.prevCandle, candle)
	case e.prevCandle == nil && e.candle != nil:
		e.logger.Error("Current candle set without a previous candle")
	default:
		prev := *e.candle
		e.prevCandle = &prev
		e.candle = &candle
		return e.ProcessCandle(ctx, prev, candle)
	}
	return nil
}

// ProcessCandle drives the state machine from one finalized bar. Caller must
// hold the engine lock.
func (e *Engine) ProcessCandle(ctx context.Context, prev, curr models.Candle) error {
	if e.bundle.Empty() {
		timestamp := curr.Date.UnixMilli()
		switch e.signaler.Signal(prev, curr) {
		case SignalLong:
			mtxSignals.WithLabelValues("long").Inc()
			return e.handleSignal(ctx, models.SideLong, curr, timestamp)
		case SignalShort:
			mtxSignals.WithLabelValues("short").Inc()
			return e.handleSignal(ctx, models.SideShort, curr, timestamp)
		}
	}
	// An open bracket ignores new signals; each closed bar still drives
	// the trailing tracker.
	return e.checkTrailingTakeProfit(ctx, curr)
}

// handleSignal opens a bracket: sizes the entry, initializes both exit
// trackers from the intended entry price, stages the three legs and submits
// the entry. Any submission failure resets to flat immediately.
func (e *Engine) handleSignal(ctx context.Context, side models.Side, bar models.Candle, timestamp int64) error {
	entry, takeProfit, stopLoss, err := e.buildBracket(side, bar, timestamp)
	if err != nil {
		return err
	}
	e.bundle.SetEntry(entry)
	e.bundle.SetExits(takeProfit, stopLoss)
	e.logBundle()
	if _, err := e.tradeOrReset(ctx, entry); err != nil {
		return err
	}
	mtxOrders.WithLabelValues(string(models.LegEntry)).Inc()
	return nil
}

func (e *Engine) buildBracket(side models.Side, bar models.Candle, timestamp int64) (entry, takeProfit, stopLoss binance.TradeRequest, err error) {
	if e.bundle.TakeProfitHandler.State != nil || e.bundle.StopLossHandler.State != nil {
		e.logger.Error("Exit trackers initialized before order placement")
		err = binance.InvariantError("exit trackers initialized before order placement")
		return
	}

	qty := e.tradeQty(side, bar)
	limit := models.RoundPrice(bar.Close)
	e.logger.WithFields(logrus.Fields{
		"side":  side,
		"price": limit,
		"qty":   qty,
		"date":  bar.Date,
	}).Info("Signal fired, opening bracket")

	entry = binance.TradeRequest{
		Symbol:        e.symbol,
		ClientOrderID: models.CorrelationID(timestamp, models.LegEntry),
		Side:          side,
		OrderType:     models.OrderTypeLimit,
		Quantity:      qty,
		Price:         limit,
		RecvWindow:    orderRecvWindow,
	}

	exitSide := side.Opposite()
	tpState := e.bundle.TakeProfitHandler.Init(limit, side)
	takeProfit = binance.TradeRequest{
		Symbol:        e.symbol,
		ClientOrderID: models.CorrelationID(timestamp, models.LegTakeProfit),
		Side:          exitSide,
		OrderType:     models.OrderTypeTakeProfitLimit,
		Quantity:      qty,
		Price:         tpState.Exit,
		TriggerPrice:  tpState.Trigger,
		RecvWindow:    orderRecvWindow,
	}

	slState := e.bundle.StopLossHandler.Init(limit, side)
	stopLoss = binance.TradeRequest{
		Symbol:        e.symbol,
		ClientOrderID: models.CorrelationID(timestamp, models.LegStopLoss),
		Side:          exitSide,
		OrderType:     models.OrderTypeStopLossLimit,
		Quantity:      qty,
		Price:         slState.Exit,
		TriggerPrice:  slState.Trigger,
		RecvWindow:    orderRecvWindow,
	}
	return
}

// tradeOrReset submits one leg; on failure the whole bracket is reset so the
// engine never believes a position exists that the venue rejected.
func (e *Engine) tradeOrReset(ctx context.Context, trade binance.TradeRequest) (*binance.OrderAck, error) {
	ack, err := e.client.PlaceOrder(ctx, trade)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"leg":  models.LegTag(trade.ClientOrderID),
			"side": trade.Side,
		}).Error("Order submission failed, resetting")
		if resetErr := e.reset(ctx); resetErr != nil {
			e.logger.WithError(resetErr).Error("Reset after failed submission also failed")
		}
		return nil, err
	}
	return ack, nil
}

func (e *Engine) handleOrderTrade(ctx context.Context, ev *binance.OrderTradeEvent) error {
	info, err := ev.TradeInfo()
	if err != nil {
		return err
	}
	leg := e.bundle.ApplyEvent(info)
	if leg == "" {
		e.logger.WithField("client_order_id", info.ClientOrderID).Debug("Order event for unknown leg")
		return nil
	}
	e.logger.WithFields(logrus.Fields{
		"leg":    leg,
		"status": info.Status,
		"price":  info.Price,
	}).Info("Order update")
	e.logBundle()
	return e.reconcile(ctx)
}

// reconcile executes the transition the bundle decided on.
func (e *Engine) reconcile(ctx context.Context) error {
	action := e.bundle.Reconcile()
	switch action {
	case ActionSubmitExits:
		takeProfit := *e.bundle.TakeProfit.Pending
		stopLoss := *e.bundle.StopLoss.Pending
		if _, err := e.tradeOrReset(ctx, takeProfit); err != nil {
			return err
		}
		mtxOrders.WithLabelValues(string(models.LegTakeProfit)).Inc()
		if _, err := e.tradeOrReset(ctx, stopLoss); err != nil {
			return err
		}
		mtxOrders.WithLabelValues(string(models.LegStopLoss)).Inc()
		e.bundle.MarkExitsSubmitted()

	case ActionTakeProfitFilled:
		entry, takeProfit := e.bundle.Entry.Active, e.bundle.TakeProfit.Active
		pnl := PnlPercent(entry.Side, entry.Price, takeProfit.Price)
		e.logger.WithField("pnl_percent", pnl).Info("Take profit filled, canceling stop loss")
		e.recordClose(ctx, *entry, *takeProfit, models.LegTakeProfit, pnl)
		return e.reset(ctx)

	case ActionStopLossFilled:
		entry, stopLoss := e.bundle.Entry.Active, e.bundle.StopLoss.Active
		pnl := PnlPercent(entry.Side, entry.Price, stopLoss.Price)
		e.logger.WithField("pnl_percent", pnl).Info("Stop loss filled, canceling take profit")
		e.recordClose(ctx, *entry, *stopLoss, models.LegStopLoss, pnl)
		return e.reset(ctx)

	case ActionInconsistent:
		e.logger.Error("Bracket legs in an impossible state, forcing reset")
		return e.reset(ctx)

	default:
		e.logger.WithField("action", action.String()).Debug("Reconciled")
	}
	return nil
}

// checkTrailingTakeProfit reprices the live take-profit order when the
// tracker ratcheted. A recomputed exit equal to the previous one skips the
// cancel-and-replace round trip entirely.
func (e *Engine) checkTrailingTakeProfit(ctx context.Context, bar models.Candle) error {
	state := e.bundle.TakeProfitHandler.State
	if state == nil {
		return nil
	}
	if state.Check(bar) == UpdateNone {
		return nil
	}
	takeProfit := e.bundle.TakeProfit.Active
	if takeProfit == nil {
		e.logger.Debug("Take profit not yet active, skipping trail update")
		return nil
	}
	if takeProfit.Status != models.OrderStatusNew && takeProfit.Status != models.OrderStatusPartiallyFilled {
		return nil
	}
	if state.Exit == takeProfit.Price {
		e.logger.Debug("Take profit price unchanged, skipping replace")
		return nil
	}

	canceled, err := e.client.CancelOrder(ctx, e.symbol, takeProfit.OrderID)
	if err != nil {
		return err
	}
	clientOrderID := takeProfit.ClientOrderID
	if canceled != nil && canceled.OrigClientOrderID != "" {
		clientOrderID = canceled.OrigClientOrderID
	}
	e.logger.WithFields(logrus.Fields{
		"old_exit": takeProfit.Price,
		"new_exit": state.Exit,
		"trigger":  state.Trigger,
	}).Info("Trailing take profit, cancel and replace")

	replacement := binance.TradeRequest{
		Symbol:        e.symbol,
		ClientOrderID: clientOrderID,
		Side:          state.ExitSide,
		OrderType:     models.OrderTypeTakeProfitLimit,
		Quantity:      takeProfit.Quantity,
		Price:         state.Exit,
		TriggerPrice:  state.Trigger,
		RecvWindow:    orderRecvWindow,
	}
	if _, err := e.tradeOrReset(ctx, replacement); err != nil {
		return err
	}
	mtxTrailUpdates.Inc()
	return nil
}

// recordClose logs the finished bracket, updates metrics and writes the
// journal row.
func (e *Engine) recordClose(ctx context.Context, entry, exit models.TradeInfo, exitLeg models.Leg, pnl float64) {
	trade := models.ClosedTrade{
		ID:         uuid.NewString(),
		BundleID:   models.BundleID(entry.ClientOrderID),
		Symbol:     e.symbol,
		Side:       entry.Side,
		Quantity:   entry.Quantity,
		EntryPrice: entry.Price,
		ExitPrice:  exit.Price,
		ExitLeg:    exitLeg,
		PnlPercent: pnl,
		ClosedAt:   time.UnixMilli(exit.EventTime),
	}
	e.recentTrades = append(e.recentTrades, trade)
	if len(e.recentTrades) > recentTradeCap {
		e.recentTrades = e.recentTrades[len(e.recentTrades)-recentTradeCap:]
	}
	mtxClosedTrades.WithLabelValues(string(exitLeg)).Inc()
	mtxLastPnl.Set(pnl)
	if e.journal == nil {
		return
	}
	if err := e.journal.Record(ctx, trade); err != nil {
		e.logger.WithError(err).Error("Failed to journal closed trade")
	}
}

// reset clears the bundle and both trackers, then best-effort cancels every
// open order so no orphaned leg survives. Caller must hold the lock.
func (e *Engine) reset(ctx context.Context) error {
	e.bundle.Reset()
	mtxResets.Inc()
	_, err := e.client.CancelAllOpenOrders(ctx, e.symbol)
	return err
}

// Reset is the locked variant for callers outside the event loop.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reset(ctx)
}

func (e *Engine) logBundle() {
	slotStatus := func(s Slot) string {
		switch {
		case s.IsActive():
			return string(s.Active.Status)
		case s.IsPending():
			return "Pending"
		default:
			return "None"
		}
	}
	fields := logrus.Fields{
		"entry":       slotStatus(e.bundle.Entry),
		"take_profit": slotStatus(e.bundle.TakeProfit),
		"stop_loss":   slotStatus(e.bundle.StopLoss),
	}
	if e.bundle.Entry.IsActive() {
		fields["bundle_id"] = models.BundleID(e.bundle.Entry.Active.ClientOrderID)
		fields["side"] = e.bundle.Entry.Active.Side
		fields["entry_price"] = e.bundle.Entry.Active.Price
	} else if e.bundle.Entry.IsPending() {
		fields["bundle_id"] = models.BundleID(e.bundle.Entry.Pending.ClientOrderID)
		fields["side"] = e.bundle.Entry.Pending.Side
	}
	if state := e.bundle.TakeProfitHandler.State; state != nil {
		fields["take_profit_exit"] = state.Exit
	}
	if state := e.bundle.StopLossHandler.State; state != nil {
		fields["stop_loss_exit"] = state.Exit
	}
	e.logger.WithFields(fields).Info("Active order")
}

// LegSnapshot is one leg's externally visible state.
type LegSnapshot struct {
	State         string  `json:"state"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
	OrderID       int64   `json:"order_id,omitempty"`
	Price         float64 `json:"price,omitempty"`
	Status        string  `json:"status,omitempty"`
}

// Snapshot is the read-only view served by the status API.
type Snapshot struct {
	Symbol            string        `json:"symbol"`
	Assets            models.Assets `json:"assets"`
	Entry             LegSnapshot   `json:"entry"`
	TakeProfit        LegSnapshot   `json:"take_profit"`
	StopLoss          LegSnapshot   `json:"stop_loss"`
	TakeProfitExit    float64       `json:"take_profit_exit,omitempty"`
	TakeProfitTrigger float64       `json:"take_profit_trigger,omitempty"`
	StopLossExit      float64       `json:"stop_loss_exit,omitempty"`
	StopLossTrigger   float64       `json:"stop_loss_trigger,omitempty"`
}

func snapshotSlot(s Slot) LegSnapshot {
	switch {
	case s.IsActive():
		return LegSnapshot{
			State:         "active",
			ClientOrderID: s.Active.ClientOrderID,
			OrderID:       s.Active.OrderID,
			Price:         s.Active.Price,
			Status:        string(s.Active.Status),
		}
	case s.IsPending():
		return LegSnapshot{
			State:         "pending",
			ClientOrderID: s.Pending.ClientOrderID,
			Price:         s.Pending.Price,
		}
	default:
		return LegSnapshot{State: "absent"}
	}
}

// Snapshot returns the current engine state for the status API.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		Symbol:     e.symbol,
		Assets:     e.assets,
		Entry:      snapshotSlot(e.bundle.Entry),
		TakeProfit: snapshotSlot(e.bundle.TakeProfit),
		StopLoss:   snapshotSlot(e.bundle.StopLoss),
	}
	if state := e.bundle.TakeProfitHandler.State; state != nil {
		snap.TakeProfitExit = state.Exit
		snap.TakeProfitTrigger = state.Trigger
	}
	if state := e.bundle.StopLossHandler.State; state != nil {
		snap.StopLossExit = state.Exit
		snap.StopLossTrigger = state.Trigger
	}
	return snap
}

// RecentTrades returns the most recently closed brackets, newest last.
func (e *Engine) RecentTrades() []models.ClosedTrade {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.ClosedTrade, len(e.recentTrades))
	copy(out, e.recentTrades)
	return out
}

// Price proxies the unsigned last-price lookup for the status API.
func (e *Engine) Price(ctx context.Context) (float64, error) {
	return e.client.Price(ctx, e.symbol)
}

// Symbol returns the traded pair.
func (e *Engine) Symbol() string { return e.symbol }

// OpenOrders proxies the signed open-order lookup for the status API.
func (e *Engine) OpenOrders(ctx context.Context) ([]binance.HistoricalOrder, error) {
	return e.client.OpenOrders(ctx, e.symbol)
}
