package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/0xBreath/lunar-engine/internal/journal"
	"github.com/0xBreath/lunar-engine/pkg/engine"
)

const recentTradeLimit = 100

type Server struct {
	engine    *engine.Engine
	journal   *journal.Store
	logger    *logrus.Logger
	port      int
	jwtSecret []byte
}

// NewServer builds the status server. journal may be nil, in which case the
// trades endpoint serves the engine's in-memory history. An empty jwtSecret
// disables authentication.
func NewServer(eng *engine.Engine, store *journal.Store, logger *logrus.Logger, port int, jwtSecret string) *Server {
	return &Server{
		engine:    eng,
		journal:   store,
		logger:    logger,
		port:      port,
		jwtSecret: []byte(jwtSecret),
	}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Unauthenticated surface
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	// Authenticated surface
	mux.Handle("/api/status", s.auth(s.handleStatus))
	mux.Handle("/api/account", s.auth(s.handleAccount))
	mux.Handle("/api/price", s.auth(s.handlePrice))
	mux.Handle("/api/orders", s.auth(s.handleOrders))
	mux.Handle("/api/trades", s.auth(s.handleTrades))

	handler := corsMiddleware(mux)

	s.logger.Infof("Starting status server on port %d", s.port)
	return http.ListenAndServe(fmt.Sprintf(":%d", s.port), handler)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// auth verifies a bearer token signed with the shared HMAC secret.
func (s *Server) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.jwtSecret) == 0 {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			http.Error(w, "Missing bearer token", http.StatusUnauthorized)
			return
		}
		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			s.logger.WithError(err).Debug("Rejected status request")
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"symbol":    s.engine.Symbol(),
		"timestamp": time.Now().UTC(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.engine.Assets())
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	price, err := s.engine.Price(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": s.engine.Symbol(),
		"price":  price,
	})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orders, err := s.engine.OpenOrders(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	s.writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.journal != nil {
		trades, err := s.journal.Recent(r.Context(), recentTradeLimit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, http.StatusOK, trades)
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.RecentTrades())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
