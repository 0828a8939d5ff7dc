package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/0xBreath/lunar-engine/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS closed_trades (
	id          TEXT PRIMARY KEY,
	bundle_id   TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	quantity    DOUBLE PRECISION NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	exit_price  DOUBLE PRECISION NOT NULL,
	exit_leg    TEXT NOT NULL,
	pnl_percent DOUBLE PRECISION NOT NULL,
	closed_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS closed_trades_closed_at_idx ON closed_trades (closed_at DESC);
`

// Store persists closed trades to Postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

// Open connects to the database and ensures the schema exists.
func Open(ctx context.Context, dsn string, logger *logrus.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to journal database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure journal schema: %w", err)
	}
	logger.Info("Trade journal connected")
	return &Store{pool: pool, logger: logger}, nil
}

// Record inserts one closed trade. Replays of the same trade ID are ignored.
func (s *Store) Record(ctx context.Context, trade models.ClosedTrade) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO closed_trades
			(id, bundle_id, symbol, side, quantity, entry_price, exit_price, exit_leg, pnl_percent, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		trade.ID, trade.BundleID, trade.Symbol, string(trade.Side), trade.Quantity,
		trade.EntryPrice, trade.ExitPrice, string(trade.ExitLeg), trade.PnlPercent, trade.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record closed trade %s: %w", trade.ID, err)
	}
	return nil
}

// Recent returns the latest closed trades, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.ClosedTrade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, bundle_id, symbol, side, quantity, entry_price, exit_price, exit_leg, pnl_percent, closed_at
		FROM closed_trades
		ORDER BY closed_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed trades: %w", err)
	}
	defer rows.Close()

	var trades []models.ClosedTrade
	for rows.Next() {
		var t models.ClosedTrade
		var side, exitLeg string
		if err := rows.Scan(&t.ID, &t.BundleID, &t.Symbol, &side, &t.Quantity,
			&t.EntryPrice, &t.ExitPrice, &exitLeg, &t.PnlPercent, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan closed trade: %w", err)
		}
		t.Side = models.Side(side)
		t.ExitLeg = models.Leg(exitLeg)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
