package models

import (
	"time"
)

// Assets holds the free and locked balances for the traded pair. Refreshed on
// demand from the exchange and never persisted beyond the current computation.
type Assets struct {
	FreeQuote   float64 `json:"free_quote"`
	LockedQuote float64 `json:"locked_quote"`
	FreeBase    float64 `json:"free_base"`
	LockedBase  float64 `json:"locked_base"`
}

// ClosedTrade is one completed bracket, recorded when an exit leg fills.
type ClosedTrade struct {
	ID         string    `json:"id"`
	BundleID   string    `json:"bundle_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	ExitLeg    Leg       `json:"exit_leg"`
	PnlPercent float64   `json:"pnl_percent"`
	ClosedAt   time.Time `json:"closed_at"`
}
