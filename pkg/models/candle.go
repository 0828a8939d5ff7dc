package models

import (
	"math"
	"time"
)

// Candle is one finalized price bar. Candles are immutable once built; the
// engine keeps the previous and current bar to detect threshold crossovers.
type Candle struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// RoundTo rounds v to the given number of decimal places.
func RoundTo(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}

// RoundPrice rounds to the venue's price precision (2 decimals for USD pairs).
func RoundPrice(v float64) float64 {
	return RoundTo(v, 2)
}

// RoundQuantity rounds to the venue's base-asset quantity precision.
func RoundQuantity(v float64) float64 {
	return RoundTo(v, 5)
}
