package engine

import (
	"github.com/0xBreath/lunar-engine/pkg/models"
)

// Signal is a directional trading condition.
type Signal int

const (
	SignalNone Signal = iota
	SignalLong
	SignalShort
)

// Signaler decides whether a long or short condition holds between two
// consecutive finalized bars. Implementations are pure: they must not issue
// network calls or mutate engine state. The production generator lives
// outside this module; LevelCross ships so the binary runs without it.
type Signaler interface {
	Signal(prev, curr models.Candle) Signal
}

// LevelCross signals when consecutive closes cross a fixed price level:
// long on an upward cross, short on a downward cross.
type LevelCross struct {
	Level float64
}

func (l LevelCross) Signal(prev, curr models.Candle) Signal {
	switch {
	case prev.Close <= l.Level && curr.Close > l.Level:
		return SignalLong
	case prev.Close >= l.Level && curr.Close < l.Level:
		return SignalShort
	}
	return SignalNone
}
