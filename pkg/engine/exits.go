package engine

import (
	"math"

	"github.com/0xBreath/lunar-engine/pkg/models"
)

// ExitKind selects how an exit distance is measured.
type ExitKind int

const (
	// ExitTicks measures in the smallest unit of price change ($0.01 per tick
	// for USD pairs, so 350 ticks = $3.50).
	ExitTicks ExitKind = iota
	// ExitBips measures in basis points (1 bip = 0.01% of price).
	ExitBips
)

// ExitMethod is the configured exit distance for one tracker.
type ExitMethod struct {
	Kind  ExitKind
	Value float64
}

func Ticks(n float64) ExitMethod { return ExitMethod{Kind: ExitTicks, Value: n} }
func Bips(n float64) ExitMethod  { return ExitMethod{Kind: ExitBips, Value: n} }

// Distance returns the exit distance in price units relative to origin.
func (m ExitMethod) Distance(origin float64) float64 {
	switch m.Kind {
	case ExitBips:
		return origin * m.Value / 10_000
	default:
		return m.Value / 100
	}
}

// CalcExit computes the exit price one distance away from origin, on the exit
// side: below for a short exit, above for a long exit.
func CalcExit(exitSide models.Side, method ExitMethod, origin float64) float64 {
	switch exitSide {
	case models.SideShort:
		return models.RoundPrice(origin - method.Distance(origin))
	default:
		return models.RoundPrice(origin + method.Distance(origin))
	}
}

// UpdateAction is the outcome of a take-profit check.
type UpdateAction int

const (
	// UpdateNone leaves the live exit order untouched.
	UpdateNone UpdateAction = iota
	// UpdateCancelAndReplace ratchets the exit: cancel the live order and
	// resubmit at the new trigger and price.
	UpdateCancelAndReplace
)

// TakeProfitState trails a price extreme that only moves favorably: higher
// for a short exit, lower for a long exit. Trigger and exit ratchet toward
// the extreme and never regress.
type TakeProfitState struct {
	Entry    float64
	Method   ExitMethod
	ExitSide models.Side
	// Trigger is the price extreme from which the exit is measured.
	Trigger float64
	// Exit is the limit price, one distance back toward entry from Trigger.
	Exit float64
}

// newTakeProfitState seeds the trigger two exit distances from entry and the
// exit one distance closer, so the first ratchet already locks in profit.
func newTakeProfitState(entry float64, method ExitMethod, exitSide models.Side) *TakeProfitState {
	var trigger float64
	switch exitSide {
	case models.SideShort:
		// Exiting a long: take profit sits above entry.
		trigger = models.RoundPrice(entry + 2*method.Distance(entry))
	default:
		// Exiting a short: take profit sits below entry.
		trigger = models.RoundPrice(entry - 2*method.Distance(entry))
	}
	return &TakeProfitState{
		Entry:    entry,
		Method:   method,
		ExitSide: exitSide,
		Trigger:  trigger,
		Exit:     CalcExit(exitSide, method, trigger),
	}
}

// Check ratchets the tracker against a new bar. Returns
// UpdateCancelAndReplace when the bar's favorable extreme moved beyond the
// current trigger; the caller reprices the live order from Trigger and Exit.
func (s *TakeProfitState) Check(bar models.Candle) UpdateAction {
	switch s.ExitSide {
	case models.SideShort:
		if bar.High > s.Trigger {
			s.Trigger = bar.High
			s.Exit = CalcExit(s.ExitSide, s.Method, bar.High)
			return UpdateCancelAndReplace
		}
	default:
		if bar.Low < s.Trigger {
			s.Trigger = bar.Low
			s.Exit = CalcExit(s.ExitSide, s.Method, bar.Low)
			return UpdateCancelAndReplace
		}
	}
	return UpdateNone
}

// StopLossState is fixed at entry: the stop does not trail. The trigger sits
// a quarter of the exit distance back toward entry so the stop order arms
// before price reaches the exit outright.
type StopLossState struct {
	Entry    float64
	Method   ExitMethod
	ExitSide models.Side
	Trigger  float64
	Exit     float64
}

func newStopLossState(entry float64, method ExitMethod, exitSide models.Side) *StopLossState {
	exit := CalcExit(exitSide, method, entry)
	quarter := math.Abs(exit-entry) / 4
	var trigger float64
	switch exitSide {
	case models.SideShort:
		// Exiting a long: stop sits below entry, trigger a quarter closer.
		trigger = exit + quarter
	default:
		trigger = exit - quarter
	}
	return &StopLossState{
		Entry:    entry,
		Method:   method,
		ExitSide: exitSide,
		Trigger:  trigger,
		Exit:     exit,
	}
}

// TakeProfitHandler owns the configured method and the per-position state.
// State is nil while no position is open.
type TakeProfitHandler struct {
	Method ExitMethod
	State  *TakeProfitState
}

func NewTakeProfitHandler(method ExitMethod) TakeProfitHandler {
	return TakeProfitHandler{Method: method}
}

// Init creates the tracker state for a position entered at entry on entrySide.
func (h *TakeProfitHandler) Init(entry float64, entrySide models.Side) *TakeProfitState {
	h.State = newTakeProfitState(entry, h.Method, entrySide.Opposite())
	return h.State
}

func (h *TakeProfitHandler) Reset() { h.State = nil }

// StopLossHandler owns the configured method and the per-position state.
type StopLossHandler struct {
	Method ExitMethod
	State  *StopLossState
}

func NewStopLossHandler(method ExitMethod) StopLossHandler {
	return StopLossHandler{Method: method}
}

func (h *StopLossHandler) Init(entry float64, entrySide models.Side) *StopLossState {
	h.State = newStopLossState(entry, h.Method, entrySide.Opposite())
	return h.State
}

func (h *StopLossHandler) Reset() { h.State = nil }
