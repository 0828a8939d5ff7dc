package engine

import (
	"github.com/0xBreath/lunar-engine/pkg/binance"
	"github.com/0xBreath/lunar-engine/pkg/models"
)

// Slot tracks one bracket leg: absent, pending (built but not yet submitted)
// or active (submitted, carrying the venue order id and live status).
type Slot struct {
	Pending *binance.TradeRequest
	Active  *models.TradeInfo
}

func (s Slot) Absent() bool    { return s.Pending == nil && s.Active == nil }
func (s Slot) IsPending() bool { return s.Pending != nil && s.Active == nil }
func (s Slot) IsActive() bool  { return s.Active != nil }

// Status returns the venue-reported status for an active slot.
func (s Slot) Status() (models.OrderStatus, bool) {
	if s.Active == nil {
		return "", false
	}
	return s.Active.Status, true
}

func (s *Slot) clear() {
	s.Pending = nil
	s.Active = nil
}

// Action is the reconcile decision. The bundle only decides; the engine
// executes the side effects.
type Action int

const (
	// ActionNone: no bundle, nothing to do.
	ActionNone Action = iota
	// ActionAwaitEntry: entry submitted but not yet acknowledged.
	ActionAwaitEntry
	// ActionSubmitExits: entry acknowledged, exit legs still pending.
	ActionSubmitExits
	// ActionHold: position live, let the trailing tracker drive repricing.
	ActionHold
	// ActionTakeProfitFilled: cancel the stop loss, record PnL, reset.
	ActionTakeProfitFilled
	// ActionStopLossFilled: cancel the take profit, record PnL, reset.
	ActionStopLossFilled
	// ActionInconsistent: leg statuses the state machine can never produce.
	// Resolved by cancel-all and reset, never a panic.
	ActionInconsistent
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionAwaitEntry:
		return "await_entry"
	case ActionSubmitExits:
		return "submit_exits"
	case ActionHold:
		return "hold"
	case ActionTakeProfitFilled:
		return "take_profit_filled"
	case ActionStopLossFilled:
		return "stop_loss_filled"
	case ActionInconsistent:
		return "inconsistent"
	}
	return "unknown"
}

// Bundle is the unit of position tracking: the three legs of the current
// bracket plus both exit trackers. At most one bundle exists system-wide.
type Bundle struct {
	Entry      Slot
	TakeProfit Slot
	StopLoss   Slot

	TakeProfitHandler TakeProfitHandler
	StopLossHandler   StopLossHandler

	// exitsSubmitted guards the window between submitting the exit legs and
	// their stream acknowledgements flipping the slots to active.
	exitsSubmitted bool
}

func NewBundle(takeProfit, stopLoss ExitMethod) *Bundle {
	return &Bundle{
		TakeProfitHandler: NewTakeProfitHandler(takeProfit),
		StopLossHandler:   NewStopLossHandler(stopLoss),
	}
}

// Empty reports whether no bracket is pending or active.
func (b *Bundle) Empty() bool {
	return b.Entry.Absent() && b.TakeProfit.Absent() && b.StopLoss.Absent()
}

// SetEntry stages the entry leg as pending.
func (b *Bundle) SetEntry(entry binance.TradeRequest) {
	b.Entry = Slot{Pending: &entry}
}

// SetExits stages both exit legs as pending. They move together: never one
// without the other.
func (b *Bundle) SetExits(takeProfit, stopLoss binance.TradeRequest) {
	b.TakeProfit = Slot{Pending: &takeProfit}
	b.StopLoss = Slot{Pending: &stopLoss}
}

// id returns the current bracket's bundle identity, taken from the entry
// leg's client order id. Empty while no bracket is staged.
func (b *Bundle) id() string {
	switch {
	case b.Entry.IsActive():
		return models.BundleID(b.Entry.Active.ClientOrderID)
	case b.Entry.IsPending():
		return models.BundleID(b.Entry.Pending.ClientOrderID)
	}
	return ""
}

// ApplyEvent matches the event's correlation id to a leg of the current
// bracket and marks that slot active with the reported status. Both ends of
// the id are checked: an unknown leg suffix or a bundle prefix from an
// earlier bracket is ignored, so equalize fills and the cancel echoes of a
// previous bracket cannot corrupt this one.
func (b *Bundle) ApplyEvent(info models.TradeInfo) models.Leg {
	id := b.id()
	if id == "" || models.BundleID(info.ClientOrderID) != id {
		return ""
	}
	switch models.Leg(models.LegTag(info.ClientOrderID)) {
	case models.LegEntry:
		b.Entry = Slot{Active: &info}
		return models.LegEntry
	case models.LegTakeProfit:
		b.TakeProfit = Slot{Active: &info}
		return models.LegTakeProfit
	case models.LegStopLoss:
		b.StopLoss = Slot{Active: &info}
		return models.LegStopLoss
	}
	return ""
}

// Reconcile inspects the three legs and decides the next transition.
func (b *Bundle) Reconcile() Action {
	if b.Empty() {
		return ActionNone
	}
	if b.Entry.IsPending() {
		return ActionAwaitEntry
	}
	if !b.Entry.IsActive() {
		return ActionInconsistent
	}
	if b.TakeProfit.IsPending() && b.StopLoss.IsPending() {
		if b.exitsSubmitted {
			return ActionHold
		}
		return ActionSubmitExits
	}
	if b.TakeProfit.IsActive() && b.StopLoss.IsActive() {
		tpFilled := b.TakeProfit.Active.Status == models.OrderStatusFilled
		slFilled := b.StopLoss.Active.Status == models.OrderStatusFilled
		switch {
		case tpFilled && slFilled:
			return ActionInconsistent
		case tpFilled:
			return ActionTakeProfitFilled
		case slFilled:
			return ActionStopLossFilled
		default:
			return ActionHold
		}
	}
	if b.TakeProfit.IsActive() != b.StopLoss.IsActive() {
		// One exit acknowledged before the other; transient during submission.
		return ActionHold
	}
	return ActionInconsistent
}

// Reset clears all three slots and both exit-tracker states. The caller must
// follow with a best-effort cancel of all open orders so no orphaned leg
// survives.
func (b *Bundle) Reset() {
	b.Entry.clear()
	b.TakeProfit.clear()
	b.StopLoss.clear()
	b.exitsSubmitted = false
	b.TakeProfitHandler.Reset()
	b.StopLossHandler.Reset()
}

// MarkExitsSubmitted records that both exit legs went out; Reconcile stops
// emitting ActionSubmitExits until the next reset.
func (b *Bundle) MarkExitsSubmitted() { b.exitsSubmitted = true }

// PnlPercent is the percent return of a closed position, sign-adjusted for
// side.
func PnlPercent(side models.Side, entry, exit float64) float64 {
	if entry == 0 {
		return 0
	}
	var pnl float64
	switch side {
	case models.SideLong:
		pnl = (exit - entry) / entry * 100
	default:
		pnl = (entry - exit) / entry * 100
	}
	return models.RoundTo(pnl, 5)
}
