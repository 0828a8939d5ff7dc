package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Side string

const (
	SideLong  Side = "Long"
	SideShort Side = "Short"
)

// Opposite returns the exit side for a position entered on s.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Exchange returns the venue's wire representation of the side.
func (s Side) Exchange() string {
	if s == SideLong {
		return "BUY"
	}
	return "SELL"
}

func ParseSide(s string) (Side, error) {
	switch s {
	case "BUY", "Long":
		return SideLong, nil
	case "SELL", "Short":
		return SideShort, nil
	}
	return "", fmt.Errorf("invalid order side %q", s)
}

type OrderType string

const (
	OrderTypeLimit           OrderType = "LIMIT"
	OrderTypeMarket          OrderType = "MARKET"
	OrderTypeStopLossLimit   OrderType = "STOP_LOSS_LIMIT"
	OrderTypeTakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
)

func ParseOrderType(s string) (OrderType, error) {
	switch OrderType(s) {
	case OrderTypeLimit, OrderTypeMarket, OrderTypeStopLossLimit, OrderTypeTakeProfitLimit:
		return OrderType(s), nil
	}
	return "", fmt.Errorf("invalid order type %q", s)
}

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusPendingCancel   OrderStatus = "PENDING_CANCEL"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case OrderStatusNew, OrderStatusPartiallyFilled, OrderStatusFilled,
		OrderStatusCanceled, OrderStatusPendingCancel, OrderStatusRejected,
		OrderStatusExpired:
		return OrderStatus(s), nil
	}
	return "", fmt.Errorf("invalid order status %q", s)
}

// Terminal reports whether the status is final on the exchange side.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// Leg identifies one order within a bracket.
type Leg string

const (
	LegEntry      Leg = "ENTRY"
	LegTakeProfit Leg = "TAKE_PROFIT"
	LegStopLoss   Leg = "STOP_LOSS"
)

// CorrelationID builds the client order id for one bracket leg. The prefix
// before the first dash is the bundle identity (entry timestamp in ms), the
// suffix after the last dash names the leg.
func CorrelationID(timestampMs int64, leg Leg) string {
	return fmt.Sprintf("%d-%s", timestampMs, leg)
}

// BundleID returns the bundle identity portion of a correlation id.
func BundleID(correlationID string) string {
	if i := strings.Index(correlationID, "-"); i >= 0 {
		return correlationID[:i]
	}
	return correlationID
}

// LegTag returns the leg portion of a correlation id.
func LegTag(correlationID string) string {
	if i := strings.LastIndex(correlationID, "-"); i >= 0 {
		return correlationID[i+1:]
	}
	return correlationID
}

// TradeInfo is the exchange-reported state of a submitted leg.
type TradeInfo struct {
	ClientOrderID string
	OrderID       int64
	OrderType     OrderType
	Status        OrderStatus
	EventTime     int64
	Quantity      float64
	Price         float64
	Side          Side
}

// Timestamp returns the current wall clock as a millisecond UNIX epoch,
// formatted the way the venue expects it.
func Timestamp() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
