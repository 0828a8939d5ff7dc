package binance

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/0xBreath/lunar-engine/pkg/models"
)

// Params is an ordered key=value list. Order matters: the HMAC signature is
// computed over the serialized string exactly as sent, so parameters must not
// be re-sorted the way url.Values would.
type Params []param

type param struct {
	Key   string
	Value string
}

func (p Params) Add(key, value string) Params {
	return append(p, param{Key: key, Value: value})
}

// Encode serializes the parameters as a canonical query string.
func (p Params) Encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// TradeRequest is one immutable order leg to submit. Zero price or trigger
// fields are omitted from the wire request.
type TradeRequest struct {
	Symbol        string
	ClientOrderID string
	Side          models.Side
	OrderType     models.OrderType
	Quantity      float64
	Price         float64
	TriggerPrice  float64
	TrailingDelta float64
	RecvWindow    int64
}

// Params builds the ordered request parameters for the order endpoint.
// Timestamp and signature are appended by the client at call time.
func (t TradeRequest) Params() Params {
	p := Params{}.
		Add("symbol", t.Symbol).
		Add("side", t.Side.Exchange()).
		Add("type", string(t.OrderType))
	switch t.OrderType {
	case models.OrderTypeLimit, models.OrderTypeStopLossLimit, models.OrderTypeTakeProfitLimit:
		p = p.Add("timeInForce", "GTC")
	}
	p = p.Add("quantity", formatFloat(t.Quantity))
	if t.Price != 0 {
		p = p.Add("price", formatFloat(t.Price))
	}
	if t.TrailingDelta != 0 {
		p = p.Add("trailingDelta", formatFloat(t.TrailingDelta))
	}
	if t.TriggerPrice != 0 {
		p = p.Add("stopPrice", formatFloat(t.TriggerPrice))
	}
	if t.ClientOrderID != "" {
		p = p.Add("newClientOrderId", t.ClientOrderID)
	}
	if t.RecvWindow != 0 {
		p = p.Add("recvWindow", strconv.FormatInt(t.RecvWindow, 10))
	}
	return p
}

func recvWindowParams(p Params, recvWindow int64) Params {
	if recvWindow != 0 {
		p = p.Add("recvWindow", strconv.FormatInt(recvWindow, 10))
	}
	return p
}
