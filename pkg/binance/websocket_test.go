package binance

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/0xBreath/lunar-engine/pkg/models"
)

func collectingStream(t *testing.T) (*StreamClient, *[]StreamEvent) {
	t.Helper()
	var events []StreamEvent
	client := NewStreamClient("", func(ev StreamEvent) error {
		events = append(events, ev)
		return nil
	}, testLogger())
	return client, &events
}

const klineFrame = `{
	"stream": "btcusd@kline_30m",
	"data": {
		"e": "kline",
		"E": 1700000001000,
		"s": "BTCUSD",
		"k": {
			"t": 1700000000000,
			"T": 1700001799999,
			"s": "BTCUSD",
			"i": "30m",
			"o": "100.00",
			"c": "101.50",
			"h": "102.00",
			"l": "99.50",
			"v": "12.345",
			"x": true
		}
	}
}`

func TestHandleFrameKline(t *testing.T) {
	client, events := collectingStream(t)

	if err := client.handleFrame([]byte(klineFrame)); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}
	if len(*events) != 1 {
		t.Fatalf("dispatched %d events, want 1", len(*events))
	}
	ev, ok := (*events)[0].(*KlineEvent)
	if !ok {
		t.Fatalf("event type = %T, want *KlineEvent", (*events)[0])
	}
	if !ev.Kline.Final {
		t.Error("kline should be final")
	}

	candle, err := ev.Candle()
	if err != nil {
		t.Fatalf("Candle: %v", err)
	}
	if candle.Close != 101.50 || candle.High != 102.00 || candle.Low != 99.50 {
		t.Errorf("candle = %+v", candle)
	}
	if candle.Date.UnixMilli() != 1700000000000 {
		t.Errorf("candle date = %v", candle.Date)
	}
}

func TestHandleFrameExecutionReport(t *testing.T) {
	client, events := collectingStream(t)

	frame := `{
		"stream": "listen-key-stream",
		"data": {
			"e": "executionReport",
			"E": 1700000002000,
			"s": "BTCUSD",
			"c": "1700000000000-TAKE_PROFIT",
			"S": "SELL",
			"o": "TAKE_PROFIT_LIMIT",
			"q": "0.25",
			"p": "103.50",
			"X": "FILLED",
			"i": 77,
			"T": 1700000002000
		}
	}`
	if err := client.handleFrame([]byte(frame)); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}
	ev, ok := (*events)[0].(*OrderTradeEvent)
	if !ok {
		t.Fatalf("event type = %T, want *OrderTradeEvent", (*events)[0])
	}

	info, err := ev.TradeInfo()
	if err != nil {
		t.Fatalf("TradeInfo: %v", err)
	}
	if info.ClientOrderID != "1700000000000-TAKE_PROFIT" {
		t.Errorf("ClientOrderID = %q", info.ClientOrderID)
	}
	if info.Status != models.OrderStatusFilled {
		t.Errorf("Status = %v, want FILLED", info.Status)
	}
	if info.Side != models.SideShort {
		t.Errorf("Side = %v, want Short", info.Side)
	}
	if info.Price != 103.50 || info.Quantity != 0.25 || info.OrderID != 77 {
		t.Errorf("info = %+v", info)
	}
	if models.LegTag(info.ClientOrderID) != string(models.LegTakeProfit) {
		t.Errorf("leg tag = %q", models.LegTag(info.ClientOrderID))
	}
}

func TestHandleFrameAccountPosition(t *testing.T) {
	client, events := collectingStream(t)

	frame := `{
		"e": "outboundAccountPosition",
		"E": 1700000003000,
		"u": 1700000003000,
		"B": [
			{"a": "USD", "f": "1000.50", "l": "10.00"},
			{"a": "BTC", "f": "0.75", "l": "0.25"}
		]
	}`
	if err := client.handleFrame([]byte(frame)); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}
	ev, ok := (*events)[0].(*AccountUpdateEvent)
	if !ok {
		t.Fatalf("event type = %T, want *AccountUpdateEvent", (*events)[0])
	}
	assets, err := ev.Assets("USD", "BTC")
	if err != nil {
		t.Fatalf("Assets: %v", err)
	}
	if assets.FreeQuote != 1000.50 || assets.LockedQuote != 10.00 {
		t.Errorf("quote = %v/%v", assets.FreeQuote, assets.LockedQuote)
	}
	if assets.FreeBase != 0.75 || assets.LockedBase != 0.25 {
		t.Errorf("base = %v/%v", assets.FreeBase, assets.LockedBase)
	}
}

func TestHandleFrameUnknownEventIgnored(t *testing.T) {
	client, events := collectingStream(t)

	frame := `{"stream": "x", "data": {"e": "depthUpdate", "s": "BTCUSD"}}`
	if err := client.handleFrame([]byte(frame)); err != nil {
		t.Fatalf("unknown events must be ignored, got %v", err)
	}
	if len(*events) != 0 {
		t.Errorf("dispatched %d events, want 0", len(*events))
	}
}

func TestHandleFrameBalanceUpdate(t *testing.T) {
	client, events := collectingStream(t)

	// Both the lowercase type tag and the uppercase event time are present,
	// as on the real stream.
	frame := `{"e":"balanceUpdate","E":1700000004000,"a":"USD","d":"-25.00","T":1700000004000}`
	if err := client.handleFrame([]byte(frame)); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}
	ev, ok := (*events)[0].(*BalanceUpdateEvent)
	if !ok {
		t.Fatalf("event type = %T, want *BalanceUpdateEvent", (*events)[0])
	}
	if ev.Asset != "USD" || ev.Delta != "-25.00" {
		t.Errorf("event = %+v", ev)
	}
}

func TestHandleFrameMalformed(t *testing.T) {
	client, _ := collectingStream(t)

	err := client.handleFrame([]byte("not json"))
	if !IsKind(err, KindDecode) {
		t.Errorf("error = %v, want decode kind", err)
	}

	// Well-formed envelope, malformed payload for its tag.
	err = client.handleFrame([]byte(`{"data": {"e": "kline", "k": "not-an-object"}}`))
	if !IsKind(err, KindDecode) {
		t.Errorf("error = %v, want decode kind", err)
	}
}

func TestEventLoopDropsMalformedAndSurvives(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var requestPath atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestPath.Store(r.URL.RequestURI())
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// A malformed payload followed by a valid one, then a normal close.
		conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{"e":"kline","k":"garbage"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(klineFrame))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}))
	t.Cleanup(server.Close)

	var events []StreamEvent
	client := NewStreamClient("ws"+strings.TrimPrefix(server.URL, "http"), func(ev StreamEvent) error {
		events = append(events, ev)
		return nil
	}, testLogger())

	if err := client.Connect([]string{"btcusd@kline_30m", "listen-key"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got, want := requestPath.Load(), "/stream?streams=btcusd@kline_30m/listen-key"; got != want {
		t.Errorf("request path = %q, want %q", got, want)
	}

	var run atomic.Bool
	run.Store(true)
	err := client.EventLoop(&run)
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("EventLoop = %v, want ErrStreamClosed", err)
	}
	if len(events) != 1 {
		t.Fatalf("dispatched %d events, want 1 with the malformed frame dropped", len(events))
	}
	if _, ok := events[0].(*KlineEvent); !ok {
		t.Errorf("event type = %T, want *KlineEvent", events[0])
	}
}

func TestEventLoopSurvivesHandlerError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(klineFrame))
		conn.WriteMessage(websocket.TextMessage, []byte(klineFrame))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}))
	t.Cleanup(server.Close)

	// The handler rejects the first event the way a venue rejection would
	// surface; the loop must keep reading instead of terminating.
	var calls int
	client := NewStreamClient("ws"+strings.TrimPrefix(server.URL, "http"), func(ev StreamEvent) error {
		calls++
		if calls == 1 {
			return venueError(-1013, "Filter failure: MIN_NOTIONAL")
		}
		return nil
	}, testLogger())

	if err := client.Connect([]string{"btcusd@kline_30m"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	var run atomic.Bool
	run.Store(true)
	err := client.EventLoop(&run)
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("EventLoop = %v, want ErrStreamClosed", err)
	}
	if calls != 2 {
		t.Errorf("handler called %d times, want 2", calls)
	}
}

func TestEventLoopAbruptDropIsTransport(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(klineFrame))
		// Drop the TCP connection without a close frame.
		conn.UnderlyingConn().Close()
	}))
	t.Cleanup(server.Close)

	client := NewStreamClient("ws"+strings.TrimPrefix(server.URL, "http"), func(ev StreamEvent) error {
		return nil
	}, testLogger())

	if err := client.Connect([]string{"btcusd@kline_30m"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	var run atomic.Bool
	run.Store(true)
	err := client.EventLoop(&run)
	if err == nil {
		t.Fatal("abrupt drop must surface an error")
	}
	// Abrupt drops classify as transport loss so the caller's reconnect
	// policy treats them like a close frame.
	if !IsKind(err, KindTransport) {
		t.Errorf("error = %v, want transport kind", err)
	}
}
