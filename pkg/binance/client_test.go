package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/0xBreath/lunar-engine/pkg/models"
)

const (
	testAPIKey    = "test-api-key"
	testAPISecret = "test-api-secret"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(testAPIKey, testAPISecret, server.URL, 5000, testLogger())
	return client, server
}

func TestParamsEncodePreservesOrder(t *testing.T) {
	p := Params{}.
		Add("zulu", "1").
		Add("alpha", "2").
		Add("mike", "3")
	if got, want := p.Encode(), "zulu=1&alpha=2&mike=3"; got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestParamsEncodeEscapes(t *testing.T) {
	p := Params{}.Add("symbol", "BTC USD")
	if got, want := p.Encode(), "symbol=BTC+USD"; got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestTradeRequestParams(t *testing.T) {
	req := TradeRequest{
		Symbol:        "BTCUSD",
		ClientOrderID: "1700000000000-ENTRY",
		Side:          models.SideLong,
		OrderType:     models.OrderTypeLimit,
		Quantity:      0.25,
		Price:         100.5,
		RecvWindow:    10000,
	}
	got := req.Params().Encode()
	want := "symbol=BTCUSD&side=BUY&type=LIMIT&timeInForce=GTC&quantity=0.25&price=100.5&newClientOrderId=1700000000000-ENTRY&recvWindow=10000"
	if got != want {
		t.Errorf("Params() = %q, want %q", got, want)
	}
}

func TestTradeRequestParamsStopLimit(t *testing.T) {
	req := TradeRequest{
		Symbol:       "BTCUSD",
		Side:         models.SideShort,
		OrderType:    models.OrderTypeStopLossLimit,
		Quantity:     0.25,
		Price:        99.5,
		TriggerPrice: 99.625,
	}
	got := req.Params().Encode()
	want := "symbol=BTCUSD&side=SELL&type=STOP_LOSS_LIMIT&timeInForce=GTC&quantity=0.25&price=99.5&stopPrice=99.625"
	if got != want {
		t.Errorf("Params() = %q, want %q", got, want)
	}
}

func TestTradeRequestParamsMarket(t *testing.T) {
	// Market orders carry no timeInForce and no price.
	req := TradeRequest{
		Symbol:    "BTCUSD",
		Side:      models.SideLong,
		OrderType: models.OrderTypeMarket,
		Quantity:  1,
	}
	got := req.Params().Encode()
	want := "symbol=BTCUSD&side=BUY&type=MARKET&quantity=1"
	if got != want {
		t.Errorf("Params() = %q, want %q", got, want)
	}
}

func TestPlaceOrderSignsRequest(t *testing.T) {
	var captured *http.Request
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		w.Write([]byte(`{"symbol":"BTCUSD","orderId":42,"clientOrderId":"1700000000000-ENTRY"}`))
	})

	ack, err := client.PlaceOrder(context.Background(), TradeRequest{
		Symbol:        "BTCUSD",
		ClientOrderID: "1700000000000-ENTRY",
		Side:          models.SideLong,
		OrderType:     models.OrderTypeLimit,
		Quantity:      0.25,
		Price:         100.5,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if ack.OrderID != 42 {
		t.Errorf("OrderID = %d, want 42", ack.OrderID)
	}

	if got := captured.Header.Get("X-MBX-APIKEY"); got != testAPIKey {
		t.Errorf("X-MBX-APIKEY = %q, want %q", got, testAPIKey)
	}
	rawQuery := captured.URL.RawQuery
	if strings.Contains(rawQuery, testAPIKey) {
		t.Error("api key must never appear in the query string")
	}

	// Signature is the final parameter, preceded immediately by timestamp,
	// and covers everything before it.
	i := strings.Index(rawQuery, "&signature=")
	if i < 0 || strings.Count(rawQuery, "signature=") != 1 {
		t.Fatalf("query missing trailing signature: %q", rawQuery)
	}
	payload, signature := rawQuery[:i], rawQuery[i+len("&signature="):]
	fields := strings.Split(payload, "&")
	if !strings.HasPrefix(fields[len(fields)-1], "timestamp=") {
		t.Errorf("timestamp must be the last signed parameter: %q", payload)
	}
	if !strings.HasPrefix(fields[0], "symbol=") {
		t.Errorf("symbol must lead the query: %q", payload)
	}

	mac := hmac.New(sha256.New, []byte(testAPISecret))
	mac.Write([]byte(payload))
	if want := hex.EncodeToString(mac.Sum(nil)); signature != want {
		t.Errorf("signature = %q, want %q", signature, want)
	}
}

func TestVenueErrorEnvelope(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1013,"msg":"Filter failure: MIN_NOTIONAL"}`))
	})

	_, err := client.PlaceOrder(context.Background(), TradeRequest{
		Symbol:    "BTCUSD",
		Side:      models.SideLong,
		OrderType: models.OrderTypeMarket,
		Quantity:  0.00001,
	})
	if err == nil {
		t.Fatal("expected venue error")
	}
	if !IsKind(err, KindVenue) {
		t.Errorf("error kind = %v, want venue", err)
	}
	if !strings.Contains(err.Error(), "-1013") {
		t.Errorf("error should carry the venue code: %v", err)
	}
}

func TestCancelOrderUnknownOrderIsBenign(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2011,"msg":"Unknown order sent."}`))
	})

	canceled, err := client.CancelOrder(context.Background(), "BTCUSD", 42)
	if err != nil {
		t.Fatalf("unknown order must not be an error, got %v", err)
	}
	if canceled != nil {
		t.Errorf("canceled = %+v, want nil", canceled)
	}
}

func TestCancelAllOpenOrdersUnknownOrderIsBenign(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2011,"msg":"Unknown order sent."}`))
	})

	canceled, err := client.CancelAllOpenOrders(context.Background(), "BTCUSD")
	if err != nil {
		t.Fatalf("no open orders must not be an error, got %v", err)
	}
	if canceled != nil {
		t.Errorf("canceled = %+v, want nil", canceled)
	}
}

func TestCancelOrderOtherVenueErrorPropagates(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":-2015,"msg":"Invalid API-key."}`))
	})

	_, err := client.CancelOrder(context.Background(), "BTCUSD", 42)
	if err == nil {
		t.Fatal("expected venue error")
	}
	if IsUnknownOrder(err) {
		t.Error("-2015 must not classify as unknown order")
	}
}

func TestPrice(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-MBX-APIKEY") != "" {
			t.Error("price lookup must be unauthenticated")
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSD" {
			t.Errorf("symbol = %q, want BTCUSD", got)
		}
		w.Write([]byte(`{"symbol":"BTCUSD","price":"64250.13000000"}`))
	})

	price, err := client.Price(context.Background(), "BTCUSD")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if price != 64250.13 {
		t.Errorf("price = %v, want 64250.13", price)
	}
}

func TestAllOrdersSortedByUpdateTime(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol":"BTCUSD","orderId":3,"status":"FILLED","updateTime":300},
			{"symbol":"BTCUSD","orderId":1,"status":"NEW","updateTime":100},
			{"symbol":"BTCUSD","orderId":2,"status":"CANCELED","updateTime":200}
		]`))
	})

	orders, err := client.AllOrders(context.Background(), "BTCUSD")
	if err != nil {
		t.Fatalf("AllOrders: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("len = %d, want 3", len(orders))
	}
	for i, want := range []int64{1, 2, 3} {
		if orders[i].OrderID != want {
			t.Errorf("orders[%d].OrderID = %d, want %d", i, orders[i].OrderID, want)
		}
	}
}

func TestOpenOrdersFiltersNew(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol":"BTCUSD","orderId":1,"status":"FILLED","updateTime":100},
			{"symbol":"BTCUSD","orderId":2,"status":"NEW","updateTime":200},
			{"symbol":"BTCUSD","orderId":3,"status":"CANCELED","updateTime":300},
			{"symbol":"BTCUSD","orderId":4,"status":"NEW","updateTime":400}
		]`))
	})

	orders, err := client.OpenOrders(context.Background(), "BTCUSD")
	if err != nil {
		t.Fatalf("OpenOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("len = %d, want 2", len(orders))
	}
	if orders[0].OrderID != 2 || orders[1].OrderID != 4 {
		t.Errorf("kept orders %d, %d; want 2, 4", orders[0].OrderID, orders[1].OrderID)
	}
}

func TestUserStreamLifecycle(t *testing.T) {
	var methods []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Header.Get("X-MBX-APIKEY") != testAPIKey {
			t.Error("user stream requests must carry the api key header")
		}
		if strings.Contains(r.URL.RawQuery, "signature=") {
			t.Error("user stream requests must not be signed")
		}
		w.Write([]byte(`{"listenKey":"abc123"}`))
	})

	stream := NewUserStream(client)
	ctx := context.Background()

	key, err := stream.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if key != "abc123" {
		t.Errorf("listen key = %q, want abc123", key)
	}
	if err := stream.KeepAlive(ctx, key); err != nil {
		t.Fatalf("KeepAlive: %v", err)
	}
	if err := stream.Close(ctx, key); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := []string{http.MethodPost, http.MethodPut, http.MethodDelete}
	for i, m := range want {
		if methods[i] != m {
			t.Errorf("request %d method = %s, want %s", i, methods[i], m)
		}
	}
}
