package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/0xBreath/lunar-engine/pkg/models"
)

const (
	LiveAPIURL    = "https://api.binance.us"
	TestnetAPIURL = "https://testnet.binance.vision"

	endpointOrder          = "/api/v3/order"
	endpointOpenOrders     = "/api/v3/openOrders"
	endpointAccount        = "/api/v3/account"
	endpointPrice          = "/api/v3/ticker/price"
	endpointAllOrders      = "/api/v3/allOrders"
	endpointExchangeInfo   = "/api/v3/exchangeInfo"
	endpointUserDataStream = "/api/v3/userDataStream"
)

// Client issues signed and unsigned REST requests against one venue host. It
// holds no order state; classification of responses is its only policy.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow int64
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

func NewClient(apiKey, apiSecret, baseURL string, recvWindow int64, logger *logrus.Logger) *Client {
	return &Client{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    baseURL,
		recvWindow: recvWindow,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		// Spot request weight allows bursts well above this; 20 req/s steady
		// keeps the engine far from the venue's ban threshold.
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		logger:  logger,
	}
}

// sign computes the hex HMAC-SHA256 of the canonical query string.
func (c *Client) sign(payload string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// signedQuery appends timestamp and signature as the final parameters, in
// that order. The timestamp is computed at call time, never cached, to avoid
// clock-skew rejection.
func (c *Client) signedQuery(params Params) string {
	params = params.Add("timestamp", models.Timestamp())
	query := params.Encode()
	return query + "&signature=" + c.sign(query)
}

func (c *Client) do(ctx context.Context, method, path, query string, keyed bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return transportError("rate limiter wait", err)
	}

	urlStr := c.baseURL + path
	if query != "" {
		urlStr += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
	if err != nil {
		return transportError("build request", err)
	}
	if keyed {
		// The API key travels as a header, never in the query string.
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError("http "+method+" "+path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError("read response body", err)
	}

	if resp.StatusCode >= 400 {
		var envelope errorEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return decodeError("venue error envelope", err)
		}
		return venueError(envelope.Code, envelope.Msg)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return decodeError("response body", err)
	}
	return nil
}

func (c *Client) getSigned(ctx context.Context, path string, params Params, out any) error {
	return c.do(ctx, http.MethodGet, path, c.signedQuery(params), true, out)
}

func (c *Client) postSigned(ctx context.Context, path string, params Params, out any) error {
	return c.do(ctx, http.MethodPost, path, c.signedQuery(params), true, out)
}

func (c *Client) deleteSigned(ctx context.Context, path string, params Params, out any) error {
	return c.do(ctx, http.MethodDelete, path, c.signedQuery(params), true, out)
}

func (c *Client) get(ctx context.Context, path string, params Params, out any) error {
	return c.do(ctx, http.MethodGet, path, params.Encode(), false, out)
}

// PlaceOrder submits one order leg.
func (c *Client) PlaceOrder(ctx context.Context, trade TradeRequest) (*OrderAck, error) {
	var ack OrderAck
	if err := c.postSigned(ctx, endpointOrder, trade.Params(), &ack); err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{
		"symbol":          ack.Symbol,
		"order_id":        ack.OrderID,
		"client_order_id": ack.ClientOrderID,
	}).Info("Order placed")
	return &ack, nil
}

// CancelOrder cancels one order by exchange id. An "unknown order" rejection
// is mapped to a nil result, not an error: the order is already gone.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*OrderCanceled, error) {
	params := Params{}.
		Add("symbol", symbol).
		Add("orderId", formatInt(orderID))
	params = recvWindowParams(params, c.recvWindow)
	var canceled OrderCanceled
	if err := c.deleteSigned(ctx, endpointOrder, params, &canceled); err != nil {
		if IsUnknownOrder(err) {
			c.logger.WithField("order_id", orderID).Debug("No order to cancel")
			return nil, nil
		}
		return nil, err
	}
	return &canceled, nil
}

// CancelAllOpenOrders cancels every open order on the symbol. Returns an
// empty slice when the venue reports no orders to cancel.
func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) ([]OrderCanceled, error) {
	params := Params{}.Add("symbol", symbol)
	params = recvWindowParams(params, c.recvWindow)
	var canceled []OrderCanceled
	if err := c.deleteSigned(ctx, endpointOpenOrders, params, &canceled); err != nil {
		if IsUnknownOrder(err) {
			c.logger.Debug("No open orders to cancel")
			return nil, nil
		}
		return nil, err
	}
	return canceled, nil
}

// AccountInfo fetches the signed account snapshot, including balances.
func (c *Client) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	params := recvWindowParams(Params{}, c.recvWindow)
	var info AccountInfo
	if err := c.getSigned(ctx, endpointAccount, params, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Price fetches the last price for the symbol.
func (c *Client) Price(ctx context.Context, symbol string) (float64, error) {
	params := Params{}.Add("symbol", symbol)
	var ticker PriceTicker
	if err := c.get(ctx, endpointPrice, params, &ticker); err != nil {
		return 0, err
	}
	price, err := parseFloat(ticker.Price)
	if err != nil {
		return 0, decodeError("parse ticker price", err)
	}
	return price, nil
}

// AllOrders fetches the symbol's order history, oldest first.
func (c *Client) AllOrders(ctx context.Context, symbol string) ([]HistoricalOrder, error) {
	params := Params{}.Add("symbol", symbol)
	params = recvWindowParams(params, c.recvWindow)
	var orders []HistoricalOrder
	if err := c.getSigned(ctx, endpointAllOrders, params, &orders); err != nil {
		return nil, err
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].UpdateTime < orders[j].UpdateTime
	})
	return orders, nil
}

// OpenOrders returns historical orders the venue still reports as NEW.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]HistoricalOrder, error) {
	orders, err := c.AllOrders(ctx, symbol)
	if err != nil {
		return nil, err
	}
	open := orders[:0:0]
	for _, o := range orders {
		if o.Status == string(models.OrderStatusNew) {
			open = append(open, o)
		}
	}
	return open, nil
}

// ExchangeInformation fetches trading metadata for the symbol.
func (c *Client) ExchangeInformation(ctx context.Context, symbol string) (*ExchangeInfo, error) {
	params := Params{}.Add("symbol", symbol)
	var info ExchangeInfo
	if err := c.get(ctx, endpointExchangeInfo, params, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
