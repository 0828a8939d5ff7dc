package binance

import (
	"strconv"
	"time"

	"github.com/0xBreath/lunar-engine/pkg/models"
)

// errorEnvelope is the venue's error body: {"code":-2011,"msg":"Unknown order sent."}
type errorEnvelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// OrderAck acknowledges a newly placed order.
type OrderAck struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	OrderListID   int64  `json:"orderListId"`
	ClientOrderID string `json:"clientOrderId"`
	TransactTime  int64  `json:"transactTime"`
}

// OrderCanceled is the venue's response to a cancel request.
type OrderCanceled struct {
	Symbol            string `json:"symbol"`
	OrigClientOrderID string `json:"origClientOrderId"`
	OrderID           int64  `json:"orderId"`
	ClientOrderID     string `json:"clientOrderId"`
}

// Balance is one asset's balance within the account snapshot.
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// AccountInfo is the signed account snapshot.
type AccountInfo struct {
	MakerCommission  int64     `json:"makerCommission"`
	TakerCommission  int64     `json:"takerCommission"`
	BuyerCommission  int64     `json:"buyerCommission"`
	SellerCommission int64     `json:"sellerCommission"`
	CanTrade         bool      `json:"canTrade"`
	CanWithdraw      bool      `json:"canWithdraw"`
	CanDeposit       bool      `json:"canDeposit"`
	UpdateTime       int64     `json:"updateTime"`
	AccountType      string    `json:"accountType"`
	Balances         []Balance `json:"balances"`
}

// Assets extracts the free/locked balances for the traded pair.
func (a *AccountInfo) Assets(quoteAsset, baseAsset string) (models.Assets, error) {
	var out models.Assets
	for _, b := range a.Balances {
		switch b.Asset {
		case quoteAsset:
			free, err := strconv.ParseFloat(b.Free, 64)
			if err != nil {
				return out, decodeError("parse quote free balance", err)
			}
			locked, err := strconv.ParseFloat(b.Locked, 64)
			if err != nil {
				return out, decodeError("parse quote locked balance", err)
			}
			out.FreeQuote = free
			out.LockedQuote = locked
		case baseAsset:
			free, err := strconv.ParseFloat(b.Free, 64)
			if err != nil {
				return out, decodeError("parse base free balance", err)
			}
			locked, err := strconv.ParseFloat(b.Locked, 64)
			if err != nil {
				return out, decodeError("parse base locked balance", err)
			}
			out.FreeBase = free
			out.LockedBase = locked
		}
	}
	return out, nil
}

// PriceTicker is the unsigned last-price lookup response.
type PriceTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// HistoricalOrder is one row of the signed all-orders lookup.
type HistoricalOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	TimeInForce   string `json:"timeInForce"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	StopPrice     string `json:"stopPrice"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
	IsWorking     bool   `json:"isWorking"`
}

// SymbolInfo is the per-symbol slice of the exchange info response.
type SymbolInfo struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

// ExchangeInfo is the unsigned exchange metadata response.
type ExchangeInfo struct {
	Timezone   string       `json:"timezone"`
	ServerTime int64        `json:"serverTime"`
	Symbols    []SymbolInfo `json:"symbols"`
}

// listenKeyResponse acknowledges a user-data stream start.
type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// KlineEvent is the streamed candlestick update.
type KlineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     Kline  `json:"k"`
}

type Kline struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	Final     bool   `json:"x"`
}

// OrderTradeEvent is the private-stream execution report for one order.
type OrderTradeEvent struct {
	EventType     string `json:"e"`
	EventTime     int64  `json:"E"`
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	Side          string `json:"S"`
	OrderType     string `json:"o"`
	TimeInForce   string `json:"f"`
	Quantity      string `json:"q"`
	Price         string `json:"p"`
	StopPrice     string `json:"P"`
	ExecutionType string `json:"x"`
	OrderStatus   string `json:"X"`
	RejectReason  string `json:"r"`
	OrderID       int64  `json:"i"`
	LastFilledQty string `json:"l"`
	CumFilledQty  string `json:"z"`
	LastPrice     string `json:"L"`
	TradeTime     int64  `json:"T"`
}

// TradeInfo converts the execution report into the leg state the bundle tracks.
func (e *OrderTradeEvent) TradeInfo() (models.TradeInfo, error) {
	var out models.TradeInfo
	orderType, err := models.ParseOrderType(e.OrderType)
	if err != nil {
		return out, decodeError("order trade event type", err)
	}
	status, err := models.ParseOrderStatus(e.OrderStatus)
	if err != nil {
		return out, decodeError("order trade event status", err)
	}
	side, err := models.ParseSide(e.Side)
	if err != nil {
		return out, decodeError("order trade event side", err)
	}
	qty, err := strconv.ParseFloat(e.Quantity, 64)
	if err != nil {
		return out, decodeError("order trade event quantity", err)
	}
	price, err := strconv.ParseFloat(e.Price, 64)
	if err != nil {
		return out, decodeError("order trade event price", err)
	}
	return models.TradeInfo{
		ClientOrderID: e.ClientOrderID,
		OrderID:       e.OrderID,
		OrderType:     orderType,
		Status:        status,
		EventTime:     e.EventTime,
		Quantity:      qty,
		Price:         price,
		Side:          side,
	}, nil
}

// EventBalance is one asset balance within a streamed account update.
type EventBalance struct {
	Asset  string `json:"a"`
	Free   string `json:"f"`
	Locked string `json:"l"`
}

// AccountUpdateEvent is the private-stream account position snapshot.
type AccountUpdateEvent struct {
	EventType  string         `json:"e"`
	EventTime  int64          `json:"E"`
	LastUpdate int64          `json:"u"`
	Balances   []EventBalance `json:"B"`
}

// Assets extracts the free/locked balances for the traded pair.
func (e *AccountUpdateEvent) Assets(quoteAsset, baseAsset string) (models.Assets, error) {
	var out models.Assets
	for _, b := range e.Balances {
		switch b.Asset {
		case quoteAsset:
			free, err := strconv.ParseFloat(b.Free, 64)
			if err != nil {
				return out, decodeError("parse account update quote balance", err)
			}
			locked, err := strconv.ParseFloat(b.Locked, 64)
			if err != nil {
				return out, decodeError("parse account update quote locked", err)
			}
			out.FreeQuote = free
			out.LockedQuote = locked
		case baseAsset:
			free, err := strconv.ParseFloat(b.Free, 64)
			if err != nil {
				return out, decodeError("parse account update base balance", err)
			}
			locked, err := strconv.ParseFloat(b.Locked, 64)
			if err != nil {
				return out, decodeError("parse account update base locked", err)
			}
			out.FreeBase = free
			out.LockedBase = locked
		}
	}
	return out, nil
}

// BalanceUpdateEvent is the private-stream single-asset delta.
type BalanceUpdateEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Asset     string `json:"a"`
	Delta     string `json:"d"`
	ClearTime int64  `json:"T"`
}

// Candle converts a finalized kline into a price bar.
func (e *KlineEvent) Candle() (models.Candle, error) {
	var out models.Candle
	open, err := strconv.ParseFloat(e.Kline.Open, 64)
	if err != nil {
		return out, decodeError("parse kline open", err)
	}
	high, err := strconv.ParseFloat(e.Kline.High, 64)
	if err != nil {
		return out, decodeError("parse kline high", err)
	}
	low, err := strconv.ParseFloat(e.Kline.Low, 64)
	if err != nil {
		return out, decodeError("parse kline low", err)
	}
	closePx, err := strconv.ParseFloat(e.Kline.Close, 64)
	if err != nil {
		return out, decodeError("parse kline close", err)
	}
	volume, err := strconv.ParseFloat(e.Kline.Volume, 64)
	if err != nil {
		return out, decodeError("parse kline volume", err)
	}
	out.Date = time.UnixMilli(e.EventTime)
	out.Open = open
	out.High = high
	out.Low = low
	out.Close = closePx
	out.Volume = volume
	return out, nil
}
