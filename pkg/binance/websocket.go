package binance

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	LiveStreamURL    = "wss://stream.binance.us:9443"
	TestnetStreamURL = "wss://testnet.binance.vision"
)

// StreamEvent is one decoded inbound frame.
type StreamEvent interface {
	isStreamEvent()
}

func (*KlineEvent) isStreamEvent()         {}
func (*OrderTradeEvent) isStreamEvent()    {}
func (*AccountUpdateEvent) isStreamEvent() {}
func (*BalanceUpdateEvent) isStreamEvent() {}

// EventHandler receives decoded events synchronously, in arrival order. There
// is exactly one handler per stream: it may mutate shared state without extra
// locking as long as it stays the only writer.
type EventHandler func(event StreamEvent) error

type connState int32

const (
	stateDisconnected connState = iota
	stateConnected
	stateClosing
)

// StreamClient maintains one persistent duplex connection carrying every
// subscribed channel. Reconnection is the caller's decision: the event loop
// surfaces the first transport failure and returns.
type StreamClient struct {
	baseURL string
	conn    *websocket.Conn
	state   atomic.Int32
	handler EventHandler
	logger  *logrus.Logger
}

func NewStreamClient(baseURL string, handler EventHandler, logger *logrus.Logger) *StreamClient {
	return &StreamClient{
		baseURL: baseURL,
		handler: handler,
		logger:  logger,
	}
}

// Connect opens the multiplexed connection for the given channel names, e.g.
// "btcusdt@kline_5m" alongside a private listen key.
func (s *StreamClient) Connect(subscriptions []string) error {
	wsURL := s.baseURL + "/stream?streams=" + strings.Join(subscriptions, "/")
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return transportError("dial "+wsURL, err)
	}
	s.conn = conn
	s.state.Store(int32(stateConnected))
	s.logger.WithField("url", wsURL).Info("Stream connected")
	return nil
}

// Disconnect sends a close frame. Idempotent against an already-closed socket.
func (s *StreamClient) Disconnect() error {
	if connState(s.state.Swap(int32(stateClosing))) != stateConnected {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	if err := s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline); err != nil {
		s.conn.Close()
		return transportError("write close frame", err)
	}
	return s.conn.Close()
}

// EventLoop blocks reading frames while run holds. Text frames are decoded
// and dispatched to the handler; ping frames are answered immediately;
// handler and decode failures are logged and the loop keeps reading. Only a
// close frame or read error terminates the loop so the caller can decide on
// reconnecting.
func (s *StreamClient) EventLoop(run *atomic.Bool) error {
	s.conn.SetPingHandler(func(appData string) error {
		deadline := time.Now().Add(10 * time.Second)
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), deadline)
	})
	for run.Load() {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.state.Store(int32(stateDisconnected))
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrStreamClosed
			}
			return transportError("read frame", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := s.handleFrame(msg); err != nil {
			if IsKind(err, KindDecode) {
				// One malformed tick must not kill the session.
				s.logger.WithError(err).Warn("Dropped undecodable frame")
				continue
			}
			// Handler failures are the handler's problem to recover from;
			// only the connection itself ends the loop.
			s.logger.WithError(err).Error("Event handler failed")
			continue
		}
	}
	return nil
}

// streamEnvelope is the multi-stream wrapper: {"stream":"...","data":{...}}.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// eventTag peeks at the event type discriminator. EventTime must be declared
// too: the venue sends both "e" and "E", and without an exact match for "E"
// encoding/json folds it onto "e" case-insensitively and rejects the frame.
type eventTag struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
}

func (s *StreamClient) handleFrame(msg []byte) error {
	var envelope streamEnvelope
	if err := json.Unmarshal(msg, &envelope); err != nil {
		return decodeError("stream envelope", err)
	}
	if len(envelope.Data) > 0 {
		msg = envelope.Data
	}

	var tag eventTag
	if err := json.Unmarshal(msg, &tag); err != nil {
		return decodeError("event tag", err)
	}

	var event StreamEvent
	switch tag.EventType {
	case "kline":
		var e KlineEvent
		if err := json.Unmarshal(msg, &e); err != nil {
			return decodeError("kline event", err)
		}
		event = &e
	case "executionReport":
		var e OrderTradeEvent
		if err := json.Unmarshal(msg, &e); err != nil {
			return decodeError("order trade event", err)
		}
		event = &e
	case "outboundAccountPosition":
		var e AccountUpdateEvent
		if err := json.Unmarshal(msg, &e); err != nil {
			return decodeError("account update event", err)
		}
		event = &e
	case "balanceUpdate":
		var e BalanceUpdateEvent
		if err := json.Unmarshal(msg, &e); err != nil {
			return decodeError("balance update event", err)
		}
		event = &e
	default:
		s.logger.WithField("event_type", tag.EventType).Debug("Ignoring stream event")
		return nil
	}
	return s.handler(event)
}
