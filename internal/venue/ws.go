// ws.go implements the venue C live bracket-tick push feed. Venue A and
// venue B are REST-only per spec; venue C additionally streams quote updates
// for subscribed bracket markets over WebSocket.
//
// The feed auto-reconnects with exponential backoff (1s -> 30s max) and
// re-subscribes to all tracked bracket IDs on reconnection. A read deadline
// (90s) ensures silent server failures are detected within ~2 missed pings.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	tickBufferSize   = 256
)

// BracketTick is one live quote update pushed by venue C for a bracket market.
type BracketTick struct {
	BracketID string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	Timestamp time.Time
}

// BracketFeed manages the venue C WebSocket connection: subscription
// tracking, tick dispatch, and automatic reconnection with backoff.
type BracketFeed struct {
	url  string
	conn *websocket.Conn

	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	tickCh chan BracketTick

	logger *slog.Logger
}

// NewBracketFeed creates the venue C bracket-tick feed.
func NewBracketFeed(wsURL string, logger *slog.Logger) *BracketFeed {
	return &BracketFeed{
		url:        wsURL,
		subscribed: make(map[string]bool),
		tickCh:     make(chan BracketTick, tickBufferSize),
		logger:     logger.With("component", "venue_c_ws"),
	}
}

// Ticks returns a read-only channel of bracket tick updates.
func (f *BracketFeed) Ticks() <-chan BracketTick { return f.tickCh }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *BracketFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("bracket feed disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds bracket market IDs to the live feed.
func (f *BracketFeed) Subscribe(ids []string) error {
	f.subscribedMu.Lock()
	for _, id := range ids {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(struct {
		Operation string   `json:"operation"`
		Brackets  []string `json:"brackets"`
	}{Operation: "subscribe", Brackets: ids})
}

// Unsubscribe removes bracket market IDs from the live feed.
func (f *BracketFeed) Unsubscribe(ids []string) error {
	f.subscribedMu.Lock()
	for _, id := range ids {
		delete(f.subscribed, id)
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(struct {
		Operation string   `json:"operation"`
		Brackets  []string `json:"brackets"`
	}{Operation: "unsubscribe", Brackets: ids})
}

// Close gracefully closes the connection.
func (f *BracketFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *BracketFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.resubscribeAll(); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}

	f.logger.Info("bracket feed connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *BracketFeed) resubscribeAll() error {
	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()

	if len(ids) == 0 {
		return nil
	}
	return f.writeJSON(struct {
		Operation string   `json:"operation"`
		Brackets  []string `json:"brackets"`
	}{Operation: "subscribe", Brackets: ids})
}

func (f *BracketFeed) dispatchMessage(data []byte) {
	var raw struct {
		BracketID string  `json:"bracketId"`
		Bid       float64 `json:"bid"`
		Ask       float64 `json:"ask"`
		Last      float64 `json:"last"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}
	if raw.BracketID == "" {
		return
	}

	tick := BracketTick{
		BracketID: raw.BracketID,
		Bid:       decimal.NewFromFloat(raw.Bid),
		Ask:       decimal.NewFromFloat(raw.Ask),
		Last:      decimal.NewFromFloat(raw.Last),
		Timestamp: time.Now(),
	}

	select {
	case f.tickCh <- tick:
	default:
		f.logger.Warn("tick channel full, dropping event", "bracket", tick.BracketID)
	}
}

func (f *BracketFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *BracketFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *BracketFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
