// Package okx speaks the exchange's v5 public WebSocket and private REST
// API, translating wire frames into domain events and domain requests into
// signed HTTP calls.
package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jlindqvist/scalpd/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait is the time allowed between server messages. The exchange
	// sends nothing on a quiet connection, so the client pings well inside
	// this window.
	readWait = 30 * time.Second

	// pingPeriod sends an application-level "ping" at this interval. The
	// exchange disconnects clients silent for 30 seconds.
	pingPeriod = 20 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// BookHandler is called for every book snapshot or delta.
type BookHandler func(domain.BookEvent)

// TradeHandler is called for every public trade print.
type TradeHandler func(domain.TradeEvent)

// TickerHandler is called for every ticker update.
type TickerHandler func(domain.TickerEvent)

// WSClient is a client for the exchange's public market-data WebSocket. It
// manages the connection lifecycle and subscriptions, dispatches frames to
// registered handlers, and restores subscriptions after a reconnect.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Subscriptions to restore on reconnect.
	subscriptions []wsArg

	bookHandlers   []BookHandler
	tradeHandlers  []TradeHandler
	tickerHandlers []TickerHandler
	handlerMu      sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a client for the given public WebSocket endpoint,
// e.g. "wss://ws.okx.com:8443/ws/v5/public".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and restores any previous
// subscriptions.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("okx/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("okx/ws: connect: %w", err)
	}

	w.conn = conn
	w.conn.SetReadDeadline(time.Now().Add(readWait))

	go w.readLoop()
	go w.pingLoop()

	if len(w.subscriptions) > 0 {
		if err := w.send(wsRequest{Op: "subscribe", Args: w.subscriptions}); err != nil {
			return fmt.Errorf("okx/ws: restore subscriptions: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to the given channels ("books", "trades", "tickers")
// for each instrument.
func (w *WSClient) Subscribe(ctx context.Context, channels, instIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("okx/ws: not connected")
	}

	args := make([]wsArg, 0, len(channels)*len(instIDs))
	for _, ch := range channels {
		for _, inst := range instIDs {
			args = append(args, wsArg{Channel: ch, InstID: inst})
		}
	}

	if err := w.send(wsRequest{Op: "subscribe", Args: args}); err != nil {
		return fmt.Errorf("okx/ws: subscribe: %w", err)
	}

	w.subscriptions = append(w.subscriptions, args...)
	return nil
}

// Close shuts down the connection and stops the read and ping loops.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// OnBook registers a handler for book snapshots and deltas.
func (w *WSClient) OnBook(handler BookHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bookHandlers = append(w.bookHandlers, handler)
}

// OnTrade registers a handler for public trade prints.
func (w *WSClient) OnTrade(handler TradeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tradeHandlers = append(w.tradeHandlers, handler)
}

// OnTicker registers a handler for ticker updates.
func (w *WSClient) OnTicker(handler TickerHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tickerHandlers = append(w.tickerHandlers, handler)
}

// send writes a JSON request. Caller must hold w.mu.
func (w *WSClient) send(req wsRequest) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads frames and dispatches them to handlers. On
// disconnect it hands off to reconnect and exits; a fresh readLoop starts
// with the new connection.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return
		}

		conn.SetReadDeadline(time.Now().Add(readWait))
		w.handleFrame(message)
	}
}

// pingLoop sends the exchange's application-level "ping" to keep the
// connection alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

// handleFrame parses a raw frame and routes it by channel. Event frames
// ("subscribe" acks, errors) and the "pong" keep-alive are not data and are
// dropped after parsing.
func (w *WSClient) handleFrame(raw []byte) {
	if string(raw) == "pong" {
		return
	}

	var push wsPush
	if err := json.Unmarshal(raw, &push); err != nil {
		return // silently drop unparseable frames
	}
	if push.Event != "" || len(push.Data) == 0 {
		return
	}

	switch push.Arg.Channel {
	case "books", "books5":
		var frames []bookData
		if err := json.Unmarshal(push.Data, &frames); err != nil {
			return
		}
		w.handlerMu.RLock()
		handlers := w.bookHandlers
		w.handlerMu.RUnlock()
		for _, f := range frames {
			ev := f.toEvent(push.Arg.InstID, push.Action)
			for _, h := range handlers {
				h(ev)
			}
		}

	case "trades":
		var frames []tradeData
		if err := json.Unmarshal(push.Data, &frames); err != nil {
			return
		}
		w.handlerMu.RLock()
		handlers := w.tradeHandlers
		w.handlerMu.RUnlock()
		for _, f := range frames {
			ev := f.toEvent()
			for _, h := range handlers {
				h(ev)
			}
		}

	case "tickers":
		var frames []tickerData
		if err := json.Unmarshal(push.Data, &frames); err != nil {
			return
		}
		w.handlerMu.RLock()
		handlers := w.tickerHandlers
		w.handlerMu.RUnlock()
		for _, f := range frames {
			ev := f.toEvent()
			for _, h := range handlers {
				h(ev)
			}
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
