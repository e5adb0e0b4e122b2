package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 30 * time.Second
	closeGracePeriod        = time.Second
)

// WebSocket is a Conn over gorilla/websocket.
//
// Each session owns one reader goroutine that forwards frames to OnMessage,
// and one ping goroutine that keeps idle connections alive:
//
//	Open ──dial──► session ──readLoop──► OnMessage(text) ... OnClose(ev)
//	                   └────pingLoop───► ping every interval
type WebSocket struct {
	url          string
	header       http.Header
	dialer       websocket.Dialer
	pingInterval time.Duration
	writeTimeout time.Duration
	readLimit    int64
	logger       *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	closing  bool          // Close was called on the current session
	done     chan struct{} // Closed when the current session's reader exits
	handlers Handlers

	writeMu sync.Mutex // gorilla allows one concurrent writer
}

// Option configures a WebSocket.
type Option func(*WebSocket)

func WithHeader(h http.Header) Option {
	return func(w *WebSocket) { w.header = h }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(w *WebSocket) { w.dialer.HandshakeTimeout = d }
}

// WithPingInterval sets the keepalive period; zero disables pings.
func WithPingInterval(d time.Duration) Option {
	return func(w *WebSocket) { w.pingInterval = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(w *WebSocket) { w.writeTimeout = d }
}

// WithReadLimit caps the size of a single incoming frame.
func WithReadLimit(n int64) Option {
	return func(w *WebSocket) { w.readLimit = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(w *WebSocket) { w.logger = l }
}

// NewWebSocket creates an unopened connection to url (ws:// or wss://).
func NewWebSocket(url string, opts ...Option) *WebSocket {
	w := &WebSocket{
		url:          url,
		pingInterval: defaultPingInterval,
		logger:       zap.NewNop(),
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebSocket) SetHandlers(h Handlers) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = h
}

func (w *WebSocket) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Open dials the endpoint. If the previous session is still shutting down, Open
// waits for its reader to finish first so its OnClose is never lost.
func (w *WebSocket) Open(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateConnecting || (w.state == StateOpen && !w.closing) {
		w.mu.Unlock()
		return nil
	}
	done := w.done
	w.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	w.mu.Lock()
	if w.state != StateClosed {
		w.mu.Unlock()
		return nil
	}
	w.state = StateConnecting
	w.mu.Unlock()

	conn, resp, err := w.dialer.DialContext(ctx, w.url, w.header)
	if resp != nil && resp.Body != nil {
		if cerr := resp.Body.Close(); cerr != nil {
			w.logger.Debug("close handshake response body", zap.Error(cerr))
		}
	}
	if err != nil {
		w.mu.Lock()
		w.state = StateClosed
		h := w.handlers
		w.mu.Unlock()

		err = fmt.Errorf("dial websocket %s: %w", w.url, err)
		w.logger.Warn("websocket dial failed", zap.String("url", w.url), zap.Error(err))
		if h.OnError != nil {
			h.OnError(err)
		}
		if h.OnClose != nil {
			h.OnClose(CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()})
		}
		return err
	}
	if w.readLimit > 0 {
		conn.SetReadLimit(w.readLimit)
	}

	done = make(chan struct{})
	w.mu.Lock()
	w.conn = conn
	w.state = StateOpen
	w.closing = false
	w.done = done
	h := w.handlers
	w.mu.Unlock()

	w.logger.Debug("websocket open", zap.String("url", w.url))
	// OnOpen runs before the reader starts so no message overtakes it.
	if h.OnOpen != nil {
		h.OnOpen()
	}
	go w.readLoop(conn, done)
	if w.pingInterval > 0 {
		go w.pingLoop(conn, done)
	}
	return nil
}

// Send writes text as one text frame.
func (w *WebSocket) Send(text string) error {
	w.mu.Lock()
	conn := w.conn
	open := w.state == StateOpen && !w.closing
	w.mu.Unlock()
	if !open || conn == nil {
		return ErrNotOpen
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
			return err
		}
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Close sends a normal-closure frame and tears the session down. The reader
// goroutine reports OnClose once it observes the shutdown.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	conn := w.conn
	if conn == nil || w.closing {
		w.mu.Unlock()
		return nil
	}
	w.closing = true
	w.mu.Unlock()

	w.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)); err != nil {
		w.logger.Debug("write close frame", zap.Error(err))
	}
	w.writeMu.Unlock()
	return conn.Close()
}

// readLoop forwards frames until the session ends. Reads must be sequential,
// which is also what keeps deliveries ordered for the reassembler.
func (w *WebSocket) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.finish(conn, done, err)
			return
		}

		w.mu.Lock()
		onMessage := w.handlers.OnMessage
		w.mu.Unlock()
		if onMessage != nil {
			onMessage(string(data))
		}
	}
}

func (w *WebSocket) finish(conn *websocket.Conn, done chan struct{}, err error) {
	w.mu.Lock()
	closing := w.closing
	w.conn = nil
	w.closing = false
	w.state = StateClosed
	h := w.handlers
	w.mu.Unlock()
	_ = conn.Close()
	close(done)

	var ev CloseEvent
	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce):
		ev = CloseEvent{Code: ce.Code, Reason: ce.Text, WasClean: ce.Code == websocket.CloseNormalClosure}
	case closing:
		ev = CloseEvent{Code: websocket.CloseNormalClosure, WasClean: true}
	default:
		ev = CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
		w.logger.Warn("websocket read failed", zap.String("url", w.url), zap.Error(err))
		if h.OnError != nil {
			h.OnError(fmt.Errorf("websocket read: %w", err))
		}
	}

	w.logger.Debug("websocket closed", zap.String("url", w.url), zap.Int("code", ev.Code), zap.String("reason", ev.Reason))
	if h.OnClose != nil {
		h.OnClose(ev)
	}
}

// pingLoop sends periodic pings so that idle sessions are not dropped by
// proxies, and so that a dead peer is noticed by the next failed write.
func (w *WebSocket) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.pingInterval))
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

var _ Conn = (*WebSocket)(nil)
