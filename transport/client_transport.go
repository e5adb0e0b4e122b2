// Package transport implements request/response RPC over a message-oriented
// duplex connection.
//
// Many callers share one connection. Each request carries an id, the reply
// echoes it, and the pending table routes the reply back to the right callback:
//
//	caller-1 ──Send(id=1)──┐
//	caller-2 ──Send(id=2)──┼──→ single connection ──→ peer
//	caller-3 ──Send(id=3)──┘
//
//	deliveries ──Reassembler──► route ──► pending[2] callback
//	                                 └──► data listeners (push notifications)
//
// When the connection errors or closes, or received text can never be
// decoded, every pending callback is failed with an ErrInvalidConnection-class
// error. Nothing reconnects automatically; Connect starts a fresh session.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mini-wsrpc/codec"
	"mini-wsrpc/connection"
	"mini-wsrpc/message"
	"mini-wsrpc/protocol"
)

// EventKind selects a listener class.
type EventKind int

const (
	// EventData listeners receive push notifications, and one final event when
	// the connection closes. Any number may be registered.
	EventData EventKind = iota
	// EventConnect, EventEnd and EventError hold one handler each; registering
	// a second replaces the first. They run after the transport's own
	// handling, never instead of it.
	EventConnect
	EventEnd
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventData:
		return "data"
	case EventConnect:
		return "connect"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// ListenerID identifies a registered listener for removal.
type ListenerID uint64

// DataEvent is delivered to data listeners. Exactly one field is set: Message
// for a push notification, Closed once when the connection closes and the
// subscriptions it carried are no longer valid.
type DataEvent struct {
	Message message.Message
	Closed  *connection.CloseEvent
}

type dataListener struct {
	id ListenerID
	fn func(DataEvent)
}

type slot[F any] struct {
	id ListenerID
	fn F
}

// outbound is a payload waiting for the connection to open.
type outbound struct {
	id     string
	method string
	text   string
}

// Config tunes a Transport. The zero value is usable.
type Config struct {
	ReassemblyTimeout time.Duration // Default protocol.DefaultReassemblyTimeout
	MaxFrameSize      int           // Default protocol.DefaultMaxFrameSize, negative disables
	Logger            *zap.Logger
	Metrics           *Metrics
}

// Transport multiplexes RPC calls over one connection.
type Transport struct {
	conn        connection.Conn
	codec       codec.Codec
	reassembler *protocol.Reassembler
	pending     *pendingTable
	logger      *zap.Logger
	metrics     *Metrics

	mu           sync.Mutex
	listeners    []dataListener
	nextListener ListenerID
	queue        []outbound // Sends submitted before the connection opened, in order
	flushing     bool       // Queue is being drained; new sends must queue behind it
	onConnect    slot[func()]
	onEnd        slot[func(connection.CloseEvent)]
	onError      slot[func(error)]
}

// New creates a Transport over conn and installs its handlers on conn. The
// connection is not opened; call Connect, or open conn directly.
func New(conn connection.Conn, cfg Config) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Transport{
		conn:    conn,
		codec:   codec.GetCodec(codec.CodecTypeJSON),
		pending: newPendingTable(),
		logger:  logger,
		metrics: cfg.Metrics,
	}
	t.reassembler = protocol.NewReassembler(cfg.ReassemblyTimeout, cfg.MaxFrameSize, t.handleFrameError)
	t.wire()
	return t
}

// wire installs the default lifecycle handlers. Re-wiring is harmless.
func (t *Transport) wire() {
	t.conn.SetHandlers(connection.Handlers{
		OnOpen:    t.handleOpen,
		OnClose:   t.handleClose,
		OnError:   t.handleError,
		OnMessage: t.handleMessage,
	})
}

// Connect opens the underlying connection, starting a fresh session if the
// previous one ended.
func (t *Transport) Connect(ctx context.Context) error {
	return t.conn.Open(ctx)
}

// Close ends the current session. Pending calls fail once the close is observed.
func (t *Transport) Close() error {
	return t.conn.Close()
}

func (t *Transport) State() connection.State {
	return t.conn.State()
}

// Pending returns the number of calls waiting for a reply.
func (t *Transport) Pending() int {
	return t.pending.len()
}

// Send encodes payload and writes it, registering cb for the reply.
//
// payload is a JSON-RPC object with an "id", or a batch whose first element
// carries the id the whole batch reply is correlated by. It may be any value
// the codec can encode, or already-encoded JSON as []byte, json.RawMessage or
// message.Message. A nil cb sends without waiting for a reply, which is how
// notifications are sent.
//
// If the connection is not open the payload is queued and written, in
// submission order, as soon as it opens. Write failures are reported to cb.
func (t *Transport) Send(payload any, cb Callback) error {
	text, id, method, err := t.encode(payload)
	if err != nil {
		return err
	}
	if cb != nil && id == "" {
		return ErrNoCorrelationID
	}
	if cb == nil {
		id = ""
	}
	item := outbound{id: id, method: method, text: text}

	// Registration and the queue decision happen under one lock, so a
	// concurrent failAll either sees both or neither.
	t.mu.Lock()
	replaced := cb != nil && t.pending.register(id, method, cb)
	queued := t.flushing || len(t.queue) > 0 || t.conn.State() != connection.StateOpen
	var depth int
	if queued {
		t.queue = append(t.queue, item)
		depth = len(t.queue)
	}
	t.mu.Unlock()

	if replaced {
		t.logger.Warn("pending request replaced by a request with the same id",
			zap.String("id", id), zap.String("method", method))
	}
	if queued {
		t.metrics.queueDepth(depth)
		t.logger.Debug("connection not open, queued payload", zap.String("method", method), zap.Int("queued", depth))
		return nil
	}

	t.write(item)
	return nil
}

// Forget abandons the call for id: its callback will not be invoked and a late
// reply is dropped. It reports whether the call was pending.
func (t *Transport) Forget(id string) bool {
	return t.pending.forget(id)
}

func (t *Transport) encode(payload any) (text, id, method string, err error) {
	var data []byte
	switch v := payload.(type) {
	case message.Message:
		data = v.Raw()
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		if data, err = t.codec.Encode(payload); err != nil {
			return "", "", "", fmt.Errorf("encode payload: %w", err)
		}
	}

	m, err := message.Parse(data)
	if err != nil {
		return "", "", "", fmt.Errorf("encode payload: %w", err)
	}
	if !m.IsObject() && !m.IsBatch() {
		return "", "", "", fmt.Errorf("encode payload: %.64s is not a JSON-RPC object or batch", m.String())
	}
	head := m
	if m.IsBatch() {
		if len(m.Members()) == 0 {
			return "", "", "", fmt.Errorf("encode payload: empty batch")
		}
		head = m.Members()[0]
	}
	id, _ = head.ID()
	return m.String(), id, head.Method(), nil
}

func (t *Transport) write(item outbound) {
	if err := t.conn.Send(item.text); err != nil {
		t.logger.Warn("send failed", zap.String("method", item.method), zap.Error(err))
		if item.id != "" {
			t.pending.resolve(item.id, message.Message{}, fmt.Errorf("send %s: %w", item.method, err))
		}
		return
	}
	t.metrics.sent(item.method, t.pending.len())
}

// flush drains the outbound queue in order while the connection stays open.
func (t *Transport) flush() {
	t.mu.Lock()
	if t.flushing {
		t.mu.Unlock()
		return
	}
	t.flushing = true
	for len(t.queue) > 0 && t.conn.State() == connection.StateOpen {
		item := t.queue[0]
		t.queue = t.queue[1:]
		if item.id != "" && !t.pending.has(item.id) {
			// forgotten while queued
			continue
		}
		t.mu.Unlock()

		t.write(item)

		t.mu.Lock()
	}
	t.flushing = false
	depth := len(t.queue)
	t.mu.Unlock()
	t.metrics.queueDepth(depth)
}

// failAll fails every pending call, queued ones included, with err. The
// queue and the table are emptied together under t.mu, so no call can be
// failed here and still be written afterwards.
func (t *Transport) failAll(reason string, err error) {
	t.mu.Lock()
	t.queue = nil
	entries := t.pending.drain()
	t.mu.Unlock()

	for _, req := range entries {
		req.callback(message.Message{}, err)
	}
	n := len(entries)
	if n > 0 {
		t.logger.Info("failed pending requests", zap.String("reason", reason), zap.Int("count", n), zap.Error(err))
	}
	t.metrics.failed(reason, n)
}

// Reset abandons all in-flight state: pending calls fail, queued payloads and
// data listeners are dropped, the reassembly buffer is cleared and the default
// handlers are re-installed. The connection itself is left alone.
func (t *Transport) Reset() {
	t.failAll("reset", &ConnectionError{Cause: fmt.Errorf("transport reset")})

	t.mu.Lock()
	t.listeners = nil
	t.mu.Unlock()

	t.reassembler.Reset()
	t.wire()
}

func (t *Transport) handleOpen() {
	t.logger.Debug("connection open")
	t.flush()

	t.mu.Lock()
	fn := t.onConnect.fn
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *Transport) handleMessage(text string) {
	msgs, errs := t.reassembler.Ingest(text)
	for _, m := range msgs {
		t.route(m)
	}
	for _, fe := range errs {
		t.handleFrameError(fe)
	}
}

// handleFrameError turns undecodable text into a bulk failure. It also runs on
// the reassembler's timer goroutine.
func (t *Transport) handleFrameError(fe *protocol.FrameError) {
	err := &InvalidResponseError{Text: fe.Text, Err: fe}
	t.logger.Warn("invalid response", zap.Error(err))
	t.failAll("invalid_response", err)
	t.emitError(err)
}

// handleError fails pending calls but leaves listeners and the connection as
// they are; an error is not a close.
func (t *Transport) handleError(err error) {
	t.failAll("error", &ConnectionError{Cause: err})
	t.emitError(err)
}

func (t *Transport) handleClose(ev connection.CloseEvent) {
	t.failAll("close", &ConnectionError{Close: &ev})

	t.mu.Lock()
	listeners := t.listeners
	t.listeners = nil
	onEnd := t.onEnd.fn
	t.mu.Unlock()

	t.reassembler.Reset()
	t.wire()

	// The listeners registered during the session hear about its end once.
	for _, l := range listeners {
		l.fn(DataEvent{Closed: &ev})
	}
	if onEnd != nil {
		onEnd(ev)
	}
}

func (t *Transport) emitError(err error) {
	t.mu.Lock()
	fn := t.onError.fn
	t.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// OnData registers a data listener. Listeners run in registration order; the
// same function registered twice is called twice.
func (t *Transport) OnData(fn func(DataEvent)) ListenerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextListener++
	t.listeners = append(t.listeners, dataListener{id: t.nextListener, fn: fn})
	return t.nextListener
}

// OnConnect sets the handler called after the connection opens and queued
// payloads are flushed.
func (t *Transport) OnConnect(fn func()) ListenerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextListener++
	t.onConnect = slot[func()]{id: t.nextListener, fn: fn}
	return t.nextListener
}

// OnEnd sets the handler called after the connection closes.
func (t *Transport) OnEnd(fn func(connection.CloseEvent)) ListenerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextListener++
	t.onEnd = slot[func(connection.CloseEvent)]{id: t.nextListener, fn: fn}
	return t.nextListener
}

// OnError sets the handler for connection errors and invalid responses.
func (t *Transport) OnError(fn func(error)) ListenerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextListener++
	t.onError = slot[func(error)]{id: t.nextListener, fn: fn}
	return t.nextListener
}

// RemoveListener removes the listener registered under id and reports
// whether it was found.
func (t *Transport) RemoveListener(kind EventKind, id ListenerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch kind {
	case EventData:
		for i, l := range t.listeners {
			if l.id == id {
				t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
				return true
			}
		}
	case EventConnect:
		if t.onConnect.id == id && t.onConnect.fn != nil {
			t.onConnect = slot[func()]{}
			return true
		}
	case EventEnd:
		if t.onEnd.id == id && t.onEnd.fn != nil {
			t.onEnd = slot[func(connection.CloseEvent)]{}
			return true
		}
	case EventError:
		if t.onError.id == id && t.onError.fn != nil {
			t.onError = slot[func(error)]{}
			return true
		}
	}
	return false
}

// RemoveAllListeners removes every listener of kind.
func (t *Transport) RemoveAllListeners(kind EventKind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch kind {
	case EventData:
		t.listeners = nil
	case EventConnect:
		t.onConnect = slot[func()]{}
	case EventEnd:
		t.onEnd = slot[func(connection.CloseEvent)]{}
	case EventError:
		t.onError = slot[func(error)]{}
	}
}
