// Package client is the JSON-RPC API on top of a transport: typed calls,
// batches, notifications and subscriptions.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"mini-wsrpc/codec"
	"mini-wsrpc/message"
	"mini-wsrpc/middleware"
	"mini-wsrpc/transport"
)

// ErrMissingReply is set on a batch element the peer did not answer.
var ErrMissingReply = errors.New("client: no reply for batch element")

type Client struct {
	transport   *transport.Transport
	codec       codec.Codec
	logger      *zap.Logger
	middlewares []middleware.Middleware
	invoke      middleware.HandlerFunc
	subBuffer   int
	nextID      atomic.Uint64
}

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMiddleware appends middlewares around every Call. The first one given
// runs outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, mws...) }
}

// WithSubscriptionBuffer sets how many notifications a subscription holds
// before new ones are dropped.
func WithSubscriptionBuffer(n int) Option {
	return func(c *Client) { c.subBuffer = n }
}

func New(t *transport.Transport, opts ...Option) *Client {
	c := &Client{
		transport: t,
		codec:     codec.GetCodec(codec.CodecTypeJSON),
		logger:    zap.NewNop(),
		subBuffer: 128,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.subBuffer < 1 {
		c.subBuffer = 1
	}
	c.invoke = middleware.Chain(c.middlewares...)(c.roundTrip)
	return c
}

func (c *Client) Transport() *transport.Transport { return c.transport }

// Close ends the session. Calls still waiting fail with an error matching
// transport.ErrInvalidConnection.
func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) newRequest(method string, params any) (*message.Request, error) {
	req := &message.Request{
		JSONRPC: message.Version,
		ID:      json.RawMessage(strconv.FormatUint(c.nextID.Add(1), 10)),
		Method:  method,
	}
	if params != nil {
		raw, err := c.codec.Encode(params)
		if err != nil {
			return nil, fmt.Errorf("encode params for %s: %w", method, err)
		}
		req.Params = raw
	}
	return req, nil
}

type reply struct {
	msg message.Message
	err error
}

// roundTrip is the innermost handler: it sends req and waits for the reply or
// for ctx to end, in which case a late reply is dropped.
func (c *Client) roundTrip(ctx context.Context, req *message.Request) (message.Message, error) {
	done := make(chan reply, 1)
	err := c.transport.Send(req, func(m message.Message, err error) {
		done <- reply{m, err}
	})
	if err != nil {
		return message.Message{}, err
	}

	select {
	case r := <-done:
		return r.msg, r.err
	case <-ctx.Done():
		c.transport.Forget(message.IDKey(req.ID))
		return message.Message{}, ctx.Err()
	}
}

// Call invokes method with params and decodes the result into reply. params is
// encoded as given, so pass a slice for positional and a struct or map for
// named params; nil sends none. reply may be nil when the result is not
// needed. An error object returned by the peer is a *message.RPCError.
func (c *Client) Call(ctx context.Context, method string, params any, reply any) error {
	req, err := c.newRequest(method, params)
	if err != nil {
		return err
	}
	m, err := c.invoke(ctx, req)
	if err != nil {
		return err
	}
	return c.decodeResponse(m, reply)
}

func (c *Client) decodeResponse(m message.Message, reply any) error {
	var resp message.Response
	if err := m.Decode(&resp); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrInvalidResponse, err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if reply == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := c.codec.Decode(resp.Result, reply); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// Notify sends method without an id; the peer sends nothing back.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req, err := c.newRequest(method, params)
	if err != nil {
		return err
	}
	req.ID = nil
	return c.transport.Send(req, nil)
}

// BatchElem is one call of a batch. Result receives the decoded result and
// Error the per-call error, including a *message.RPCError from the peer.
type BatchElem struct {
	Method string
	Params any
	Result any
	Error  error
}

// BatchCall sends elems as one batch and fills in each element. The returned
// error covers the batch as a whole, such as a closed connection.
//
// Batches bypass the middleware chain.
func (c *Client) BatchCall(ctx context.Context, elems []BatchElem) error {
	if len(elems) == 0 {
		return nil
	}
	reqs := make([]*message.Request, len(elems))
	index := make(map[string]int, len(elems))
	for i, elem := range elems {
		req, err := c.newRequest(elem.Method, elem.Params)
		if err != nil {
			return err
		}
		reqs[i] = req
		index[message.IDKey(req.ID)] = i
	}

	done := make(chan reply, 1)
	err := c.transport.Send(reqs, func(m message.Message, err error) {
		done <- reply{m, err}
	})
	if err != nil {
		return err
	}

	var r reply
	select {
	case r = <-done:
	case <-ctx.Done():
		c.transport.Forget(message.IDKey(reqs[0].ID))
		return ctx.Err()
	}
	if r.err != nil {
		return r.err
	}

	// The whole batch reply is delivered to the first member's call.
	members := []message.Message{r.msg}
	if r.msg.IsBatch() {
		members = r.msg.Members()
	}
	answered := make([]bool, len(elems))
	for _, member := range members {
		id, _ := member.ID()
		i, ok := index[id]
		if !ok || answered[i] {
			continue
		}
		answered[i] = true
		elems[i].Error = c.decodeResponse(member, elems[i].Result)
	}
	for i := range elems {
		if !answered[i] {
			elems[i].Error = ErrMissingReply
		}
	}
	return nil
}
