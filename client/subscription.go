package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"mini-wsrpc/connection"
	"mini-wsrpc/message"
	"mini-wsrpc/transport"
)

// Subscription receives the "<namespace>_subscription" notifications for one
// subscription id.
type Subscription struct {
	client    *Client
	namespace string
	listener  transport.ListenerID
	ch        chan json.RawMessage
	errc      chan error

	mu     sync.Mutex
	id     string
	closed bool
}

// Subscribe calls "<namespace>_subscribe" with params and delivers the
// matching notifications on the returned subscription until it is
// unsubscribed or the connection closes.
func (c *Client) Subscribe(ctx context.Context, namespace string, params ...any) (*Subscription, error) {
	var p any
	if len(params) > 0 {
		p = params
	}
	req, err := c.newRequest(namespace+"_subscribe", p)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		client:    c,
		namespace: namespace,
		ch:        make(chan json.RawMessage, c.subBuffer),
		errc:      make(chan error, 1),
	}
	// Registered before the request goes out. The reply is handled on the read
	// path before any later message, so the id is known by the time the first
	// notification for it is routed.
	sub.listener = c.transport.OnData(sub.deliver)

	done := make(chan error, 1)
	err = c.transport.Send(req, func(m message.Message, err error) {
		if err == nil {
			err = sub.accept(m)
		}
		done <- err
	})
	if err != nil {
		c.transport.RemoveListener(transport.EventData, sub.listener)
		return nil, err
	}

	select {
	case err := <-done:
		if err != nil {
			c.transport.RemoveListener(transport.EventData, sub.listener)
			return nil, err
		}
		c.logger.Debug("subscribed", zap.String("namespace", namespace), zap.String("subscription", sub.ID()))
		return sub, nil
	case <-ctx.Done():
		c.transport.Forget(message.IDKey(req.ID))
		c.transport.RemoveListener(transport.EventData, sub.listener)
		return nil, ctx.Err()
	}
}

func (s *Subscription) accept(m message.Message) error {
	var id string
	if err := s.client.decodeResponse(m, &id); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%s_subscribe: empty subscription id", s.namespace)
	}
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
	return nil
}

func (s *Subscription) deliver(ev transport.DataEvent) {
	if ev.Closed != nil {
		s.finish(&transport.ConnectionError{Close: ev.Closed})
		return
	}

	var n message.Notification
	if err := ev.Message.Decode(&n); err != nil {
		return
	}
	if n.Method != s.namespace+message.NotificationMarker {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.id == "" || n.Params.Subscription != s.id {
		return
	}
	select {
	case s.ch <- n.Params.Result:
	default:
		s.client.logger.Warn("subscription buffer full, dropping notification",
			zap.String("subscription", s.id))
	}
}

// finish closes C and, for a non-nil err, makes it available on Err.
func (s *Subscription) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if err != nil {
		s.errc <- err
	}
	close(s.ch)
}

func (s *Subscription) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// C yields the raw result of each notification. It is closed when the
// subscription ends.
func (s *Subscription) C() <-chan json.RawMessage { return s.ch }

// Err yields the error that ended the subscription, an error matching
// transport.ErrInvalidConnection when the connection closed. Nothing is sent
// after Unsubscribe.
func (s *Subscription) Err() <-chan error { return s.errc }

// Unsubscribe stops delivery and, if the connection is still open, calls
// "<namespace>_unsubscribe" on the peer.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	s.client.transport.RemoveListener(transport.EventData, s.listener)
	s.finish(nil)

	if s.client.transport.State() != connection.StateOpen {
		return nil
	}
	var ok bool
	if err := s.client.Call(ctx, s.namespace+"_unsubscribe", []string{s.ID()}, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s_unsubscribe: peer did not remove subscription %s", s.namespace, s.ID())
	}
	return nil
}
