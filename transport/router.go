package transport

import (
	"go.uber.org/zap"

	"mini-wsrpc/message"
)

// route dispatches one decoded message: a reply goes to its pending call, a
// push notification goes to every data listener, anything else is dropped.
//
// A batch is correlated by the first member whose id is pending, and that call
// receives the whole batch. Replies to other members of the same batch are not
// resolved individually; peers that answer a batch request with one batch
// reply rely on exactly this.
func (t *Transport) route(m message.Message) {
	if m.IsBatch() {
		for _, member := range m.Members() {
			if id, ok := member.ID(); ok && t.resolve(id, m) {
				return
			}
		}
	} else if id, ok := m.ID(); ok && t.resolve(id, m) {
		return
	}

	if m.IsNotification() {
		t.broadcast(DataEvent{Message: m})
		t.metrics.notification()
		return
	}

	t.logger.Debug("dropping unmatched message", zap.Stringer("message", m))
	t.metrics.dropped()
}

func (t *Transport) resolve(id string, m message.Message) bool {
	req, ok := t.pending.resolve(id, m, nil)
	if !ok {
		return false
	}
	t.metrics.resolved(req.method, t.pending.len())
	return true
}

// broadcast delivers ev to the data listeners in registration order.
func (t *Transport) broadcast(ev DataEvent) {
	t.mu.Lock()
	listeners := make([]dataListener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	for _, l := range listeners {
		l.fn(ev)
	}
}
