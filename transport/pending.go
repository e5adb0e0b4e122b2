package transport

import (
	"sync"

	"mini-wsrpc/message"
)

// Callback receives the reply to a request, or the error that ended it. It is
// called exactly once per registered request.
type Callback func(result message.Message, err error)

// pendingRequest is one outstanding call.
type pendingRequest struct {
	id       string
	method   string
	callback Callback
}

// pendingTable maps correlation ids to outstanding calls. Callbacks are always
// invoked after the lock is released, so a callback may send again.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingRequest)}
}

// register stores a call. Ids must be unique among outstanding calls; a second
// registration for a live id replaces the first, whose callback is then never
// invoked.
func (p *pendingTable) register(id, method string, cb Callback) (replaced bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, replaced = p.entries[id]
	p.entries[id] = &pendingRequest{id: id, method: method, callback: cb}
	return replaced
}

// resolve removes the call for id and invokes its callback. Unknown ids are
// ignored; late and duplicate replies are expected after partial failures.
func (p *pendingTable) resolve(id string, result message.Message, err error) (*pendingRequest, bool) {
	p.mu.Lock()
	req, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	if !ok {
		return nil, false
	}
	req.callback(result, err)
	return req, true
}

// drain removes every call without invoking it.
func (p *pendingTable) drain() map[string]*pendingRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := p.entries
	p.entries = make(map[string]*pendingRequest)
	return entries
}

// forget drops the call for id without invoking it.
func (p *pendingTable) forget(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	delete(p.entries, id)
	return ok
}

func (p *pendingTable) has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	return ok
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
