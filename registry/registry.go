// Package registry keeps the set of RPC endpoints a client can dial.
package registry

import "context"

// Endpoint is one node serving JSON-RPC over WebSocket.
type Endpoint struct {
	URL     string `json:"url"`    // ws:// or wss:// address
	Weight  int    `json:"weight"` // Relative share for weighted balancing
	Version string `json:"version,omitempty"`
}

type Registry interface {
	Register(ctx context.Context, service string, ep Endpoint, ttl int64) error
	Deregister(ctx context.Context, service string, url string) error
	Discover(ctx context.Context, service string) ([]Endpoint, error)
	// Watch emits the full endpoint list after every change until ctx ends.
	Watch(ctx context.Context, service string) <-chan []Endpoint
}
