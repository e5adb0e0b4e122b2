// Package loadbalance picks the endpoint a client dials.
//
// A client keeps one persistent connection, so the choice is made once per
// session rather than once per call:
//   - RoundRobin:      spread successive sessions evenly
//   - WeightedRandom:  nodes of different capacity
//   - ConsistentHash:  keep a client on the same node across sessions, so
//     node-local subscription state can be found again
package loadbalance

import (
	"errors"
	"fmt"

	"mini-wsrpc/registry"
)

// Balancer selects one endpoint from the available list. Pick must be safe for
// concurrent use.
type Balancer interface {
	Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error)
	Name() string
}

// ErrNoEndpoints is returned by Pick when the list is empty.
var ErrNoEndpoints = errors.New("loadbalance: no endpoints available")

// New returns the balancer called name. key is only used by consistent_hash.
func New(name, key string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(key), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown balancer %q", name)
	}
}
