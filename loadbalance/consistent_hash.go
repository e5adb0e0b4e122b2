package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"

	"mini-wsrpc/registry"
)

const virtualNodes = 100

// ConsistentHashBalancer always maps the same key to the same endpoint while
// the endpoint set is stable, and moves only a small share of keys when an
// endpoint joins or leaves. Each endpoint is placed on the ring as many
// virtual nodes ("{url}#{i}") so the load spreads evenly.
type ConsistentHashBalancer struct {
	key string
}

// NewConsistentHashBalancer pins picks to key, typically a client identity.
func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{key: key}
}

// Pick builds the ring for the current endpoint list and returns the first
// node clockwise from the key's hash.
func (b *ConsistentHashBalancer) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	ring := make([]uint32, 0, len(endpoints)*virtualNodes)
	owner := make(map[uint32]int, len(endpoints)*virtualNodes)
	for i, ep := range endpoints {
		for v := 0; v < virtualNodes; v++ {
			h := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", ep.URL, v)))
			ring = append(ring, h)
			owner[h] = i
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i] < ring[j] })

	hash := crc32.ChecksumIEEE([]byte(b.key))
	idx := sort.Search(len(ring), func(i int) bool { return ring[i] >= hash })
	if idx == len(ring) {
		idx = 0
	}
	return &endpoints[owner[ring[idx]]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "consistent_hash"
}
