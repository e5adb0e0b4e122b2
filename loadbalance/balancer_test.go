package loadbalance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-wsrpc/registry"
)

var testEndpoints = []registry.Endpoint{
	{URL: "ws://10.0.0.1:8546", Weight: 10},
	{URL: "ws://10.0.0.2:8546", Weight: 5},
	{URL: "ws://10.0.0.3:8546", Weight: 10},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	for i := 0; i < 2*len(testEndpoints); i++ {
		ep, err := b.Pick(testEndpoints)
		require.NoError(t, err)
		assert.Equal(t, testEndpoints[i%len(testEndpoints)].URL, ep.URL)
	}
}

func TestEmptyEndpoints(t *testing.T) {
	for _, name := range []string{"round_robin", "weighted_random", "consistent_hash"} {
		b, err := New(name, "client-1")
		require.NoError(t, err)
		_, err = b.Pick(nil)
		assert.ErrorIs(t, err, ErrNoEndpoints, name)
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		ep, err := b.Pick(testEndpoints)
		require.NoError(t, err)
		counts[ep.URL]++
	}

	// Weights are 10:5:10, so the first node should see about twice the second.
	ratio := float64(counts[testEndpoints[0].URL]) / float64(counts[testEndpoints[1].URL])
	assert.InDelta(t, 2.0, ratio, 0.5)
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	ep, err := b.Pick([]registry.Endpoint{{URL: "ws://a"}, {URL: "ws://b"}})
	require.NoError(t, err)
	assert.NotEmpty(t, ep.URL)
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer("client-123")
	first, err := b.Pick(testEndpoints)
	require.NoError(t, err)
	again, err := b.Pick(testEndpoints)
	require.NoError(t, err)
	assert.Equal(t, first.URL, again.URL)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		ep, err := NewConsistentHashBalancer(fmt.Sprintf("client-%d", i)).Pick(testEndpoints)
		require.NoError(t, err)
		seen[ep.URL] = true
	}
	assert.GreaterOrEqual(t, len(seen), 2)
}

func TestNewUnknown(t *testing.T) {
	_, err := New("fastest", "")
	assert.Error(t, err)
}
