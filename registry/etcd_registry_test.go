package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRegistry connects to a local etcd, skipping when none is running.
func newTestRegistry(t *testing.T) *EtcdRegistry {
	t.Helper()
	reg, err := NewEtcdRegistry([]string{"localhost:2379"}, time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := reg.client.Status(ctx, "localhost:2379"); err != nil {
		t.Skipf("etcd not reachable: %v", err)
	}
	return reg
}

func TestRegisterAndDiscover(t *testing.T) {
	reg := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ep1 := Endpoint{URL: "ws://127.0.0.1:8546", Weight: 10, Version: "1.0"}
	ep2 := Endpoint{URL: "ws://127.0.0.1:8547", Weight: 5, Version: "1.0"}

	require.NoError(t, reg.Register(ctx, "eth", ep1, 10))
	require.NoError(t, reg.Register(ctx, "eth", ep2, 10))

	endpoints, err := reg.Discover(ctx, "eth")
	require.NoError(t, err)
	assert.ElementsMatch(t, []Endpoint{ep1, ep2}, endpoints)

	require.NoError(t, reg.Deregister(ctx, "eth", ep1.URL))
	endpoints, err = reg.Discover(ctx, "eth")
	require.NoError(t, err)
	assert.Equal(t, []Endpoint{ep2}, endpoints)

	require.NoError(t, reg.Deregister(ctx, "eth", ep2.URL))
}

func TestWatch(t *testing.T) {
	reg := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())

	updates := reg.Watch(ctx, "watched")
	time.Sleep(100 * time.Millisecond)

	ep := Endpoint{URL: "ws://127.0.0.1:9546", Weight: 1}
	require.NoError(t, reg.Register(ctx, "watched", ep, 10))

	select {
	case endpoints := <-updates:
		assert.Contains(t, endpoints, ep)
	case <-time.After(3 * time.Second):
		t.Fatal("no watch update")
	}

	require.NoError(t, reg.Deregister(ctx, "watched", ep.URL))
	cancel()
	for range updates {
	}
}
