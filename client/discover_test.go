package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mini-wsrpc/config"
	"mini-wsrpc/loadbalance"
	"mini-wsrpc/registry"
)

// mockRegistry keeps endpoints in memory, so discovery is tested without etcd.
type mockRegistry struct {
	mu        sync.Mutex
	endpoints map[string][]registry.Endpoint
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{endpoints: make(map[string][]registry.Endpoint)}
}

func (m *mockRegistry) Register(_ context.Context, service string, ep registry.Endpoint, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[service] = append(m.endpoints[service], ep)
	return nil
}

func (m *mockRegistry) Deregister(_ context.Context, service string, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	eps := m.endpoints[service]
	for i, ep := range eps {
		if ep.URL == url {
			m.endpoints[service] = append(eps[:i:i], eps[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockRegistry) Discover(_ context.Context, service string) ([]registry.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]registry.Endpoint(nil), m.endpoints[service]...), nil
}

func (m *mockRegistry) Watch(ctx context.Context, _ string) <-chan []registry.Endpoint {
	ch := make(chan []registry.Endpoint)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func discoverConfig() config.Config {
	cfg := config.Default()
	cfg.Service = "arith"
	return cfg
}

func TestDiscover(t *testing.T) {
	_, _, url := startServer(t)
	reg := newMockRegistry()
	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, "arith", registry.Endpoint{URL: url, Weight: 1}, 10))

	bal, err := loadbalance.New("round_robin", "")
	require.NoError(t, err)

	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	c, err := Discover(dctx, reg, bal, discoverConfig(), zap.NewNop(), nil)
	require.NoError(t, err)
	defer c.Close()

	var reply Reply
	require.NoError(t, c.Call(ctx, "arith_add", []Args{{A: 3, B: 4}}, &reply))
	assert.Equal(t, 7, reply.Result)
}

func TestDiscoverNoEndpoints(t *testing.T) {
	bal, err := loadbalance.New("weighted_random", "")
	require.NoError(t, err)

	_, err = Discover(context.Background(), newMockRegistry(), bal, discoverConfig(), nil, nil)
	assert.ErrorIs(t, err, loadbalance.ErrNoEndpoints)
}

// TestDiscoverWithEtcd runs the full chain: etcd registry → balancer →
// websocket → transport → server.
func TestDiscoverWithEtcd(t *testing.T) {
	reg, err := registry.NewEtcdRegistry([]string{"127.0.0.1:2379"}, time.Second, zap.NewNop())
	if err != nil {
		t.Skipf("etcd not available: %v", err)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, _, url := startServer(t)
	if err := reg.Register(ctx, "arith-it", registry.Endpoint{URL: url, Weight: 1}, 10); err != nil {
		t.Skipf("etcd not available: %v", err)
	}
	defer reg.Deregister(context.Background(), "arith-it", url)

	cfg := discoverConfig()
	cfg.Service = "arith-it"
	c, err := Discover(ctx, reg, loadbalance.NewConsistentHashBalancer("it"), cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	defer c.Close()

	var reply Reply
	require.NoError(t, c.Call(ctx, "arith_add", []Args{{A: 10, B: 20}}, &reply))
	assert.Equal(t, 30, reply.Result)
}
