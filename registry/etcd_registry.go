// etcd stores one key per endpoint, attached to a TTL lease so a node that
// dies without deregistering disappears on its own:
//
//	Key:   /mini-wsrpc/{service}/{url}
//	Value: JSON-encoded Endpoint
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/mini-wsrpc/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // Safe for concurrent use
	logger *zap.Logger
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return &EtcdRegistry{client: c, logger: logger}, nil
}

func serviceKey(service string) string {
	return keyPrefix + service + "/"
}

// Register publishes ep under a lease of ttl seconds and keeps the lease alive
// until ctx ends. The lease id stays local so one registry can serve many
// registrations concurrently.
func (r *EtcdRegistry) Register(ctx context.Context, service string, ep Endpoint, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}

	if _, err = r.client.Put(ctx, serviceKey(service)+ep.URL, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("put endpoint: %w", err)
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("keep lease alive: %w", err)
	}

	// Drain keepalive responses so the channel never fills up.
	go func() {
		for range ch {
		}
		r.logger.Debug("endpoint lease keepalive stopped", zap.String("service", service), zap.String("url", ep.URL))
	}()
	return nil
}

func (r *EtcdRegistry) Deregister(ctx context.Context, service string, url string) error {
	if _, err := r.client.Delete(ctx, serviceKey(service)+url); err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	return nil
}

// Discover returns the endpoints currently registered for service.
func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Endpoint, error) {
	resp, err := r.client.Get(ctx, serviceKey(service), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}

	endpoints := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			r.logger.Warn("skipping malformed endpoint", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// Watch re-reads the endpoint list whenever anything under the service prefix
// changes. The channel is closed when ctx ends.
func (r *EtcdRegistry) Watch(ctx context.Context, service string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)

	go func() {
		defer close(ch)
		for range r.client.Watch(ctx, serviceKey(service), clientv3.WithPrefix()) {
			endpoints, err := r.Discover(ctx, service)
			if err != nil {
				r.logger.Warn("refresh endpoints", zap.String("service", service), zap.Error(err))
				continue
			}
			select {
			case ch <- endpoints:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
