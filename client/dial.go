package client

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mini-wsrpc/config"
	"mini-wsrpc/connection"
	"mini-wsrpc/loadbalance"
	"mini-wsrpc/middleware"
	"mini-wsrpc/registry"
	"mini-wsrpc/transport"
)

// Dial connects to cfg.Endpoint. metrics may be nil.
func Dial(ctx context.Context, cfg config.Config, logger *zap.Logger, metrics *transport.Metrics) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("client: no endpoint configured")
	}
	return connect(ctx, cfg.Endpoint, cfg, logger, metrics)
}

// Discover looks up cfg.Service in reg, lets bal pick one endpoint and
// connects to it.
func Discover(ctx context.Context, reg registry.Registry, bal loadbalance.Balancer, cfg config.Config, logger *zap.Logger, metrics *transport.Metrics) (*Client, error) {
	endpoints, err := reg.Discover(ctx, cfg.Service)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", cfg.Service, err)
	}
	ep, err := bal.Pick(endpoints)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", cfg.Service, err)
	}
	if logger != nil {
		logger.Info("endpoint selected", zap.String("service", cfg.Service),
			zap.String("url", ep.URL), zap.String("balancer", bal.Name()))
	}
	return connect(ctx, ep.URL, cfg, logger, metrics)
}

func connect(ctx context.Context, url string, cfg config.Config, logger *zap.Logger, metrics *transport.Metrics) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	wsOpts := []connection.Option{
		connection.WithLogger(logger.Named("ws")),
		connection.WithHandshakeTimeout(cfg.HandshakeTimeout),
		connection.WithPingInterval(cfg.PingInterval),
	}
	if cfg.MaxFrameSize > 0 {
		wsOpts = append(wsOpts, connection.WithReadLimit(int64(cfg.MaxFrameSize)))
	}
	ws := connection.NewWebSocket(url, wsOpts...)

	t := transport.New(ws, transport.Config{
		ReassemblyTimeout: cfg.ReassemblyTimeout,
		MaxFrameSize:      cfg.MaxFrameSize,
		Logger:            logger.Named("transport"),
		Metrics:           metrics,
	})

	mws := []middleware.Middleware{middleware.LoggingMiddleware(logger.Named("rpc"))}
	if cfg.RequestTimeout > 0 {
		mws = append(mws, middleware.TimeoutMiddleware(cfg.RequestTimeout))
	}
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}

	c := New(t,
		WithLogger(logger),
		WithMiddleware(mws...),
		WithSubscriptionBuffer(cfg.SubscriptionBuffer),
	)
	if err := t.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	return c, nil
}
