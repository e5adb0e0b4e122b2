// Package config loads client settings from a TOML file.
//
//	endpoint = "ws://127.0.0.1:8546"
//	reassembly_timeout = "15s"
//	request_timeout = "30s"
//	rate_limit = 50.0
//	rate_burst = 10
//
// Keys left out of the file keep their defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mini-wsrpc/protocol"
)

// Config holds everything needed to build a client.
type Config struct {
	// Endpoint is dialed directly. When empty, the endpoint is discovered in
	// etcd under Service.
	Endpoint      string
	Service       string
	EtcdEndpoints []string
	Balancer      string // round_robin, weighted_random or consistent_hash
	BalancerKey   string // Pinning key for consistent_hash

	HandshakeTimeout  time.Duration
	PingInterval      time.Duration
	ReassemblyTimeout time.Duration
	MaxFrameSize      int
	RequestTimeout    time.Duration // Zero means calls wait as long as their context allows

	RateLimit float64 // Calls per second, zero disables
	RateBurst int

	SubscriptionBuffer int
	LogLevel           string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Service:            "eth",
		EtcdEndpoints:      []string{"127.0.0.1:2379"},
		Balancer:           "round_robin",
		HandshakeTimeout:   10 * time.Second,
		PingInterval:       30 * time.Second,
		ReassemblyTimeout:  protocol.DefaultReassemblyTimeout,
		MaxFrameSize:       protocol.DefaultMaxFrameSize,
		RequestTimeout:     30 * time.Second,
		RateBurst:          1,
		SubscriptionBuffer: 128,
		LogLevel:           "info",
	}
}

type fileConfig struct {
	Endpoint           string   `toml:"endpoint"`
	Service            string   `toml:"service"`
	EtcdEndpoints      []string `toml:"etcd_endpoints"`
	Balancer           string   `toml:"balancer"`
	BalancerKey        string   `toml:"balancer_key"`
	HandshakeTimeout   string   `toml:"handshake_timeout"`
	PingInterval       string   `toml:"ping_interval"`
	ReassemblyTimeout  string   `toml:"reassembly_timeout"`
	MaxFrameSize       int      `toml:"max_frame_size"`
	RequestTimeout     string   `toml:"request_timeout"`
	RateLimit          float64  `toml:"rate_limit"`
	RateBurst          int      `toml:"rate_burst"`
	SubscriptionBuffer int      `toml:"subscription_buffer"`
	LogLevel           string   `toml:"log_level"`
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return fromFile(raw, meta)
}

// Parse is Load for TOML held in memory.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return fromFile(raw, meta)
}

func fromFile(raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg := Default()

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	if meta.IsDefined("endpoint") {
		cfg.Endpoint = strings.TrimSpace(raw.Endpoint)
	}
	if meta.IsDefined("service") {
		cfg.Service = strings.TrimSpace(raw.Service)
	}
	if meta.IsDefined("etcd_endpoints") {
		cfg.EtcdEndpoints = raw.EtcdEndpoints
	}
	if meta.IsDefined("balancer") {
		cfg.Balancer = strings.TrimSpace(raw.Balancer)
	}
	if meta.IsDefined("balancer_key") {
		cfg.BalancerKey = raw.BalancerKey
	}
	if meta.IsDefined("max_frame_size") {
		cfg.MaxFrameSize = raw.MaxFrameSize
	}
	if meta.IsDefined("rate_limit") {
		cfg.RateLimit = raw.RateLimit
	}
	if meta.IsDefined("rate_burst") {
		cfg.RateBurst = raw.RateBurst
	}
	if meta.IsDefined("subscription_buffer") {
		cfg.SubscriptionBuffer = raw.SubscriptionBuffer
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"ping_interval", raw.PingInterval, &cfg.PingInterval},
		{"reassembly_timeout", raw.ReassemblyTimeout, &cfg.ReassemblyTimeout},
		{"request_timeout", raw.RequestTimeout, &cfg.RequestTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("endpoint: scheme must be ws or wss, got %q", u.Scheme)
		}
	} else {
		if c.Service == "" {
			return errors.New("either endpoint or service must be set")
		}
		if len(c.EtcdEndpoints) == 0 {
			return errors.New("etcd_endpoints must be set when endpoint is empty")
		}
	}

	switch c.Balancer {
	case "", "round_robin", "weighted_random", "consistent_hash":
	default:
		return fmt.Errorf("balancer: unknown strategy %q", c.Balancer)
	}
	if c.ReassemblyTimeout <= 0 {
		return errors.New("reassembly_timeout must be positive")
	}
	if c.HandshakeTimeout < 0 || c.PingInterval < 0 || c.RequestTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.RateLimit < 0 {
		return errors.New("rate_limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return errors.New("rate_burst must be at least 1 when rate_limit is set")
	}
	if c.SubscriptionBuffer < 0 {
		return errors.New("subscription_buffer must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// NewLogger builds a production zap logger at the configured level.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
