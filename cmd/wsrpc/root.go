package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mini-wsrpc/client"
	"mini-wsrpc/config"
	"mini-wsrpc/loadbalance"
	"mini-wsrpc/registry"
	"mini-wsrpc/transport"
)

// GlobalFlags are shared by every command.
type GlobalFlags struct {
	ConfigPath  string
	Endpoint    string
	LogLevel    string
	MetricsAddr string
}

var (
	globalFlags GlobalFlags
	cfg         config.Config
	logger      *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "wsrpc",
	Short: "JSON-RPC over WebSocket client and test server",
	Long: `wsrpc talks JSON-RPC 2.0 to a WebSocket endpoint.

The endpoint is given with --endpoint or in the config file; without one it is
discovered in etcd under the configured service name.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if globalFlags.ConfigPath != "" {
			cfg, err = config.Load(globalFlags.ConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
		} else {
			cfg = config.Default()
		}
		if globalFlags.Endpoint != "" {
			cfg.Endpoint = globalFlags.Endpoint
		}
		if globalFlags.LogLevel != "" {
			cfg.LogLevel = globalFlags.LogLevel
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}

		logger, err = cfg.NewLogger()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigPath, "config", "c", "", "TOML config file")
	rootCmd.PersistentFlags().StringVarP(&globalFlags.Endpoint, "endpoint", "e", "", "ws:// or wss:// endpoint, overrides the config")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogLevel, "log-level", "", "debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&globalFlags.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(serveCmd)
}

// getClient connects as configured: directly when an endpoint is set,
// otherwise through etcd discovery.
func getClient(ctx context.Context) (*client.Client, error) {
	metrics, err := startMetrics()
	if err != nil {
		return nil, err
	}

	if cfg.Endpoint != "" {
		return client.Dial(ctx, cfg, logger, metrics)
	}

	reg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints, cfg.HandshakeTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	defer reg.Close()

	bal, err := loadbalance.New(cfg.Balancer, cfg.BalancerKey)
	if err != nil {
		return nil, err
	}
	return client.Discover(ctx, reg, bal, cfg, logger, metrics)
}

func startMetrics() (*transport.Metrics, error) {
	if globalFlags.MetricsAddr == "" {
		return nil, nil
	}
	reg := prometheus.NewRegistry()
	metrics, err := transport.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		err := http.ListenAndServe(globalFlags.MetricsAddr, mux)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", globalFlags.MetricsAddr))
	return metrics, nil
}

func main() {
	Execute()
}
