package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mini-wsrpc/message"
	"mini-wsrpc/registry"
	"mini-wsrpc/server"
)

var (
	serveAddr     string
	serveInterval time.Duration
	serveRegister bool
)

// serveCmd runs a small chain-like node, enough to exercise every client
// feature: calls, batches, and eth subscriptions fed by a block ticker.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a test JSON-RPC WebSocket server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		listener, err := net.Listen("tcp", serveAddr)
		if err != nil {
			return err
		}

		svr := server.NewServer(logger)
		chain := &Eth{}
		if err := svr.Register(chain); err != nil {
			return err
		}
		if err := svr.Register(&Web3{}); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if serveRegister {
			url := "ws://" + listener.Addr().String()
			reg, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints, cfg.HandshakeTimeout, logger)
			if err != nil {
				return fmt.Errorf("connect etcd: %w", err)
			}
			defer reg.Close()
			if err := reg.Register(ctx, cfg.Service, registry.Endpoint{URL: url, Weight: 1}, 10); err != nil {
				return fmt.Errorf("register %s: %w", url, err)
			}
			defer reg.Deregister(context.Background(), cfg.Service, url)
		}

		go chain.produce(ctx, svr, serveInterval)

		errc := make(chan error, 1)
		go func() { errc <- svr.ServeListener(listener) }()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
			logger.Info("shutting down")
			return svr.Shutdown(5 * time.Second)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8546", "listen address")
	serveCmd.Flags().DurationVar(&serveInterval, "block-interval", 2*time.Second, "how often a new head is produced")
	serveCmd.Flags().BoolVar(&serveRegister, "register", false, "register the endpoint in etcd under the configured service")
}

type Web3 struct{}

func (w *Web3) ClientVersion(_ *struct{}, reply *string) error {
	*reply = "wsrpc/serve"
	return nil
}

// Eth serves a block number that advances on a timer.
type Eth struct {
	head atomic.Uint64
}

type Head struct {
	Number    string `json:"number"`
	Timestamp string `json:"timestamp"`
}

const newHeadsSubscription = "0x6e65774865616473"

func (e *Eth) BlockNumber(_ *struct{}, reply *string) error {
	*reply = "0x" + strconv.FormatUint(e.head.Load(), 16)
	return nil
}

func (e *Eth) Subscribe(kind *string, id *string) error {
	if *kind != "newHeads" {
		return &message.RPCError{Code: message.CodeInvalidParams, Message: "unsupported subscription " + *kind}
	}
	*id = newHeadsSubscription
	return nil
}

func (e *Eth) Unsubscribe(id *string, ok *bool) error {
	*ok = *id == newHeadsSubscription
	return nil
}

func (e *Eth) produce(ctx context.Context, svr *server.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n := e.head.Add(1)
			head := Head{
				Number:    "0x" + strconv.FormatUint(n, 16),
				Timestamp: "0x" + strconv.FormatInt(now.Unix(), 16),
			}
			if err := svr.Notify("eth", newHeadsSubscription, head); err != nil {
				logger.Debug("push head", zap.Error(err))
			}
		}
	}
}
