package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	gjson "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mini-wsrpc/codec"
)

var callCmd = &cobra.Command{
	Use:   "call <method> [params-json]",
	Short: "Call a method and print its result",
	Example: `  wsrpc call eth_blockNumber -e ws://127.0.0.1:8546
  wsrpc call eth_getBalance '["0x00000000000000000000000000000000000000aa","latest"]'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(args[1:])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		c, err := getClient(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := c.Close(); err != nil {
				logger.Debug("close client", zap.Error(err))
			}
		}()

		var result json.RawMessage
		if err := c.Call(ctx, args[0], params, &result); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

// parseParams takes the optional params argument as raw JSON.
func parseParams(args []string) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	raw := json.RawMessage(args[0])
	if !codec.GetCodec(codec.CodecTypeJSON).Valid(raw) {
		return nil, fmt.Errorf("params are not valid JSON: %s", args[0])
	}
	return raw, nil
}

// printJSON writes raw indented, or as received if it does not decode.
func printJSON(w io.Writer, raw json.RawMessage) error {
	var v any
	if err := codec.GetCodec(codec.CodecTypeJSON).Decode(raw, &v); err != nil {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	out, err := gjson.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
