package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"mini-wsrpc/codec"
)

var subscribeCmd = &cobra.Command{
	Use:     "subscribe <namespace> [params-json-array]",
	Short:   "Subscribe and print notifications until interrupted",
	Example: `  wsrpc subscribe eth '["newHeads"]'`,
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var params []any
		if len(args) == 2 {
			if err := codec.GetCodec(codec.CodecTypeJSON).Decode([]byte(args[1]), &params); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		c, err := getClient(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		sub, err := c.Subscribe(ctx, args[0], params...)
		if err != nil {
			return err
		}

		for {
			select {
			case result, ok := <-sub.C():
				if !ok {
					return <-sub.Err()
				}
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			case <-ctx.Done():
				return sub.Unsubscribe(context.Background())
			}
		}
	},
}
