package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"loopbackd"
	"loopbackd/client"
)

func newCallCommand(baseLogger pslog.Logger, cfg *loopbackd.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <method> [json-arg...]",
		Short: "invoke a method on the singleton, connecting (and spawning the daemon) if needed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireName(cfg); err != nil {
				return err
			}
			method := args[0]
			callArgs := make([]any, 0, len(args)-1)
			for _, raw := range args[1:] {
				var v any
				if err := json.Unmarshal([]byte(raw), &v); err != nil {
					v = raw
				}
				callArgs = append(callArgs, v)
			}

			logger := newClientLogger(baseLogger, "cli.call")
			coord, err := client.New(*cfg, nil, logger)
			if err != nil {
				return &exitCodeError{err: err, code: exitInternalError}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.StartTimeout)
			defer cancel()
			sess, err := coord.Connect(ctx)
			if err != nil {
				return &exitCodeError{err: err, code: exitInternalError}
			}
			defer sess.Close()

			value, err := sess.Call(ctx, method, callArgs...)
			if err != nil {
				return &exitCodeError{err: err, code: exitInternalError}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%v\n", value)
			return nil
		},
	}
	return cmd
}
