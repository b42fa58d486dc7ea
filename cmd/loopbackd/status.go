package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"loopbackd"
	"loopbackd/client"
)

func newStatusCommand(baseLogger pslog.Logger, cfg *loopbackd.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "connect (spawning the daemon if needed) and print its PONG status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireName(cfg); err != nil {
				return err
			}
			logger := newClientLogger(baseLogger, "cli.status")
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

			pong, err := sess.Ping(ctx)
			if err != nil {
				return &exitCodeError{err: err, code: exitInternalError}
			}

			startedAt := time.Now().Add(-time.Duration(pong.UptimeSeconds) * time.Second)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "name:             %s\n", cfg.Name)
			fmt.Fprintf(out, "pid:              %d\n", pong.PID)
			fmt.Fprintf(out, "started:          %s\n", humanize.Time(startedAt))
			fmt.Fprintf(out, "active clients:   %d\n", pong.ActiveClients)
			fmt.Fprintf(out, "codec:            %s\n", pong.CodecID)
			fmt.Fprintf(out, "protocol version: %d\n", pong.ProtocolVersion)
			return nil
		},
	}
	return cmd
}
