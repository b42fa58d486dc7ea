package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"loopbackd"
	"loopbackd/client"
	"loopbackd/internal/runtimedir"
)

func newShutdownCommand(baseLogger pslog.Logger, cfg *loopbackd.Config) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "ask a running daemon to shut down; a no-op if none is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireName(cfg); err != nil {
				return err
			}

			c := *cfg
			c = c.WithDefaults()
			dir, err := runtimedir.Open(c.BaseDir, c.Name)
			if err != nil {
				return &exitCodeError{err: err, code: exitInternalError}
			}
			md, ok := dir.ReadMetadata()
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: not running\n", c.Name)
				return nil
			}

			logger := newClientLogger(baseLogger, "cli.shutdown")
			noSpawn := func(loopbackd.Config, *runtimedir.Dir, string) error {
				return fmt.Errorf("shutdown: daemon disappeared before it could be asked to stop")
			}
			coord, err := client.New(c, noSpawn, logger)
			if err != nil {
				return &exitCodeError{err: err, code: exitInternalError}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), c.ConnectTimeout)
			defer cancel()
			sess, err := coord.Connect(ctx)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: not running\n", c.Name)
				return nil
			}

			if err := sess.Shutdown(ctx, force); err != nil {
				return &exitCodeError{err: err, code: exitInternalError}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (pid %d): shutdown requested\n", c.Name, md.PID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "close in-flight connections immediately instead of waiting for the grace period")
	return cmd
}
