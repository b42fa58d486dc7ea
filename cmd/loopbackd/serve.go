package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"loopbackd"
	"loopbackd/daemon"
	"loopbackd/internal/connguard"
	"loopbackd/internal/runtimedir"
)

func newServeCommand(baseLogger pslog.Logger, cfg *loopbackd.Config) *cobra.Command {
	var runtimeDir string
	var tokenFile string
	var guardEnabled bool
	var guardThreshold int
	var guardWindow time.Duration
	var guardBlock time.Duration

	cmd := &cobra.Command{
		Use:    "serve",
		Short:  "run the daemon in the foreground (normally only the coordinator spawns this)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireName(cfg); err != nil {
				return err
			}
			if cfg.Factory == "" {
				return &exitCodeError{err: fmt.Errorf("--factory is required"), code: exitFactoryFailed}
			}

			var dir *runtimedir.Dir
			if runtimeDir != "" {
				dir = runtimedir.FromPath(runtimeDir)
			} else {
				var err error
				dir, err = runtimedir.Open(cfg.BaseDir, cfg.Name)
				if err != nil {
					return &exitCodeError{err: err, code: exitInternalError}
				}
			}
			_ = tokenFile // the runtime dir's own auth path is authoritative; see runtimedir.Dir.AuthPath

			logger := newClientLogger(baseLogger, "cli.serve")
			registry := newFactoryRegistry()
			obj, err := registry.Build(cfg.Factory)
			if err != nil {
				return &exitCodeError{err: err, code: exitFactoryFailed}
			}

			guard := connguard.New(connguard.Config{
				Enabled:          guardEnabled,
				FailureThreshold: guardThreshold,
				FailureWindow:    guardWindow,
				BlockDuration:    guardBlock,
			}, newClientLogger(baseLogger, "daemon.connguard"))

			d, err := daemon.Start(*cfg, dir, obj,
				daemon.WithLogger(baseLogger),
				daemon.WithMetricsListen(cfg.MetricsListen),
				daemon.WithServerInfo("loopbackd/"+cfg.Name),
				daemon.WithHandshakeGuard(guard),
			)
			if err != nil {
				switch err.(type) {
				case *daemon.BindFailedError:
					return &exitCodeError{err: err, code: exitBindFailed}
				case *daemon.MetadataPublishFailedError:
					return &exitCodeError{err: err, code: exitMetadataPublishFailed}
				default:
					return &exitCodeError{err: err, code: exitInternalError}
				}
			}
			logger.Info("serving", "name", cfg.Name, "addr", d.Addr().String(), "pid", os.Getpid(),
				"explicit_flags", explicitFlags(cmd.Flags()))

			ctx := cmd.Context()
			select {
			case <-ctx.Done():
				d.RequestShutdown(false)
			case <-d.Exited():
			}
			<-d.Exited()
			return nil
		},
	}

	cmd.Flags().StringVar(&runtimeDir, "runtime-dir", "", "fully resolved runtime directory, as handed down by the coordinator (skips base-dir/name resolution)")
	cmd.Flags().StringVar(&tokenFile, "token-file", "", "path to the pre-generated auth token the spawning coordinator wrote (informational; the runtime directory's own auth file is read directly)")
	cmd.Flags().BoolVar(&guardEnabled, "handshake-guard", false, "temporarily block remotes that repeatedly fail the HELLO handshake")
	cmd.Flags().IntVar(&guardThreshold, "handshake-guard-threshold", 5, "failed HELLOs within the window before a remote is blocked")
	cmd.Flags().DurationVar(&guardWindow, "handshake-guard-window", time.Minute, "period over which handshake failures are counted")
	cmd.Flags().DurationVar(&guardBlock, "handshake-guard-block", 5*time.Minute, "how long a blocked remote stays blocked")
	return cmd
}
