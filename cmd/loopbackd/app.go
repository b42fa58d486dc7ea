package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"pkt.systems/pslog"

	"loopbackd"
	"loopbackd/internal/svcfields"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("LOOPBACKD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "loopbackd")

	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			svcfields.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
		}
		if code, ok := err.(exitCoder); ok {
			return code.ExitCode()
		}
		return exitInternalError
	}
	return exitOK
}

// exitCoder lets a subcommand's RunE carry a specific process exit
// code through cobra's plain error return.
type exitCoder interface {
	error
	ExitCode() int
}

const (
	exitOK = iota
	exitInternalError
	exitBindFailed
	exitFactoryFailed
	exitMetadataPublishFailed
)

type exitCodeError struct {
	err  error
	code int
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }
func (e *exitCodeError) ExitCode() int { return e.code }

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var cfg loopbackd.Config

	cmd := &cobra.Command{
		Use:           "loopbackd",
		Short:         "loopbackd hosts and talks to a local singleton object shared by any number of processes on one machine",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.Name, "name", "", "logical name selecting the singleton namespace (required)")
	flags.StringVar(&cfg.BaseDir, "base-dir", "", "runtime base directory (empty selects the host default)")
	flags.StringVar(&cfg.Factory, "factory", "", "factory reference naming which registered constructor builds the singleton")
	flags.StringVar(&cfg.CodecID, "codec", loopbackd.DefaultCodecID, "payload codec (cbor or json)")
	flags.DurationVar(&cfg.IdleTTL, "idle-ttl", loopbackd.DefaultIdleTTL, "daemon idle-shutdown grace period")
	flags.DurationVar(&cfg.ConnectTimeout, "connect-timeout", loopbackd.DefaultConnectTimeout, "single connect-plus-handshake timeout")
	flags.DurationVar(&cfg.StartTimeout, "start-timeout", loopbackd.DefaultStartTimeout, "full connect-or-spawn cycle timeout")
	flags.IntVar(&cfg.MaxFrameBytes, "max-frame-bytes", loopbackd.DefaultMaxFrameBytes, "maximum frame length accepted on the wire")
	flags.StringVar(&cfg.MetricsListen, "metrics-listen", "", "daemon Prometheus metrics listen address (empty disables)")

	cmd.AddCommand(newServeCommand(baseLogger, &cfg))
	cmd.AddCommand(newStatusCommand(baseLogger, &cfg))
	cmd.AddCommand(newCallCommand(baseLogger, &cfg))
	cmd.AddCommand(newShutdownCommand(baseLogger, &cfg))

	return cmd
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}

func requireName(cfg *loopbackd.Config) error {
	if cfg.Name == "" {
		return &exitCodeError{err: fmt.Errorf("--name is required"), code: exitInternalError}
	}
	return nil
}

func newClientLogger(baseLogger pslog.Logger, subsystem string) pslog.Logger {
	return svcfields.WithSubsystem(baseLogger, subsystem)
}

// explicitFlags lists the flags the invoker actually set on the command
// line, as opposed to ones left at their default. Useful in a daemon's
// own startup log, where an operator debugging a misbehaving instance
// needs to know whether e.g. --idle-ttl came from the command line or
// from the flag's own default.
func explicitFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			names = append(names, f.Name)
		}
	})
	return names
}
