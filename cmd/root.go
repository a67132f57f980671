package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/conduit/cmd/gen"
	"github.com/luma/conduit/internal/env"
	"github.com/luma/conduit/transport"
)

var RootCmd = &cobra.Command{
	Use:   "conduit",
	Short: "Event loop driven RESP client and HTTP server",
	Long: `Conduit demonstrates two wire protocols on top of an epoll event loop:
a RESP command client and an HTTP server that answers on headers alone.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.AddCommand(ClientCmd)
	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

// Execute runs the root command and exits non-zero when it fails.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger every command shares.
func setup(ctx context.Context) (*env.Config, *zap.Logger, error) {
	conf, err := env.LoadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	log, err := env.MakeLogger(conf.LogLevel, conf.LogEncoding)
	if err != nil {
		return nil, nil, err
	}

	return conf, log, nil
}

// shutdownOptions overrides the transport defaults with the configured
// durations. Non-positive values keep the default.
func shutdownOptions(conf *env.Config) transport.ShutdownOptions {
	opts := transport.DefaultShutdownOptions()

	if conf.ShutdownQuietPeriod > 0 {
		opts.QuietPeriod = conf.ShutdownQuietPeriod
	}

	if conf.ShutdownTimeout > 0 {
		opts.Timeout = conf.ShutdownTimeout
	}

	return opts
}

// acceptorLoops is the configured acceptor group size, or the transport
// default when it is not positive.
func acceptorLoops(conf *env.Config) int {
	if conf.AcceptorLoops < 1 {
		return transport.DefaultAcceptorLoops
	}

	return conf.AcceptorLoops
}
