package cmd

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/conduit/client"
	"github.com/luma/conduit/transport"
)

var (
	// The host of the command server
	serverHost string

	// The port of the command server
	serverPort int
)

func init() {
	flags := ClientCmd.PersistentFlags()

	flags.StringVarP(&serverHost, "host", "a", "127.0.0.1", "The host of the command server")
	flags.IntVarP(&serverPort, "port", "p", 6379, "The port of the command server")
}

var ClientCmd = &cobra.Command{
	Use:   "client",
	Short: "Send commands typed on stdin to a RESP server",
	Long: `Send commands typed on stdin to a RESP server

Every line is split on spaces and sent as an array of bulk strings. Replies
are printed as they arrive. Type q to quit.

Usage
	conduit client --host 127.0.0.1 --port 6379

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer signalStop()

		conf, log, err := setup(ctx)
		if err != nil {
			return err
		}
		defer log.Sync()

		group, err := transport.NewEventLoopGroup(1, log.Named("loop"))
		if err != nil {
			return err
		}

		coordinator := transport.NewCoordinator(log.Named("lifecycle"), shutdownOptions(conf), group)

		bootstrap := &transport.Bootstrap{
			Group:          group,
			Initializer:    client.Initializer(cmd.OutOrStdout(), log.Named("client")),
			ReadBufferSize: conf.ReadBufferSize,
			Events:         coordinator.Dispatch,
			Log:            log,
		}

		addr := net.JoinHostPort(serverHost, strconv.Itoa(serverPort))
		log.Info("Connecting", zap.String("addr", addr))

		ch, connectFuture := bootstrap.Connect(addr)

		coordinator.OnConnected(func(ch *transport.Channel) {
			console := client.NewConsole(cmd.InOrStdin(), ch, log.Named("console"))

			go func() {
				if err := console.Run(); err != nil {
					log.Error("Console stopped", zap.Error(err))
				}
			}()
		})
		coordinator.WatchConnect(ch, connectFuture)

		go func() {
			select {
			case <-ctx.Done():
				log.Info("Interrupted, closing connection")
				ch.Close()

			case <-group.TerminationFuture().Done():
			}
		}()

		return coordinator.Wait(context.Background())
	},
}
