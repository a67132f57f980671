package client

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/luma/conduit/transport"
)

// Initializer builds the client pipeline: logger, printer, closer.
func Initializer(out io.Writer, log *zap.Logger) transport.ChannelInitializer {
	return func(ch *transport.Channel) error {
		p := ch.Pipeline()

		if err := p.AddLast("logger", transport.NewLoggingHandler(log.Named("wire"), zapcore.DebugLevel)); err != nil {
			return err
		}

		if err := p.AddLast("printer", NewReplyPrinter(out, log.Named("printer"))); err != nil {
			return err
		}

		return p.AddLast("closer", transport.CloseOnInactive{})
	}
}
