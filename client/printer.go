package client

import (
	"io"

	"go.uber.org/zap"

	"github.com/luma/conduit/transport"
)

// ReplyPrinter writes whatever the server sends to the console as UTF-8 text.
// Replies are not parsed.
type ReplyPrinter struct {
	transport.HandlerAdapter

	out io.Writer
	log *zap.Logger
}

func NewReplyPrinter(out io.Writer, log *zap.Logger) *ReplyPrinter {
	return &ReplyPrinter{
		out: out,
		log: log,
	}
}

func (p *ReplyPrinter) ChannelRead(ctx *transport.HandlerContext, msg interface{}) {
	if data, ok := msg.([]byte); ok {
		p.log.Info("Reply", zap.String("reply", string(data)))

		if _, err := p.out.Write(data); err != nil {
			p.log.Warn("Failed to print reply", zap.Error(err))
		}
	}

	ctx.FireChannelRead(msg)
}
