package transport

import (
	"encoding/hex"
	"fmt"
	"net"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingHandler logs every event that passes through it and forwards it
// unchanged. Put it first to see the raw bytes of a connection.
type LoggingHandler struct {
	level zapcore.Level
	log   *zap.Logger
}

func NewLoggingHandler(log *zap.Logger, level zapcore.Level) *LoggingHandler {
	return &LoggingHandler{
		level: level,
		log:   log,
	}
}

func (h *LoggingHandler) ChannelActive(ctx *HandlerContext) {
	h.logEvent(ctx, "ACTIVE", nil)
	ctx.FireChannelActive()
}

func (h *LoggingHandler) ChannelInactive(ctx *HandlerContext) {
	h.logEvent(ctx, "INACTIVE", nil)
	ctx.FireChannelInactive()
}

func (h *LoggingHandler) ChannelRead(ctx *HandlerContext, msg interface{}) {
	h.logEvent(ctx, "READ", msg)
	ctx.FireChannelRead(msg)
}

func (h *LoggingHandler) Write(ctx *HandlerContext, msg interface{}, f *Future) {
	h.logEvent(ctx, "WRITE", msg)
	ctx.ForwardWrite(msg, f)
}

func (h *LoggingHandler) ExceptionCaught(ctx *HandlerContext, err error) {
	h.logEvent(ctx, "EXCEPTION", err)
	ctx.FireExceptionCaught(err)
}

// logEvent only renders the message once the level is known to be enabled,
// hex dumps are not cheap.
func (h *LoggingHandler) logEvent(ctx *HandlerContext, event string, msg interface{}) {
	ce := h.log.Check(h.level, event)
	if ce == nil {
		return
	}

	fields := []zap.Field{
		zap.String("local", addrString(ctx.Channel().LocalAddr())),
		zap.String("remote", addrString(ctx.Channel().RemoteAddr())),
	}

	switch m := msg.(type) {
	case nil:
	case error:
		fields = append(fields, zap.Error(m))
	case []byte:
		fields = append(fields, zap.Int("bytes", len(m)), zap.String("dump", hex.Dump(m)))
	default:
		fields = append(fields, zap.String("type", fmt.Sprintf("%T", m)))
	}

	ce.Write(fields...)
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return "embedded"
	}

	return addr.String()
}

// CloseOnInactive closes the channel once it goes inactive and stops the
// event there.
type CloseOnInactive struct {
	HandlerAdapter
}

func (CloseOnInactive) ChannelInactive(ctx *HandlerContext) {
	ctx.Close()
}
