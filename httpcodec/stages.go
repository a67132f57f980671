package httpcodec

import (
	"net/http"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/luma/conduit/transport"
)

const (
	HelloPayload     = "<h1>Hello, world!</h1>"
	HelloContentType = "text/html;charset=utf-8"
)

// HeadStage answers every request with a fixed page as soon as its head is
// decoded, without waiting for the body.
//
// A request that does not keep the connection alive still has its body
// passed on: the channel closes once the response is flushed and the last
// body frame went by, whichever happens later.
type HeadStage struct {
	transport.HandlerAdapter

	contentType string
	payload     []byte

	// Set once a request asked for the connection to close
	closing   bool
	responded bool
	bodyDone  bool

	log *zap.Logger
}

func NewHeadStage(log *zap.Logger) *HeadStage {
	return &HeadStage{
		contentType: HelloContentType,
		payload:     []byte(HelloPayload),
		log:         log,
	}
}

func (s *HeadStage) ChannelRead(ctx *transport.HandlerContext, msg interface{}) {
	switch m := msg.(type) {
	case *RequestHead:
		s.respond(ctx, m)

	case *Content:
		ctx.FireChannelRead(m)

		if s.closing && m.Last {
			s.bodyDone = true
			s.closeIfDone(ctx)
		}

	default:
		ctx.FireChannelRead(msg)
	}
}

func (s *HeadStage) respond(ctx *transport.HandlerContext, head *RequestHead) {
	if s.closing {
		s.log.Debug("Ignoring request pipelined after Connection: close", zap.String("uri", head.URI))
		return
	}

	s.log.Info("Request", zap.String("method", head.Method), zap.String("uri", head.URI))

	head.Headers.Each(func(name, value string) {
		s.log.Debug("Header", zap.String("name", name), zap.String("value", value))
	})

	if ce := s.log.Check(zapcore.DebugLevel, "Request head"); ce != nil {
		if js, err := head.MarshalJSON(); err == nil {
			ce.Write(zap.ByteString("head", js))
		}
	}

	if !head.KeepAlive() {
		s.closing = true
		s.bodyDone = !hasBody(head)
	}

	f := ctx.WriteAndFlush(NewResponse(http.StatusOK, s.contentType, s.payload))
	f.AddListener(func(f *transport.Future) {
		if err := f.Err(); err != nil {
			s.log.Warn("Failed to write response", zap.Error(err))
			ctx.Close()
			return
		}

		if s.closing {
			s.responded = true
			s.closeIfDone(ctx)
		}
	})
}

func (s *HeadStage) closeIfDone(ctx *transport.HandlerContext) {
	if s.responded && s.bodyDone {
		ctx.Close()
	}
}

// hasBody reports whether the codec will emit Content frames for head.
func hasBody(head *RequestHead) bool {
	if head.IsChunked() {
		return true
	}

	n, err := head.ContentLength()
	return err == nil && n > 0
}

// BodyStage logs the frames of request bodies. It never responds.
type BodyStage struct {
	transport.HandlerAdapter

	log *zap.Logger
}

func NewBodyStage(log *zap.Logger) *BodyStage {
	return &BodyStage{log: log}
}

func (s *BodyStage) ChannelRead(ctx *transport.HandlerContext, msg interface{}) {
	content, ok := msg.(*Content)
	if !ok {
		ctx.FireChannelRead(msg)
		return
	}

	if len(content.Data) == 0 {
		return
	}

	s.log.Info("Request body",
		zap.String("body", string(content.Data)),
		zap.Bool("last", content.Last))
}

// ServerInitializer builds the request pipeline of an accepted connection:
// logger, codec, head stage, body stage.
func ServerInitializer(log *zap.Logger) transport.ChannelInitializer {
	return func(ch *transport.Channel) error {
		p := ch.Pipeline()

		if err := p.AddLast("logger", transport.NewLoggingHandler(log.Named("wire"), zapcore.DebugLevel)); err != nil {
			return err
		}

		if err := p.AddLast("http-codec", NewServerCodec(log.Named("codec"))); err != nil {
			return err
		}

		if err := p.AddLast("head", NewHeadStage(log.Named("head"))); err != nil {
			return err
		}

		return p.AddLast("body", NewBodyStage(log.Named("body")))
	}
}
