package transport

import (
	"fmt"

	"go.uber.org/zap"
)

// Handler is one stage of a Pipeline. A stage implements any subset of
// InboundHandler, LifecycleHandler, OutboundHandler and ExceptionHandler and
// only sees the events it has a method for.
type Handler interface{}

// InboundHandler receives data read from the connection, or messages decoded
// by an earlier stage. Call ctx.FireChannelRead to pass a message on, not
// calling it stops propagation.
type InboundHandler interface {
	ChannelRead(ctx *HandlerContext, msg interface{})
}

type LifecycleHandler interface {
	ChannelActive(ctx *HandlerContext)
	ChannelInactive(ctx *HandlerContext)
}

// OutboundHandler sees writes travelling from the tail towards the socket.
// Call ctx.ForwardWrite to pass the (possibly transformed) message on.
type OutboundHandler interface {
	Write(ctx *HandlerContext, msg interface{}, f *Future)
}

type ExceptionHandler interface {
	ExceptionCaught(ctx *HandlerContext, err error)
}

// HandlerAdapter forwards every event unchanged. Embed it and override the
// methods a stage cares about.
type HandlerAdapter struct{}

func (HandlerAdapter) ChannelRead(ctx *HandlerContext, msg interface{}) { ctx.FireChannelRead(msg) }
func (HandlerAdapter) ChannelActive(ctx *HandlerContext)                { ctx.FireChannelActive() }
func (HandlerAdapter) ChannelInactive(ctx *HandlerContext)              { ctx.FireChannelInactive() }
func (HandlerAdapter) ExceptionCaught(ctx *HandlerContext, err error)   { ctx.FireExceptionCaught(err) }

// HandlerContext binds a stage to its position in a pipeline.
type HandlerContext struct {
	pipeline *Pipeline
	index    int
	name     string
	handler  Handler
}

func (c *HandlerContext) Name() string {
	return c.name
}

func (c *HandlerContext) Handler() Handler {
	return c.handler
}

func (c *HandlerContext) Channel() *Channel {
	return c.pipeline.ch
}

func (c *HandlerContext) Pipeline() *Pipeline {
	return c.pipeline
}

func (c *HandlerContext) FireChannelRead(msg interface{}) {
	c.pipeline.fireChannelReadFrom(c.index+1, msg)
}

func (c *HandlerContext) FireChannelActive() {
	c.pipeline.fireChannelActiveFrom(c.index + 1)
}

func (c *HandlerContext) FireChannelInactive() {
	c.pipeline.fireChannelInactiveFrom(c.index + 1)
}

func (c *HandlerContext) FireExceptionCaught(err error) {
	c.pipeline.fireExceptionCaughtFrom(c.index+1, err)
}

// Write passes msg to the outbound stages in front of this one. It does not
// flush.
func (c *HandlerContext) Write(msg interface{}) *Future {
	f := NewFuture()
	c.ForwardWrite(msg, f)
	return f
}

// ForwardWrite is Write for outbound stages that already hold the future of
// the write they are forwarding.
func (c *HandlerContext) ForwardWrite(msg interface{}, f *Future) {
	c.pipeline.writeFrom(c.index-1, msg, f)
}

func (c *HandlerContext) Flush() {
	c.pipeline.flush()
}

func (c *HandlerContext) WriteAndFlush(msg interface{}) *Future {
	f := c.Write(msg)
	c.Flush()
	return f
}

// Close closes the channel. Handler methods run on the channel's loop so the
// close happens before Close returns.
func (c *HandlerContext) Close() *Future {
	ch := c.pipeline.ch
	ch.close(nil)
	return ch.closeFuture
}

// Pipeline is the ordered chain of stages of one channel. Stages are added
// while the channel initialises and the order never changes afterwards.
type Pipeline struct {
	ch       *Channel
	contexts []*HandlerContext
	sealed   bool
	log      *zap.Logger
}

func newPipeline(ch *Channel, log *zap.Logger) *Pipeline {
	return &Pipeline{
		ch:  ch,
		log: log,
	}
}

// AddLast appends a stage. It fails with ErrPipelineSealed once the channel
// has been registered.
func (p *Pipeline) AddLast(name string, h Handler) error {
	if p.sealed {
		return fmt.Errorf("Failed to add %q: %w", name, ErrPipelineSealed)
	}

	if p.Get(name) != nil {
		return fmt.Errorf("Duplicate handler name %q", name)
	}

	p.contexts = append(p.contexts, &HandlerContext{
		pipeline: p,
		index:    len(p.contexts),
		name:     name,
		handler:  h,
	})

	return nil
}

// Get returns the stage registered as name, or nil.
func (p *Pipeline) Get(name string) Handler {
	for _, ctx := range p.contexts {
		if ctx.name == name {
			return ctx.handler
		}
	}

	return nil
}

// Names lists the stages head to tail.
func (p *Pipeline) Names() []string {
	names := make([]string, 0, len(p.contexts))
	for _, ctx := range p.contexts {
		names = append(names, ctx.name)
	}

	return names
}

func (p *Pipeline) seal() {
	p.sealed = true
}

func (p *Pipeline) fireChannelRead(msg interface{}) {
	p.fireChannelReadFrom(0, msg)
}

func (p *Pipeline) fireChannelReadFrom(i int, msg interface{}) {
	for ; i < len(p.contexts); i++ {
		ctx := p.contexts[i]
		if h, ok := ctx.handler.(InboundHandler); ok {
			h.ChannelRead(ctx, msg)
			return
		}
	}

	p.log.Debug("Discarded inbound message that reached the tail of the pipeline",
		zap.String("type", fmt.Sprintf("%T", msg)))
}

func (p *Pipeline) fireChannelActive() {
	p.fireChannelActiveFrom(0)
}

func (p *Pipeline) fireChannelActiveFrom(i int) {
	for ; i < len(p.contexts); i++ {
		ctx := p.contexts[i]
		if h, ok := ctx.handler.(LifecycleHandler); ok {
			h.ChannelActive(ctx)
			return
		}
	}
}

func (p *Pipeline) fireChannelInactive() {
	p.fireChannelInactiveFrom(0)
}

func (p *Pipeline) fireChannelInactiveFrom(i int) {
	for ; i < len(p.contexts); i++ {
		ctx := p.contexts[i]
		if h, ok := ctx.handler.(LifecycleHandler); ok {
			h.ChannelInactive(ctx)
			return
		}
	}
}

func (p *Pipeline) fireExceptionCaught(err error) {
	p.fireExceptionCaughtFrom(0, err)
}

func (p *Pipeline) fireExceptionCaughtFrom(i int, err error) {
	for ; i < len(p.contexts); i++ {
		ctx := p.contexts[i]
		if h, ok := ctx.handler.(ExceptionHandler); ok {
			h.ExceptionCaught(ctx, err)
			return
		}
	}

	p.log.Warn("Exception reached the tail of the pipeline", zap.Error(err))
}

func (p *Pipeline) write(msg interface{}, f *Future) {
	p.writeFrom(len(p.contexts)-1, msg, f)
}

func (p *Pipeline) writeFrom(i int, msg interface{}, f *Future) {
	for ; i >= 0; i-- {
		ctx := p.contexts[i]
		if h, ok := ctx.handler.(OutboundHandler); ok {
			h.Write(ctx, msg, f)
			return
		}
	}

	data, ok := msg.([]byte)
	if !ok {
		f.complete(fmt.Errorf("Cannot write %T: %w", msg, ErrUnsupportedMessage))
		return
	}

	p.ch.sink.write(p.ch, data, f)
}

func (p *Pipeline) flush() {
	p.ch.sink.flush(p.ch)
}
