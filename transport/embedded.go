package transport

import (
	"go.uber.org/zap"
)

// EmbeddedChannel is a channel without a socket or an event loop. Its
// pipeline runs on the caller's goroutine, which makes it the tool of choice
// to test stages.
type EmbeddedChannel struct {
	*Channel

	unflushed []pendingWrite
	outbound  [][]byte
}

func NewEmbeddedChannel(log *zap.Logger, init ChannelInitializer) (*EmbeddedChannel, error) {
	e := &EmbeddedChannel{}

	ch := newChannel(-1, nil, NewAllocator(0), log)
	ch.sink = e
	e.Channel = ch

	if init != nil {
		if err := init(ch); err != nil {
			return nil, err
		}
	}

	ch.pipeline.seal()
	ch.activate()

	return e, nil
}

// WriteInbound feeds msgs to the head of the pipeline as if they were read
// from a socket.
func (e *EmbeddedChannel) WriteInbound(msgs ...interface{}) {
	for _, msg := range msgs {
		if e.isClosed() {
			return
		}

		e.pipeline.fireChannelRead(msg)
	}
}

// ReadOutbound pops the oldest flushed write, or returns nil.
func (e *EmbeddedChannel) ReadOutbound() []byte {
	if len(e.outbound) == 0 {
		return nil
	}

	data := e.outbound[0]
	e.outbound = e.outbound[1:]
	return data
}

// Outbound returns every flushed write concatenated.
func (e *EmbeddedChannel) Outbound() []byte {
	var all []byte
	for _, data := range e.outbound {
		all = append(all, data...)
	}

	return all
}

func (e *EmbeddedChannel) write(ch *Channel, data []byte, f *Future) {
	if ch.isClosed() {
		f.complete(ErrChannelClosed)
		return
	}

	e.unflushed = append(e.unflushed, pendingWrite{data: data, future: f})
}

func (e *EmbeddedChannel) flush(ch *Channel) {
	for len(e.unflushed) > 0 {
		w := e.unflushed[0]
		e.unflushed = e.unflushed[1:]

		e.outbound = append(e.outbound, w.data)
		w.future.complete(nil)
	}
}

func (e *EmbeddedChannel) close(ch *Channel) error {
	for _, w := range e.unflushed {
		w.future.complete(ErrChannelClosed)
	}
	e.unflushed = nil

	return nil
}
