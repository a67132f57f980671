package transport_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/luma/conduit/transport"
)

// recorder notes every inbound event it sees in trace and forwards it unless
// halt is set.
type recorder struct {
	name  string
	trace *[]string
	halt  bool
}

func (r *recorder) ChannelRead(ctx *transport.HandlerContext, msg interface{}) {
	*r.trace = append(*r.trace, r.name+":"+string(msg.([]byte)))

	if !r.halt {
		ctx.FireChannelRead(msg)
	}
}

func (r *recorder) ChannelActive(ctx *transport.HandlerContext) {
	*r.trace = append(*r.trace, r.name+":active")
	ctx.FireChannelActive()
}

func (r *recorder) ChannelInactive(ctx *transport.HandlerContext) {
	*r.trace = append(*r.trace, r.name+":inactive")
	ctx.FireChannelInactive()
}

// suffixer appends its tag to every outbound []byte.
type suffixer struct {
	tag string
}

func (s suffixer) Write(ctx *transport.HandlerContext, msg interface{}, f *transport.Future) {
	ctx.ForwardWrite(append(msg.([]byte), s.tag...), f)
}

type faulty struct {
	transport.HandlerAdapter
}

func (faulty) ChannelRead(ctx *transport.HandlerContext, msg interface{}) {
	ctx.FireExceptionCaught(errors.New("cannot handle " + string(msg.([]byte))))
}

type catcher struct {
	caught []error
}

func (c *catcher) ExceptionCaught(ctx *transport.HandlerContext, err error) {
	c.caught = append(c.caught, err)
}

var _ = Describe("Pipeline", func() {
	var trace []string

	BeforeEach(func() {
		trace = nil
	})

	stages := func(halt string) transport.ChannelInitializer {
		return func(ch *transport.Channel) error {
			for _, name := range []string{"A", "B", "C"} {
				r := &recorder{name: name, trace: &trace, halt: name == halt}
				if err := ch.Pipeline().AddLast(name, r); err != nil {
					return err
				}
			}
			return nil
		}
	}

	It("delivers inbound events head to tail", func() {
		ch, err := transport.NewEmbeddedChannel(zap.NewNop(), stages(""))
		Expect(err).To(Succeed())

		trace = nil
		ch.WriteInbound([]byte("m"))

		Expect(trace).To(Equal([]string{"A:m", "B:m", "C:m"}))
		Expect(ch.Pipeline().Names()).To(Equal([]string{"A", "B", "C"}))
	})

	It("fires ChannelActive through every stage on activation", func() {
		_, err := transport.NewEmbeddedChannel(zap.NewNop(), stages(""))
		Expect(err).To(Succeed())

		Expect(trace).To(Equal([]string{"A:active", "B:active", "C:active"}))
	})

	It("stops propagation at a stage that does not forward", func() {
		ch, err := transport.NewEmbeddedChannel(zap.NewNop(), stages("B"))
		Expect(err).To(Succeed())

		trace = nil
		ch.WriteInbound([]byte("m"))

		Expect(trace).To(Equal([]string{"A:m", "B:m"}))
	})

	It("applies outbound stages tail to head", func() {
		ch, err := transport.NewEmbeddedChannel(zap.NewNop(), func(ch *transport.Channel) error {
			Expect(ch.Pipeline().AddLast("first", suffixer{"1"})).To(Succeed())
			Expect(ch.Pipeline().AddLast("second", suffixer{"2"})).To(Succeed())
			return nil
		})
		Expect(err).To(Succeed())

		f := ch.WriteAndFlush([]byte("x"))

		Expect(f.IsSuccess()).To(BeTrue())
		Expect(ch.ReadOutbound()).To(Equal([]byte("x21")))
		Expect(ch.ReadOutbound()).To(BeNil())
	})

	It("holds writes until they are flushed", func() {
		ch, err := transport.NewEmbeddedChannel(zap.NewNop(), nil)
		Expect(err).To(Succeed())

		f := ch.Write([]byte("a"))
		Expect(f.IsDone()).To(BeFalse())
		Expect(ch.Outbound()).To(BeEmpty())

		ch.Flush()
		Expect(f.IsSuccess()).To(BeTrue())
		Expect(ch.Outbound()).To(Equal([]byte("a")))
	})

	It("fails writes that are not bytes by the time they reach the head", func() {
		ch, err := transport.NewEmbeddedChannel(zap.NewNop(), nil)
		Expect(err).To(Succeed())

		f := ch.WriteAndFlush(42)

		Expect(f.IsDone()).To(BeTrue())
		Expect(f.Err()).To(MatchError(transport.ErrUnsupportedMessage))
	})

	It("routes exceptions to the next exception stage", func() {
		c := &catcher{}

		ch, err := transport.NewEmbeddedChannel(zap.NewNop(), func(ch *transport.Channel) error {
			Expect(ch.Pipeline().AddLast("faulty", faulty{})).To(Succeed())
			Expect(ch.Pipeline().AddLast("catcher", c)).To(Succeed())
			return nil
		})
		Expect(err).To(Succeed())

		ch.WriteInbound([]byte("this"))

		Expect(c.caught).To(HaveLen(1))
		Expect(c.caught[0]).To(MatchError("cannot handle this"))
	})

	Describe("AddLast()", func() {
		It("rejects duplicate names", func() {
			_, err := transport.NewEmbeddedChannel(zap.NewNop(), func(ch *transport.Channel) error {
				Expect(ch.Pipeline().AddLast("same", transport.HandlerAdapter{})).To(Succeed())
				return ch.Pipeline().AddLast("same", transport.HandlerAdapter{})
			})

			Expect(err).To(MatchError(ContainSubstring("Duplicate")))
		})

		It("fails once the channel is registered", func() {
			ch, err := transport.NewEmbeddedChannel(zap.NewNop(), nil)
			Expect(err).To(Succeed())

			err = ch.Pipeline().AddLast("late", transport.HandlerAdapter{})
			Expect(err).To(MatchError(transport.ErrPipelineSealed))
			Expect(ch.Pipeline().Get("late")).To(BeNil())
		})
	})

	Describe("Close()", func() {
		It("fires ChannelInactive and completes the close future", func() {
			ch, err := transport.NewEmbeddedChannel(zap.NewNop(), stages(""))
			Expect(err).To(Succeed())

			trace = nil
			f := ch.Close()

			Expect(f.IsSuccess()).To(BeTrue())
			Expect(ch.IsActive()).To(BeFalse())
			Expect(trace).To(Equal([]string{"A:inactive", "B:inactive", "C:inactive"}))
		})

		It("fails unflushed and later writes", func() {
			ch, err := transport.NewEmbeddedChannel(zap.NewNop(), nil)
			Expect(err).To(Succeed())

			pending := ch.Write([]byte("a"))
			ch.Close()

			Expect(pending.Err()).To(MatchError(transport.ErrChannelClosed))
			Expect(ch.WriteAndFlush([]byte("b")).Err()).To(MatchError(transport.ErrChannelClosed))
			Expect(ch.Outbound()).To(BeEmpty())
		})

		It("is closed by CloseOnInactive only once", func() {
			ch, err := transport.NewEmbeddedChannel(zap.NewNop(), func(ch *transport.Channel) error {
				return ch.Pipeline().AddLast("closer", transport.CloseOnInactive{})
			})
			Expect(err).To(Succeed())

			Expect(ch.Close().IsSuccess()).To(BeTrue())
			Expect(ch.Close().IsSuccess()).To(BeTrue())
		})
	})
})

var _ = Describe("LoggingHandler", func() {
	It("logs reads and writes with a hex dump", func() {
		core, logs := observer.New(zapcore.DebugLevel)

		ch, err := transport.NewEmbeddedChannel(zap.NewNop(), func(ch *transport.Channel) error {
			return ch.Pipeline().AddLast("logger", transport.NewLoggingHandler(zap.New(core), zapcore.DebugLevel))
		})
		Expect(err).To(Succeed())

		ch.WriteInbound([]byte("hi"))
		ch.WriteAndFlush([]byte("there"))

		Expect(logs.FilterMessage("ACTIVE").Len()).To(Equal(1))

		reads := logs.FilterMessage("READ").All()
		Expect(reads).To(HaveLen(1))
		Expect(reads[0].ContextMap()).To(HaveKeyWithValue("bytes", int64(2)))
		Expect(reads[0].ContextMap()["dump"]).To(ContainSubstring("68 69"))

		writes := logs.FilterMessage("WRITE").All()
		Expect(writes).To(HaveLen(1))
		Expect(writes[0].ContextMap()).To(HaveKeyWithValue("bytes", int64(5)))

		Expect(ch.Outbound()).To(Equal([]byte("there")))
	})

	It("skips rendering when its level is disabled", func() {
		core, logs := observer.New(zapcore.InfoLevel)

		ch, err := transport.NewEmbeddedChannel(zap.NewNop(), func(ch *transport.Channel) error {
			return ch.Pipeline().AddLast("logger", transport.NewLoggingHandler(zap.New(core), zapcore.DebugLevel))
		})
		Expect(err).To(Succeed())

		ch.WriteInbound([]byte("hi"))

		Expect(logs.Len()).To(Equal(0))
	})
})
