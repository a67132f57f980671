package transport

import (
	"fmt"
	"net"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
)

// Bootstrap opens client channels.
type Bootstrap struct {
	Group *EventLoopGroup

	// Initializer builds the pipeline of the channel before it connects
	Initializer ChannelInitializer

	// ReadBufferSize is the size of a single socket read, 0 uses
	// DefaultReadBufferSize
	ReadBufferSize int

	// Events receives ChannelActive and ChannelInactive, usually a
	// Coordinator's Dispatch
	Events func(Event)

	Log *zap.Logger
}

// Connect starts a non-blocking connect to addr. The returned future
// completes once the connection is established or failed; failures wrap
// ErrConnectFailure.
func (b *Bootstrap) Connect(addr string) (*Channel, *Future) {
	log := b.Log.Named("channel").With(zap.String("remote", addr))

	loop := b.Group.Next()
	ch := newChannel(-1, loop, NewAllocator(b.ReadBufferSize), log)
	ch.events = b.Events
	ch.connectFuture = NewFuture()

	raddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		ch.close(err)
		return ch, ch.connectFuture
	}

	ch.remoteAddr = raddr

	if err := loop.Execute(func() { ch.connect(raddr, b.Initializer) }); err != nil {
		ch.close(err)
	}

	return ch, ch.connectFuture
}

func (ch *Channel) connect(raddr *net.TCPAddr, init ChannelInitializer) {
	sa, domain := tcpAddrToSockaddr(raddr)

	fd, err := syscall.Socket(domain, syscall.SOCK_STREAM|syscall.SOCK_NONBLOCK|syscall.SOCK_CLOEXEC, syscall.IPPROTO_TCP)
	if err != nil {
		ch.close(fmt.Errorf("Failed to open socket: %w", err))
		return
	}

	ch.fd = fd

	if err := setNoDelay(fd); err != nil {
		ch.log.Warn("Failed to set TCP_NODELAY", zap.Error(err))
	}

	if init != nil {
		if err := init(ch); err != nil {
			ch.close(fmt.Errorf("Failed to initialise channel: %w", err))
			return
		}
	}

	ch.pipeline.seal()

	err = syscall.Connect(fd, sa)
	switch err {
	case nil:
		if err := ch.loop.register(fd, ch, readEvents); err != nil {
			ch.close(err)
			return
		}
		ch.registered = true
		ch.connected()

	case syscall.EINPROGRESS:
		atomic.StoreInt32(&ch.state, channelConnecting)

		if err := ch.loop.register(fd, ch, readEvents|writeEvents); err != nil {
			ch.close(err)
			return
		}
		ch.registered = true

	default:
		ch.close(err)
	}
}
