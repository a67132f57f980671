package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/zap"
)

// ServerBootstrap opens listening sockets on an acceptor group and hands
// every accepted connection to a loop of the worker group.
type ServerBootstrap struct {
	Acceptors *EventLoopGroup
	Workers   *EventLoopGroup

	// ChildInitializer builds the pipeline of every accepted channel
	ChildInitializer ChannelInitializer

	// Reuseport opens one SO_REUSEPORT listener per acceptor loop so the
	// kernel spreads incoming connections between them. Without it a
	// single listener is used.
	Reuseport bool

	ReadBufferSize int

	// Events receives ChannelActive and ChannelInactive of accepted channels
	Events func(Event)

	Log *zap.Logger
}

// ServerChannel is the set of listening sockets of one Bind.
type ServerChannel struct {
	bootstrap ServerBootstrap
	addr      net.Addr
	listeners []*listener

	open   int32
	active int64

	closeFuture *Future

	log *zap.Logger
}

// Bind listens on addr. The returned future completes once every acceptor
// loop is accepting; failures wrap ErrBindFailure.
func (b *ServerBootstrap) Bind(addr string) (*ServerChannel, *Future) {
	sc := &ServerChannel{
		bootstrap:   *b,
		closeFuture: NewFuture(),
		log:         b.Log.Named("server").With(zap.String("addr", addr)),
	}

	bindFuture := NewFuture()

	count := 1
	if b.Reuseport {
		count = b.Acceptors.Len()
	}

	for i := 0; i < count; i++ {
		fd, laddr, err := listen(addr, b.Reuseport)
		if err != nil {
			sc.closeUnregistered()
			bindFuture.complete(fmt.Errorf("%w %s: %v", ErrBindFailure, addr, err))
			return sc, bindFuture
		}

		if sc.addr == nil {
			sc.addr = laddr

			// With port 0 every listener must share the port the first one got
			addr = laddr.String()
		}

		sc.listeners = append(sc.listeners, &listener{
			fd:     fd,
			loop:   b.Acceptors.Next(),
			server: sc,
		})
	}

	sc.open = int32(len(sc.listeners))
	remaining := int32(len(sc.listeners))

	for _, l := range sc.listeners {
		l := l

		err := l.loop.Execute(func() {
			if err := l.loop.register(l.fd, l, readEvents); err != nil {
				bindFuture.complete(fmt.Errorf("%w %s: %v", ErrBindFailure, addr, err))
				sc.Close()
				return
			}

			l.registered = true

			if atomic.AddInt32(&remaining, -1) == 0 {
				sc.log.Info("Listening", zap.Int("listeners", len(sc.listeners)))
				bindFuture.complete(nil)
			}
		})

		if err != nil {
			bindFuture.complete(fmt.Errorf("%w %s: %v", ErrBindFailure, addr, err))
			sc.Close()
			break
		}
	}

	return sc, bindFuture
}

// Addr is the address the server is bound to, with the real port when
// binding to port 0.
func (sc *ServerChannel) Addr() net.Addr {
	return sc.addr
}

// ActiveConnections counts accepted channels that have not closed yet.
func (sc *ServerChannel) ActiveConnections() int64 {
	return atomic.LoadInt64(&sc.active)
}

func (sc *ServerChannel) CloseFuture() *Future {
	return sc.closeFuture
}

// Close stops accepting. Accepted channels stay open until they close or
// their worker loop shuts down.
func (sc *ServerChannel) Close() *Future {
	for _, l := range sc.listeners {
		l := l

		if err := l.loop.Execute(l.close); err != nil {
			// Loop is gone, no goroutine can race us on this listener
			l.close()
		}
	}

	return sc.closeFuture
}

func (sc *ServerChannel) closeUnregistered() {
	for _, l := range sc.listeners {
		syscall.Close(l.fd)
	}

	sc.listeners = nil
	sc.closeFuture.complete(nil)
}

func (sc *ServerChannel) listenerClosed() {
	if atomic.AddInt32(&sc.open, -1) == 0 {
		sc.log.Info("Stopped accepting new connections")
		sc.closeFuture.complete(nil)
	}
}

func (sc *ServerChannel) accept(fd int, sa syscall.Sockaddr) {
	remote := sockaddrToTCPAddr(sa)
	log := sc.bootstrap.Log.Named("channel").With(zap.String("remote", addrString(remote)))

	worker := sc.bootstrap.Workers.Next()

	ch := newChannel(fd, worker, NewAllocator(sc.bootstrap.ReadBufferSize), log)
	ch.remoteAddr = remote
	ch.localAddr = sc.addr
	ch.events = sc.bootstrap.Events
	ch.onClose = func(*Channel) {
		atomic.AddInt64(&sc.active, -1)
	}

	atomic.AddInt64(&sc.active, 1)

	init := sc.bootstrap.ChildInitializer
	err := worker.Execute(func() {
		if err := setNoDelay(fd); err != nil {
			log.Warn("Failed to set TCP_NODELAY", zap.Error(err))
		}

		if init != nil {
			if err := init(ch); err != nil {
				log.Error("Failed to initialise accepted channel", zap.Error(err))
				ch.close(err)
				return
			}
		}

		ch.pipeline.seal()

		if err := worker.register(fd, ch, readEvents); err != nil {
			log.Error("Failed to register accepted channel", zap.Error(err))
			ch.close(err)
			return
		}

		ch.registered = true
		ch.activate()
	})

	if err != nil {
		log.Warn("Dropping accepted connection, worker loop is shut down", zap.Error(err))
		ch.close(err)
	}
}

// listener is one listening socket owned by an acceptor loop.
type listener struct {
	fd         int
	loop       *EventLoop
	server     *ServerChannel
	registered bool
	closeOnce  sync.Once
}

func (l *listener) handleEvents(events uint32) {
	for {
		fd, sa, err := syscall.Accept4(l.fd, syscall.SOCK_NONBLOCK|syscall.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case syscall.EAGAIN:
				return

			case syscall.EINTR, syscall.ECONNABORTED:
				continue

			default:
				l.server.log.Error("Failed to accept connection", zap.Error(err))
				return
			}
		}

		l.server.accept(fd, sa)
	}
}

func (l *listener) handlePanic(v interface{}) {
	l.server.log.Error("Listener panicked, closing it", zap.Any("panic", v))
	l.close()
}

func (l *listener) closeForShutdown() {
	l.close()
}

func (l *listener) close() {
	l.closeOnce.Do(func() {
		if l.registered {
			l.registered = false
			if err := l.loop.deregister(l.fd); err != nil {
				l.server.log.Warn("Failed to deregister listener", zap.Error(err))
			}
		}

		if err := syscall.Close(l.fd); err != nil {
			l.server.log.Warn("Listener did not close cleanly", zap.Error(err))
		}

		l.server.listenerClosed()
	})
}

// listen opens a listening socket through the net package, so SO_REUSEPORT
// and address parsing come for free, then takes over a non-blocking copy of
// its fd for the poller.
func listen(addr string, reuse bool) (int, net.Addr, error) {
	var (
		ln  net.Listener
		err error
	)

	if reuse {
		ln, err = reuseport.Listen("tcp", addr)
	} else {
		ln, err = net.Listen("tcp", addr)
	}

	if err != nil {
		return -1, nil, err
	}

	defer ln.Close()

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return -1, nil, fmt.Errorf("Expected a TCP listener, got %T", ln)
	}

	file, err := tcpLn.File()
	if err != nil {
		return -1, nil, err
	}

	defer file.Close()

	fd, err := syscall.Dup(int(file.Fd()))
	if err != nil {
		return -1, nil, err
	}

	syscall.CloseOnExec(fd)

	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return -1, nil, err
	}

	return fd, ln.Addr(), nil
}
