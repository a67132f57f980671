package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"
)

const (
	channelNew int32 = iota
	channelConnecting
	channelActive
	channelClosed
)

// ChannelInitializer populates the pipeline of a new channel before it is
// registered with its event loop.
type ChannelInitializer func(ch *Channel) error

// sink is where writes end up once they left the head of the pipeline.
type sink interface {
	write(ch *Channel, data []byte, f *Future)
	flush(ch *Channel)
	close(ch *Channel) error
}

type pendingWrite struct {
	data   []byte
	future *Future
}

// Channel is one TCP connection bound to one event loop.
//
// The exported methods may be called from any goroutine, they hand the work
// over to the channel's loop. Everything else runs on the loop.
type Channel struct {
	fd       int
	loop     *EventLoop
	pipeline *Pipeline
	alloc    *Allocator
	sink     sink

	localAddr  net.Addr
	remoteAddr net.Addr

	state int32

	// Only touched by the loop goroutine
	registered bool
	pending    []pendingWrite
	writeArmed bool

	connectFuture *Future
	closeFuture   *Future

	causeMu sync.Mutex
	cause   error

	events  func(Event)
	onClose func(ch *Channel)

	log *zap.Logger
}

func newChannel(fd int, loop *EventLoop, alloc *Allocator, log *zap.Logger) *Channel {
	ch := &Channel{
		fd:          fd,
		loop:        loop,
		alloc:       alloc,
		sink:        socketSink{},
		closeFuture: NewFuture(),
		log:         log,
	}

	ch.pipeline = newPipeline(ch, log.Named("pipeline"))

	return ch
}

func (ch *Channel) Pipeline() *Pipeline {
	return ch.pipeline
}

func (ch *Channel) Loop() *EventLoop {
	return ch.loop
}

func (ch *Channel) Allocator() *Allocator {
	return ch.alloc
}

func (ch *Channel) LocalAddr() net.Addr {
	return ch.localAddr
}

func (ch *Channel) RemoteAddr() net.Addr {
	return ch.remoteAddr
}

func (ch *Channel) IsActive() bool {
	return atomic.LoadInt32(&ch.state) == channelActive
}

func (ch *Channel) isClosed() bool {
	return atomic.LoadInt32(&ch.state) == channelClosed
}

// CloseFuture completes once the channel closed, whichever side closed it.
func (ch *Channel) CloseFuture() *Future {
	return ch.closeFuture
}

// CloseCause is why the channel closed: nil for a local close,
// ErrClosedByPeer when the peer hung up, or the I/O error that broke it.
func (ch *Channel) CloseCause() error {
	ch.causeMu.Lock()
	defer ch.causeMu.Unlock()

	return ch.cause
}

func (ch *Channel) execute(task func()) error {
	if ch.loop == nil {
		task()
		return nil
	}

	return ch.loop.Execute(task)
}

// Write passes msg through the whole pipeline, tail to head. It does not
// flush.
func (ch *Channel) Write(msg interface{}) *Future {
	f := NewFuture()

	if err := ch.execute(func() { ch.pipeline.write(msg, f) }); err != nil {
		f.complete(err)
	}

	return f
}

func (ch *Channel) Flush() {
	// A failed Execute means the loop is gone and there is nothing to flush
	_ = ch.execute(ch.pipeline.flush)
}

func (ch *Channel) WriteAndFlush(msg interface{}) *Future {
	f := NewFuture()

	err := ch.execute(func() {
		ch.pipeline.write(msg, f)
		ch.pipeline.flush()
	})

	if err != nil {
		f.complete(err)
	}

	return f
}

// Close closes the channel and returns its close future.
func (ch *Channel) Close() *Future {
	if err := ch.execute(func() { ch.close(nil) }); err != nil {
		// The loop terminated, which closed every channel registered with it
		ch.log.Debug("Close requested after the event loop terminated", zap.Error(err))
	}

	return ch.closeFuture
}

func (ch *Channel) close(cause error) {
	state := atomic.SwapInt32(&ch.state, channelClosed)
	if state == channelClosed {
		return
	}

	ch.causeMu.Lock()
	ch.cause = cause
	ch.causeMu.Unlock()

	if err := ch.sink.close(ch); err != nil {
		ch.log.Warn("Channel did not close cleanly", zap.Error(err))
	}

	pending := ch.pending
	ch.pending = nil
	for _, w := range pending {
		w.future.complete(ErrChannelClosed)
	}

	if ch.connectFuture != nil {
		reason := cause
		if reason == nil {
			reason = ErrChannelClosed
		}

		ch.connectFuture.complete(fmt.Errorf("%w: %v", ErrConnectFailure, reason))
	}

	if state == channelActive {
		ch.pipeline.fireChannelInactive()
		ch.emit(Event{Kind: ChannelInactive, Channel: ch, Err: cause})
	}

	if ch.onClose != nil {
		ch.onClose(ch)
	}

	ch.log.Debug("Channel closed", zap.NamedError("cause", cause))
	ch.closeFuture.complete(nil)
}

// activate marks the channel as connected and tells the pipeline.
func (ch *Channel) activate() {
	atomic.StoreInt32(&ch.state, channelActive)

	if ch.connectFuture != nil {
		ch.connectFuture.complete(nil)
	}

	ch.pipeline.fireChannelActive()
	ch.emit(Event{Kind: ChannelActive, Channel: ch})
}

func (ch *Channel) emit(ev Event) {
	if ch.events != nil {
		ch.events(ev)
	}
}

func (ch *Channel) handleEvents(events uint32) {
	if atomic.LoadInt32(&ch.state) == channelConnecting {
		if events&(writeEvents|errorEvents) != 0 {
			ch.finishConnect()
		}
		return
	}

	if events&(readEvents|errorEvents) != 0 {
		ch.read()
	}

	if events&writeEvents != 0 && !ch.isClosed() {
		ch.flushPending()
	}
}

func (ch *Channel) handlePanic(v interface{}) {
	err := fmt.Errorf("Panic while handling channel events: %v", v)
	ch.pipeline.fireExceptionCaught(err)
	ch.close(err)
}

func (ch *Channel) closeForShutdown() {
	ch.close(nil)
}

func (ch *Channel) read() {
	buf := ch.alloc.scratch()
	defer ch.alloc.release(buf)

	n, err := syscall.Read(ch.fd, *buf)

	switch {
	case err == syscall.EAGAIN || err == syscall.EINTR:
		return

	case err != nil:
		err = fmt.Errorf("Failed to read: %w", err)
		ch.pipeline.fireExceptionCaught(err)
		ch.close(err)

	case n == 0:
		ch.close(ErrClosedByPeer)

	default:
		ch.pipeline.fireChannelRead(ch.alloc.Copy((*buf)[:n]))
	}
}

// flushPending writes queued data until the queue is empty or the socket
// would block, in which case the loop waits for EPOLLOUT.
func (ch *Channel) flushPending() {
	if !ch.IsActive() {
		return
	}

	for len(ch.pending) > 0 {
		w := &ch.pending[0]

		n, err := syscall.Write(ch.fd, w.data)
		if err == syscall.EAGAIN || err == syscall.EINTR {
			ch.armWrite(true)
			return
		}

		if err != nil {
			err = fmt.Errorf("Failed to write: %w", err)
			ch.pipeline.fireExceptionCaught(err)
			ch.close(err)
			return
		}

		w.data = w.data[n:]
		if len(w.data) > 0 {
			continue
		}

		f := w.future
		ch.pending[0] = pendingWrite{}
		ch.pending = ch.pending[1:]

		// Listeners may write or close, the queue is consistent by now
		f.complete(nil)
	}

	ch.armWrite(false)
}

func (ch *Channel) armWrite(on bool) {
	if on == ch.writeArmed || ch.isClosed() {
		return
	}

	events := uint32(readEvents)
	if on {
		events |= writeEvents
	}

	if err := ch.loop.modify(ch.fd, events); err != nil {
		ch.log.Warn("Failed to change poller interest", zap.Bool("write", on), zap.Error(err))
		return
	}

	ch.writeArmed = on
}

func (ch *Channel) finishConnect() {
	soErr, err := syscall.GetsockoptInt(ch.fd, syscall.SOL_SOCKET, syscall.SO_ERROR)
	if err == nil && soErr != 0 {
		err = syscall.Errno(soErr)
	}

	if err != nil {
		ch.close(err)
		return
	}

	if err := ch.loop.modify(ch.fd, readEvents); err != nil {
		ch.close(err)
		return
	}

	ch.connected()
}

func (ch *Channel) connected() {
	if sa, err := syscall.Getsockname(ch.fd); err == nil {
		ch.localAddr = sockaddrToTCPAddr(sa)
	}

	ch.log.Debug("Channel connected", zap.String("local", addrString(ch.localAddr)))

	ch.activate()

	// Anything written while connecting goes out now
	ch.flushPending()
}

// socketSink queues writes on the channel and drains them into its socket.
type socketSink struct{}

func (socketSink) write(ch *Channel, data []byte, f *Future) {
	if ch.isClosed() {
		f.complete(ErrChannelClosed)
		return
	}

	if len(data) == 0 {
		f.complete(nil)
		return
	}

	ch.pending = append(ch.pending, pendingWrite{data: data, future: f})
}

func (socketSink) flush(ch *Channel) {
	if ch.writeArmed {
		// Already waiting for the socket to drain
		return
	}

	ch.flushPending()
}

func (socketSink) close(ch *Channel) error {
	if ch.fd < 0 {
		return nil
	}

	var err error
	if ch.registered {
		ch.registered = false
		err = ch.loop.deregister(ch.fd)
	}

	return appendErr(err, syscall.Close(ch.fd))
}

func setNoDelay(fd int) error {
	return syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)
}

func sockaddrToTCPAddr(sa syscall.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *syscall.SockaddrInet4:
		return &net.TCPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}

	case *syscall.SockaddrInet6:
		return &net.TCPAddr{IP: append(net.IP(nil), sa.Addr[:]...), Port: sa.Port}

	default:
		return nil
	}
}

func tcpAddrToSockaddr(addr *net.TCPAddr) (syscall.Sockaddr, int) {
	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		sa := &syscall.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, syscall.AF_INET
	}

	sa := &syscall.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return sa, syscall.AF_INET6
}
