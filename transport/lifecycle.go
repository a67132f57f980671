package transport

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// EventKind tags a lifecycle Event.
type EventKind int

const (
	ConnectComplete EventKind = iota
	BindComplete
	ChannelActive
	ChannelInactive
	CloseComplete
)

func (k EventKind) String() string {
	switch k {
	case ConnectComplete:
		return "ConnectComplete"
	case BindComplete:
		return "BindComplete"
	case ChannelActive:
		return "ChannelActive"
	case ChannelInactive:
		return "ChannelInactive"
	case CloseComplete:
		return "CloseComplete"
	default:
		return "Unknown"
	}
}

// Event is a lifecycle transition of a channel or a server. Err is the
// failure cause of a connect or bind, or the close cause of a channel.
type Event struct {
	Kind    EventKind
	Err     error
	Channel *Channel
	Server  *ServerChannel
}

// Coordinator turns connect, bind and close completions into follow-up
// actions: starting whatever depends on a live connection and shutting the
// event loop groups down when the connection or server goes away.
type Coordinator struct {
	groups   []*EventLoopGroup
	shutdown ShutdownOptions

	connectedOnce sync.Once
	onConnected   []func(ch *Channel)

	mu      sync.Mutex
	failure error

	log *zap.Logger
}

func NewCoordinator(log *zap.Logger, shutdown ShutdownOptions, groups ...*EventLoopGroup) *Coordinator {
	return &Coordinator{
		groups:   groups,
		shutdown: shutdown,
		log:      log,
	}
}

// OnConnected registers fn to run once after the watched connect succeeds.
// Register hooks before calling WatchConnect.
func (c *Coordinator) OnConnected(fn func(ch *Channel)) {
	c.onConnected = append(c.onConnected, fn)
}

// WatchConnect reports the outcome of a Bootstrap.Connect to the coordinator.
func (c *Coordinator) WatchConnect(ch *Channel, f *Future) {
	f.AddListener(func(f *Future) {
		c.Dispatch(Event{Kind: ConnectComplete, Err: f.Err(), Channel: ch})
	})
}

// WatchBind reports the outcome of a ServerBootstrap.Bind to the coordinator.
func (c *Coordinator) WatchBind(sc *ServerChannel, f *Future) {
	f.AddListener(func(f *Future) {
		c.Dispatch(Event{Kind: BindComplete, Err: f.Err(), Server: sc})
	})
}

// Dispatch routes an event to its handler.
func (c *Coordinator) Dispatch(ev Event) {
	switch ev.Kind {
	case ConnectComplete:
		c.onConnectComplete(ev)

	case BindComplete:
		c.onBindComplete(ev)

	case ChannelActive, ChannelInactive:
		c.onChannelState(ev)

	case CloseComplete:
		c.onCloseComplete(ev)

	default:
		c.log.Warn("Ignoring unknown lifecycle event", zap.Stringer("kind", ev.Kind))
	}
}

func (c *Coordinator) onConnectComplete(ev Event) {
	if ev.Err != nil {
		c.log.Warn("Client failed to start", zap.Error(ev.Err))
		c.fail(ev.Err)
		c.Shutdown()
		return
	}

	c.log.Info("Client started", zap.String("remote", addrString(ev.Channel.RemoteAddr())))

	ch := ev.Channel
	ch.CloseFuture().AddListener(func(*Future) {
		c.Dispatch(Event{Kind: CloseComplete, Err: ch.CloseCause(), Channel: ch})
	})

	c.connectedOnce.Do(func() {
		for _, fn := range c.onConnected {
			fn(ch)
		}
	})
}

func (c *Coordinator) onBindComplete(ev Event) {
	if ev.Err != nil {
		c.log.Warn("Server failed to start", zap.Error(ev.Err))
		c.fail(ev.Err)
		c.Shutdown()
		return
	}

	c.log.Info("Server started", zap.String("addr", addrString(ev.Server.Addr())))

	sc := ev.Server
	sc.CloseFuture().AddListener(func(*Future) {
		c.Dispatch(Event{Kind: CloseComplete, Server: sc})
	})
}

func (c *Coordinator) onChannelState(ev Event) {
	if ev.Channel == nil {
		return
	}

	c.log.Debug("Channel state changed",
		zap.Stringer("event", ev.Kind),
		zap.String("remote", addrString(ev.Channel.RemoteAddr())),
		zap.NamedError("cause", ev.Err))
}

func (c *Coordinator) onCloseComplete(ev Event) {
	if ev.Err == ErrClosedByPeer {
		c.log.Info("Connection closed by peer, shutting down")
	} else {
		c.log.Info("Closed, shutting down", zap.NamedError("cause", ev.Err))
	}

	c.Shutdown()
}

// Shutdown gracefully shuts every group down. It may be called any number of
// times.
func (c *Coordinator) Shutdown() {
	for _, g := range c.groups {
		g.ShutdownGracefully(c.shutdown.QuietPeriod, c.shutdown.Timeout)
	}
}

func (c *Coordinator) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failure = multierr.Append(c.failure, err)
}

// Err is the connect or bind failure recorded so far, if any.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.failure
}

// Wait blocks until every group terminated and returns the connect or bind
// failure together with any shutdown error.
func (c *Coordinator) Wait(ctx context.Context) error {
	var err error

	for _, g := range c.groups {
		if terr := g.TerminationFuture().Await(ctx); terr != nil {
			err = multierr.Append(err, terr)
		}
	}

	return multierr.Combine(c.Err(), err)
}
