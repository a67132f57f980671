package transport

import (
	"runtime"
	"time"

	"go.uber.org/multierr"
)

const (
	DefaultAcceptorLoops       = 2
	DefaultShutdownQuietPeriod = 2 * time.Second
	DefaultShutdownTimeout     = 15 * time.Second
)

// ShutdownOptions bound a graceful shutdown of an EventLoopGroup.
type ShutdownOptions struct {
	// QuietPeriod is how long a loop must go without running a task before
	// it may exit
	QuietPeriod time.Duration

	// Timeout is the hard limit after which pending tasks are dropped
	Timeout time.Duration
}

func DefaultShutdownOptions() ShutdownOptions {
	return ShutdownOptions{
		QuietPeriod: DefaultShutdownQuietPeriod,
		Timeout:     DefaultShutdownTimeout,
	}
}

func defaultLoopCount() int {
	return runtime.NumCPU()
}

func appendErr(err, next error) error {
	return multierr.Append(err, next)
}
