package transport

import "errors"

var (
	ErrConnectFailure          = errors.New("Failed to connect")
	ErrBindFailure             = errors.New("Failed to bind")
	ErrClosedByPeer            = errors.New("Connection closed by peer")
	ErrGracefulShutdownTimeout = errors.New("Graceful shutdown timed out, pending tasks were dropped")
	ErrLoopShutdown            = errors.New("Event loop is shut down")
	ErrChannelClosed           = errors.New("Channel is closed")
	ErrPipelineSealed          = errors.New("Pipeline is sealed, handlers can only be added while the channel initialises")
	ErrUnsupportedMessage      = errors.New("Message reached the head of the pipeline but is not []byte")
)
