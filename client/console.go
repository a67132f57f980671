package client

import (
	"bufio"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/luma/conduit/protocol"
	"github.com/luma/conduit/transport"
)

// QuitCommand closes the connection when typed on its own line.
const QuitCommand = "q"

// Writer is the part of a channel the console needs.
type Writer interface {
	WriteAndFlush(msg interface{}) *transport.Future
	Close() *transport.Future
	Allocator() *transport.Allocator
}

// Console reads commands from a terminal, one per line, and sends them down
// a channel as frames. It blocks on its input so it must run on its own
// goroutine, never on an event loop.
type Console struct {
	input io.Reader
	out   Writer
	log   *zap.Logger
}

func NewConsole(input io.Reader, out Writer, log *zap.Logger) *Console {
	return &Console{
		input: input,
		out:   out,
		log:   log,
	}
}

// Run reads until QuitCommand, the end of the input or the channel going
// away. It closes the channel in the first two cases.
func (c *Console) Run() error {
	scanner := bufio.NewScanner(c.input)
	scanner.Buffer(make([]byte, 0, 4096), protocol.MaxBulkLength)

	for scanner.Scan() {
		line := scanner.Text()

		if line == QuitCommand {
			c.log.Info("Quit requested, closing connection")
			c.out.Close()
			return nil
		}

		c.log.Debug("Command", zap.String("line", line))

		frame, err := c.encode(line)
		if err != nil {
			// Only this command is lost, the connection stays up
			c.log.Error("Failed to encode command", zap.Error(err))
			continue
		}

		f := c.out.WriteAndFlush(frame)
		if f.IsDone() && isGone(f.Err()) {
			c.log.Info("Connection is gone, stopping input", zap.Error(f.Err()))
			return nil
		}

		f.AddListener(func(f *transport.Future) {
			if err := f.Err(); err != nil {
				c.log.Warn("Failed to send command", zap.Error(err))
			}
		})
	}

	if err := scanner.Err(); err != nil {
		c.out.Close()
		return err
	}

	c.log.Info("End of input, closing connection")
	c.out.Close()
	return nil
}

// encode writes the frame of line into a buffer from the channel's allocator.
func (c *Console) encode(line string) ([]byte, error) {
	cmd := protocol.ParseCommand(line)

	size, err := protocol.FrameSize(cmd)
	if err != nil {
		return nil, err
	}

	return protocol.EncodeTo(c.out.Allocator().Buffer(size), cmd)
}

func isGone(err error) bool {
	return errors.Is(err, transport.ErrLoopShutdown) || errors.Is(err, transport.ErrChannelClosed)
}
