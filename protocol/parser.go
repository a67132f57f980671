package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	// MaxBulkLength bounds a single token, the same limit Redis applies.
	MaxBulkLength = 512 << 20

	// MaxArrayLength bounds the number of tokens in one frame.
	MaxArrayLength = 1 << 20
)

var (
	ErrMalformedFrame = errors.New("Frame is malformed")
	ErrFrameTooLarge  = errors.New("Frame exceeds the allowed size")
)

// Reader reads frames written by Encode back into commands.
//
// The client never needs this, but anything sitting on the other end of the
// connection does. It is also what proves frames are self-delimiting.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps data. To avoid denial of service attacks, data should be
// bounded by an io.LimitReader or similar when it comes from the network.
func NewReader(data io.Reader) *Reader {
	if br, ok := data.(*bufio.Reader); ok {
		return &Reader{r: br}
	}

	return &Reader{r: bufio.NewReader(data)}
}

// ReadCommand reads exactly one frame.
//
// io.EOF is returned when the stream ends cleanly between frames, a stream
// that ends in the middle of a frame returns io.ErrUnexpectedEOF.
func (r *Reader) ReadCommand() (Command, error) {
	count, err := r.readHeader(PrefixArray, MaxArrayLength)
	if err != nil {
		return nil, err
	}

	if count < 1 {
		return nil, fmt.Errorf("Array of %d tokens: %w", count, ErrMalformedFrame)
	}

	cmd := make(Command, 0, count)

	for i := 0; i < count; i++ {
		length, err := r.readHeader(PrefixBulk, MaxBulkLength)
		if err != nil {
			return nil, unexpectedEOF(err)
		}

		token := make([]byte, length+len(Terminal))
		if _, err := io.ReadFull(r.r, token); err != nil {
			return nil, unexpectedEOF(err)
		}

		if token[length] != '\r' || token[length+1] != '\n' {
			return nil, fmt.Errorf("Token %d is not terminated by CRLF: %w", i, ErrMalformedFrame)
		}

		cmd = append(cmd, string(token[:length]))
	}

	return cmd, nil
}

func (r *Reader) readHeader(prefix byte, limit int) (int, error) {
	line, err := r.r.ReadSlice('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return 0, io.ErrUnexpectedEOF
		}

		return 0, err
	}

	if len(line) < 4 || line[0] != prefix || line[len(line)-2] != '\r' {
		return 0, fmt.Errorf("Failed to parse header %q: %w", string(line), ErrMalformedFrame)
	}

	n, err := strconv.Atoi(string(line[1 : len(line)-2]))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("Failed to parse length %q: %w", string(line), ErrMalformedFrame)
	}

	if n > limit {
		return 0, fmt.Errorf("Length %d is above %d: %w", n, limit, ErrFrameTooLarge)
	}

	return n, nil
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}

	return err
}
