package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"
)

var (
	ErrEmptyCommand    = errors.New("Command is empty, it must have at least one token")
	ErrInvalidEncoding = errors.New("Command token is not valid UTF-8")

	PrefixArray = byte('*')
	PrefixBulk  = byte('$')
	Terminal    = []byte("\r\n")
)

// Encode serialises a command into a single frame.
//
// The size of the frame is computed up front so the returned slice is
// allocated exactly once.
func Encode(cmd Command) ([]byte, error) {
	size, err := FrameSize(cmd)
	if err != nil {
		return nil, err
	}

	return appendFrame(make([]byte, 0, size), cmd), nil
}

// EncodeTo appends the frame of cmd to dst. Callers that pool their buffers
// size dst with FrameSize so the append does not grow it.
func EncodeTo(dst []byte, cmd Command) ([]byte, error) {
	if _, err := FrameSize(cmd); err != nil {
		return dst, err
	}

	return appendFrame(dst, cmd), nil
}

// FrameSize validates cmd and returns the exact length of its frame.
func FrameSize(cmd Command) (int, error) {
	if len(cmd) == 0 {
		return 0, ErrEmptyCommand
	}

	size := headerSize(len(cmd))
	for i, token := range cmd {
		if !utf8.ValidString(token) {
			return 0, fmt.Errorf("Failed to encode token %d %q: %w", i, token, ErrInvalidEncoding)
		}

		size += headerSize(len(token)) + len(token) + len(Terminal)
	}

	return size, nil
}

func appendFrame(frame []byte, cmd Command) []byte {
	frame = appendHeader(frame, PrefixArray, len(cmd))

	for _, token := range cmd {
		frame = appendHeader(frame, PrefixBulk, len(token))
		frame = append(frame, token...)
		frame = append(frame, Terminal...)
	}

	return frame
}

// EncodeLine is a shortcut for Encode(ParseCommand(line)).
func EncodeLine(line string) ([]byte, error) {
	return Encode(ParseCommand(line))
}

func appendHeader(b []byte, prefix byte, n int) []byte {
	b = append(b, prefix)
	b = strconv.AppendInt(b, int64(n), 10)
	return append(b, Terminal...)
}

// headerSize is the length of `<prefix><n>\r\n`
func headerSize(n int) int {
	digits := 1
	for n >= 10 {
		n /= 10
		digits++
	}

	return 1 + digits + len(Terminal)
}
