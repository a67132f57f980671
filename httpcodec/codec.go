package httpcodec

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/luma/conduit/transport"
)

// Size limits
const (
	maxRequestLineSize = 8192
	maxHeaderSize      = 1 << 20
	maxHeaderLines     = 1000
	maxChunkSizeLine   = 1024
)

var (
	ErrRequestLineTooLarge  = errors.New("request line too large")
	ErrHeaderTooLarge       = errors.New("headers too large")
	ErrTooManyHeaders       = errors.New("too many header lines")
	ErrMalformedRequestLine = errors.New("malformed request line")
	ErrMalformedHeader      = errors.New("malformed header line")
	ErrInvalidContentLength = errors.New("invalid Content-Length")
	ErrMalformedChunk       = errors.New("malformed chunk")

	crlf = []byte("\r\n")
)

type decoderState int

const (
	stateRequestLine decoderState = iota
	stateHeaders
	stateFixedBody
	stateChunkSize
	stateChunkData
	stateChunkDataEnd
	stateTrailers
	stateBadRequest
)

// ServerCodec decodes the bytes of a connection into a *RequestHead followed
// by the *Content frames of its body, and encodes outgoing *Response values.
//
// Requests may be pipelined, once a body is complete the codec starts over
// with the next request line.
type ServerCodec struct {
	state       decoderState
	buf         []byte
	head        *RequestHead
	remaining   int64
	headerBytes int

	log *zap.Logger
}

func NewServerCodec(log *zap.Logger) *ServerCodec {
	return &ServerCodec{log: log}
}

func (c *ServerCodec) ChannelRead(ctx *transport.HandlerContext, msg interface{}) {
	data, ok := msg.([]byte)
	if !ok {
		ctx.FireChannelRead(msg)
		return
	}

	if c.state == stateBadRequest {
		// Waiting for the 400 to be flushed and the channel to close
		return
	}

	c.buf = append(c.buf, data...)

	for ctx.Channel().IsActive() {
		out, progressed, err := c.decode()
		if err != nil {
			c.reject(ctx, err)
			return
		}

		if out != nil {
			ctx.FireChannelRead(out)
		}

		if !progressed {
			break
		}
	}

	if len(c.buf) == 0 {
		c.buf = nil
	}
}

func (c *ServerCodec) Write(ctx *transport.HandlerContext, msg interface{}, f *transport.Future) {
	resp, ok := msg.(*Response)
	if !ok {
		ctx.ForwardWrite(msg, f)
		return
	}

	ctx.ForwardWrite(EncodeResponse(resp), f)
}

func (c *ServerCodec) ChannelActive(ctx *transport.HandlerContext) {
	ctx.FireChannelActive()
}

func (c *ServerCodec) ChannelInactive(ctx *transport.HandlerContext) {
	if c.state != stateRequestLine && c.state != stateBadRequest {
		c.log.Debug("Connection closed in the middle of a request", zap.Int("state", int(c.state)))
	}

	c.buf = nil
	ctx.FireChannelInactive()
}

// decode makes one step of progress. It returns the message produced by that
// step, if any, and whether any input was consumed.
func (c *ServerCodec) decode() (interface{}, bool, error) {
	switch c.state {
	case stateRequestLine:
		return c.decodeRequestLine()

	case stateHeaders:
		return c.decodeHeader()

	case stateFixedBody, stateChunkData:
		return c.decodeBody()

	case stateChunkSize:
		return c.decodeChunkSize()

	case stateChunkDataEnd:
		if len(c.buf) < len(crlf) {
			return nil, false, nil
		}

		if !bytes.HasPrefix(c.buf, crlf) {
			return nil, false, fmt.Errorf("Chunk data is not followed by CRLF: %w", ErrMalformedChunk)
		}

		c.consume(len(crlf))
		c.state = stateChunkSize
		return nil, true, nil

	case stateTrailers:
		return c.decodeTrailer()

	default:
		return nil, false, nil
	}
}

func (c *ServerCodec) decodeRequestLine() (interface{}, bool, error) {
	idx := bytes.Index(c.buf, crlf)
	if idx == -1 {
		if len(c.buf) > maxRequestLineSize {
			return nil, false, ErrRequestLineTooLarge
		}

		return nil, false, nil
	}

	if idx == 0 {
		// Empty lines before a request line are ignored
		c.consume(len(crlf))
		return nil, true, nil
	}

	if idx > maxRequestLineSize {
		return nil, false, ErrRequestLineTooLarge
	}

	parts := strings.SplitN(string(c.buf[:idx]), " ", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || !strings.HasPrefix(parts[2], "HTTP/1.") {
		return nil, false, fmt.Errorf("Failed to parse %q: %w", string(c.buf[:idx]), ErrMalformedRequestLine)
	}

	c.consume(idx + len(crlf))

	c.head = &RequestHead{
		Method:  parts[0],
		URI:     parts[1],
		Version: parts[2],
		Headers: NewHeaders(),
	}
	c.headerBytes = 0
	c.state = stateHeaders

	return nil, true, nil
}

func (c *ServerCodec) decodeHeader() (interface{}, bool, error) {
	idx := bytes.Index(c.buf, crlf)
	if idx == -1 {
		if c.headerBytes+len(c.buf) > maxHeaderSize {
			return nil, false, ErrHeaderTooLarge
		}

		return nil, false, nil
	}

	c.headerBytes += idx + len(crlf)
	if c.headerBytes > maxHeaderSize {
		return nil, false, ErrHeaderTooLarge
	}

	if idx > 0 {
		if c.head.Headers.Len() >= maxHeaderLines {
			return nil, false, ErrTooManyHeaders
		}

		if err := c.head.Headers.ParseLine(c.buf[:idx]); err != nil {
			return nil, false, fmt.Errorf("Failed to parse %q: %w", string(c.buf[:idx]), err)
		}

		c.consume(idx + len(crlf))
		return nil, true, nil
	}

	// Empty line, the head is complete
	c.consume(len(crlf))

	head := c.head
	c.head = nil

	if head.IsChunked() {
		c.state = stateChunkSize
		return head, true, nil
	}

	length, err := head.ContentLength()
	if err != nil {
		return nil, false, err
	}

	if length > 0 {
		c.remaining = length
		c.state = stateFixedBody
	} else {
		c.state = stateRequestLine
	}

	return head, true, nil
}

func (c *ServerCodec) decodeBody() (interface{}, bool, error) {
	if len(c.buf) == 0 {
		return nil, false, nil
	}

	n := int64(len(c.buf))
	if n > c.remaining {
		n = c.remaining
	}

	data := append([]byte(nil), c.buf[:n]...)
	c.consume(int(n))
	c.remaining -= n

	if c.remaining > 0 {
		return &Content{Data: data}, true, nil
	}

	if c.state == stateChunkData {
		c.state = stateChunkDataEnd
		return &Content{Data: data}, true, nil
	}

	c.state = stateRequestLine
	return &Content{Data: data, Last: true}, true, nil
}

func (c *ServerCodec) decodeChunkSize() (interface{}, bool, error) {
	idx := bytes.Index(c.buf, crlf)
	if idx == -1 {
		if len(c.buf) > maxChunkSizeLine {
			return nil, false, fmt.Errorf("Chunk size line too long: %w", ErrMalformedChunk)
		}

		return nil, false, nil
	}

	line := string(c.buf[:idx])
	if semi := strings.IndexByte(line, ';'); semi >= 0 {
		// Chunk extensions are ignored
		line = line[:semi]
	}

	size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil || size < 0 {
		return nil, false, fmt.Errorf("Failed to parse chunk size %q: %w", line, ErrMalformedChunk)
	}

	c.consume(idx + len(crlf))

	if size == 0 {
		c.state = stateTrailers
	} else {
		c.remaining = size
		c.state = stateChunkData
	}

	return nil, true, nil
}

func (c *ServerCodec) decodeTrailer() (interface{}, bool, error) {
	idx := bytes.Index(c.buf, crlf)
	if idx == -1 {
		if len(c.buf) > maxHeaderSize {
			return nil, false, ErrHeaderTooLarge
		}

		return nil, false, nil
	}

	c.consume(idx + len(crlf))

	if idx > 0 {
		// Trailer fields are not surfaced
		return nil, true, nil
	}

	c.state = stateRequestLine
	return &Content{Last: true}, true, nil
}

func (c *ServerCodec) consume(n int) {
	c.buf = c.buf[n:]
}

// reject answers a request that cannot be decoded with 400 Bad Request and
// closes the connection once the response is out.
func (c *ServerCodec) reject(ctx *transport.HandlerContext, err error) {
	c.log.Warn("Failed to decode request", zap.Error(err))

	c.state = stateBadRequest
	c.buf = nil
	c.head = nil

	resp := NewResponse(http.StatusBadRequest, "text/plain;charset=utf-8", []byte(http.StatusText(http.StatusBadRequest)))
	resp.Headers.Add("Connection", "close")

	f := ctx.WriteAndFlush(EncodeResponse(resp))
	f.AddListener(func(*transport.Future) {
		ctx.Close()
	})
}

// EncodeResponse serialises a response, headers in insertion order.
func EncodeResponse(resp *Response) []byte {
	version := resp.Version
	if version == "" {
		version = "HTTP/1.1"
	}

	var b bytes.Buffer
	b.Grow(64 + len(resp.Body))

	b.WriteString(version)
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(resp.Status))
	b.WriteByte(' ')
	b.WriteString(http.StatusText(resp.Status))
	b.Write(crlf)

	if resp.Headers != nil {
		resp.Headers.Each(func(name, value string) {
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(value)
			b.Write(crlf)
		})
	}

	b.Write(crlf)
	b.Write(resp.Body)

	return b.Bytes()
}

var (
	_ transport.InboundHandler   = (*ServerCodec)(nil)
	_ transport.OutboundHandler  = (*ServerCodec)(nil)
	_ transport.LifecycleHandler = (*ServerCodec)(nil)
)
