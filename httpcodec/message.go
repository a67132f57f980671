package httpcodec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/sjson"
)

// RequestHead is the request line and header block of a request. It is
// complete before any Content of the same request is emitted.
type RequestHead struct {
	Method  string
	URI     string
	Version string
	Headers *Headers
}

// ContentLength returns the declared body length, or -1 when the request
// does not declare one.
func (r *RequestHead) ContentLength() (int64, error) {
	value, ok := r.Headers.Get("Content-Length")
	if !ok {
		return -1, nil
	}

	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("Failed to parse %q: %w", value, ErrInvalidContentLength)
	}

	return n, nil
}

func (r *RequestHead) IsChunked() bool {
	value, ok := r.Headers.Get("Transfer-Encoding")
	if !ok {
		return false
	}

	codings := strings.Split(value, ",")
	return strings.EqualFold(strings.TrimSpace(codings[len(codings)-1]), "chunked")
}

// KeepAlive reports whether the connection may carry another request after
// this one.
func (r *RequestHead) KeepAlive() bool {
	connection, _ := r.Headers.Get("Connection")

	if r.Version == "HTTP/1.0" {
		return strings.EqualFold(connection, "keep-alive")
	}

	return !strings.EqualFold(connection, "close")
}

// MarshalJSON renders the head for diagnostics, headers stay in received
// order.
func (r *RequestHead) MarshalJSON() ([]byte, error) {
	js := []byte(`{"headers":[]}`)

	var err error
	for _, kv := range [][2]string{{"method", r.Method}, {"uri", r.URI}, {"version", r.Version}} {
		if js, err = sjson.SetBytes(js, kv[0], kv[1]); err != nil {
			return nil, err
		}
	}

	for _, f := range r.Headers.Fields() {
		field, err := sjson.SetBytes([]byte(`{}`), "name", f.Name)
		if err != nil {
			return nil, err
		}

		if field, err = sjson.SetBytes(field, "value", f.Value); err != nil {
			return nil, err
		}

		if js, err = sjson.SetRawBytes(js, "headers.-1", field); err != nil {
			return nil, err
		}
	}

	return js, nil
}

// Content is one frame of a request body, in arrival order. Last marks the
// final frame of the request.
type Content struct {
	Data []byte
	Last bool
}

// Response is a complete response, encoded by ServerCodec on its way out.
type Response struct {
	Version string
	Status  int
	Headers *Headers
	Body    []byte
}

// NewResponse builds an HTTP/1.1 response with Content-Length and
// Content-Type set for body.
func NewResponse(status int, contentType string, body []byte) *Response {
	headers := NewHeaders()
	headers.Add("Content-Length", strconv.Itoa(len(body)))

	if contentType != "" {
		headers.Add("Content-Type", contentType)
	}

	return &Response{
		Version: "HTTP/1.1",
		Status:  status,
		Headers: headers,
		Body:    body,
	}
}
