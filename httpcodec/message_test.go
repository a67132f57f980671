package httpcodec_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/luma/conduit/httpcodec"
)

func makeHead(version string, fields ...string) *httpcodec.RequestHead {
	head := &httpcodec.RequestHead{
		Method:  "GET",
		URI:     "/index.html",
		Version: version,
		Headers: httpcodec.NewHeaders(),
	}

	for i := 0; i+1 < len(fields); i += 2 {
		head.Headers.Add(fields[i], fields[i+1])
	}

	return head
}

var _ = Describe("RequestHead", func() {
	Describe("ContentLength()", func() {
		It("is -1 without the header", func() {
			n, err := makeHead("HTTP/1.1").ContentLength()
			Expect(err).To(Succeed())
			Expect(n).To(Equal(int64(-1)))
		})

		It("parses the declared length", func() {
			n, err := makeHead("HTTP/1.1", "Content-Length", " 42 ").ContentLength()
			Expect(err).To(Succeed())
			Expect(n).To(Equal(int64(42)))
		})

		It("rejects garbage and negative lengths", func() {
			_, err := makeHead("HTTP/1.1", "Content-Length", "abc").ContentLength()
			Expect(err).To(MatchError(httpcodec.ErrInvalidContentLength))

			_, err = makeHead("HTTP/1.1", "Content-Length", "-1").ContentLength()
			Expect(err).To(MatchError(httpcodec.ErrInvalidContentLength))
		})
	})

	It("detects chunked transfer coding", func() {
		Expect(makeHead("HTTP/1.1", "Transfer-Encoding", "gzip, Chunked").IsChunked()).To(BeTrue())
		Expect(makeHead("HTTP/1.1", "Transfer-Encoding", "chunked, gzip").IsChunked()).To(BeFalse())
		Expect(makeHead("HTTP/1.1").IsChunked()).To(BeFalse())
	})

	DescribeTable("KeepAlive()",
		func(head *httpcodec.RequestHead, expected bool) {
			Expect(head.KeepAlive()).To(Equal(expected))
		},
		Entry("HTTP/1.1 by default", makeHead("HTTP/1.1"), true),
		Entry("HTTP/1.1 with Connection: close", makeHead("HTTP/1.1", "Connection", "Close"), false),
		Entry("HTTP/1.0 by default", makeHead("HTTP/1.0"), false),
		Entry("HTTP/1.0 with Connection: keep-alive", makeHead("HTTP/1.0", "Connection", "keep-alive"), true),
	)

	It("renders as JSON with headers in received order", func() {
		js, err := makeHead("HTTP/1.1", "Host", "localhost", "X-Quote", `say "hi"`, "host", "other").MarshalJSON()
		Expect(err).To(Succeed())
		Expect(gjson.ValidBytes(js)).To(BeTrue())

		doc := gjson.ParseBytes(js)
		Expect(doc.Get("method").String()).To(Equal("GET"))
		Expect(doc.Get("uri").String()).To(Equal("/index.html"))
		Expect(doc.Get("version").String()).To(Equal("HTTP/1.1"))
		Expect(doc.Get("headers.#").Int()).To(Equal(int64(3)))
		Expect(doc.Get("headers.#.name").Value()).To(Equal([]interface{}{"Host", "X-Quote", "host"}))
		Expect(doc.Get("headers.1.value").String()).To(Equal(`say "hi"`))
	})
})

var _ = Describe("EncodeResponse()", func() {
	It("writes the status line, headers in order and the body", func() {
		resp := httpcodec.NewResponse(404, "text/plain", []byte("gone"))
		resp.Headers.Add("X-Trace", "1")

		Expect(string(httpcodec.EncodeResponse(resp))).To(Equal(
			"HTTP/1.1 404 Not Found\r\n" +
				"Content-Length: 4\r\n" +
				"Content-Type: text/plain\r\n" +
				"X-Trace: 1\r\n" +
				"\r\n" +
				"gone"))
	})

	It("defaults to HTTP/1.1 and tolerates missing headers", func() {
		resp := &httpcodec.Response{Status: 204}

		Expect(string(httpcodec.EncodeResponse(resp))).To(Equal("HTTP/1.1 204 No Content\r\n\r\n"))
	})
})
