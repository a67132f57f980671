package httpcodec_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/luma/conduit/httpcodec"
	"github.com/luma/conduit/transport"
)

const helloResponse = "HTTP/1.1 200 OK\r\n" +
	"Content-Length: 22\r\n" +
	"Content-Type: text/html;charset=utf-8\r\n" +
	"\r\n" +
	"<h1>Hello, world!</h1>"

func makeServerChannel(level zapcore.Level) (*transport.EmbeddedChannel, *observer.ObservedLogs) {
	core, logs := observer.New(level)

	ch, err := transport.NewEmbeddedChannel(zap.NewNop(), httpcodec.ServerInitializer(zap.New(core)))
	Expect(err).To(Succeed())

	return ch, logs
}

var _ = Describe("ServerInitializer", func() {
	It("builds the request pipeline", func() {
		ch, _ := makeServerChannel(zapcore.InfoLevel)

		Expect(ch.Pipeline().Names()).To(Equal([]string{"logger", "http-codec", "head", "body"}))
	})

	It("answers a request without a body", func() {
		ch, logs := makeServerChannel(zapcore.InfoLevel)

		ch.WriteInbound([]byte("GET /index.html HTTP/1.1\r\nHost: localhost\r\n\r\n"))

		Expect(string(ch.Outbound())).To(Equal(helloResponse))
		Expect(ch.IsActive()).To(BeTrue())

		requests := logs.FilterMessage("Request").All()
		Expect(requests).To(HaveLen(1))
		Expect(requests[0].ContextMap()).To(HaveKeyWithValue("method", "GET"))
		Expect(requests[0].ContextMap()).To(HaveKeyWithValue("uri", "/index.html"))
		Expect(logs.FilterMessage("Request body").Len()).To(Equal(0))
	})

	It("answers as soon as the head is complete and logs the body", func() {
		ch, logs := makeServerChannel(zapcore.InfoLevel)

		ch.WriteInbound([]byte("POST /index.html HTTP/1.1\r\nHost: localhost\r\nContent-Length: 4\r\n\r\n"))
		Expect(string(ch.Outbound())).To(Equal(helloResponse))
		Expect(logs.FilterMessage("Request body").Len()).To(Equal(0))

		ch.WriteInbound([]byte("ping"))

		bodies := logs.FilterMessage("Request body").All()
		Expect(bodies).To(HaveLen(1))
		Expect(bodies[0].ContextMap()).To(HaveKeyWithValue("body", "ping"))
		Expect(bodies[0].ContextMap()).To(HaveKeyWithValue("last", true))

		Expect(ch.ReadOutbound()).NotTo(BeNil())
		Expect(ch.ReadOutbound()).To(BeNil())
	})

	It("logs every chunk of a chunked body", func() {
		ch, logs := makeServerChannel(zapcore.InfoLevel)

		ch.WriteInbound([]byte("POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n2\r\nde\r\n0\r\n\r\n"))

		var bodies []string
		for _, entry := range logs.FilterMessage("Request body").All() {
			bodies = append(bodies, entry.ContextMap()["body"].(string))
		}

		Expect(bodies).To(Equal([]string{"abc", "de"}))
	})

	It("answers pipelined requests in order", func() {
		ch, _ := makeServerChannel(zapcore.InfoLevel)

		ch.WriteInbound([]byte("GET /a HTTP/1.1\r\n\r\nGET /b HTTP/1.1\r\n\r\n"))

		Expect(string(ch.ReadOutbound())).To(Equal(helloResponse))
		Expect(string(ch.ReadOutbound())).To(Equal(helloResponse))
	})

	It("closes the connection after responding to Connection: close", func() {
		ch, _ := makeServerChannel(zapcore.InfoLevel)

		ch.WriteInbound([]byte("GET / HTTP/1.1\r\nConnection: close\r\n\r\nGET /ignored HTTP/1.1\r\n\r\n"))

		Expect(string(ch.Outbound())).To(Equal(helloResponse))
		Expect(ch.IsActive()).To(BeFalse())
	})

	DescribeTable("logs the body of a request that closes the connection",
		func(request string) {
			ch, logs := makeServerChannel(zapcore.InfoLevel)

			ch.WriteInbound([]byte(request))

			Expect(string(ch.Outbound())).To(Equal(helloResponse))

			bodies := logs.FilterMessage("Request body").All()
			Expect(bodies).To(HaveLen(1))
			Expect(bodies[0].ContextMap()).To(HaveKeyWithValue("body", "ping"))

			Expect(ch.IsActive()).To(BeFalse())
		},
		Entry("HTTP/1.1 with Connection: close", "GET /index.html HTTP/1.1\r\nConnection: close\r\nContent-Length: 4\r\n\r\nping"),
		Entry("HTTP/1.0 without keep-alive", "POST /index.html HTTP/1.0\r\nContent-Length: 4\r\n\r\nping"),
		Entry("chunked with Connection: close", "POST / HTTP/1.1\r\nConnection: close\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nping\r\n0\r\n\r\n"),
	)

	It("keeps a closing connection open until the body arrives", func() {
		ch, logs := makeServerChannel(zapcore.InfoLevel)

		ch.WriteInbound([]byte("POST / HTTP/1.1\r\nConnection: close\r\nContent-Length: 4\r\n\r\n"))
		Expect(string(ch.Outbound())).To(Equal(helloResponse))
		Expect(ch.IsActive()).To(BeTrue())

		ch.WriteInbound([]byte("pi"), []byte("ng"))

		var bodies []string
		for _, entry := range logs.FilterMessage("Request body").All() {
			bodies = append(bodies, entry.ContextMap()["body"].(string))
		}
		Expect(bodies).To(Equal([]string{"pi", "ng"}))
		Expect(ch.IsActive()).To(BeFalse())
	})

	It("closes HTTP/1.0 connections unless asked to keep them alive", func() {
		ch, _ := makeServerChannel(zapcore.InfoLevel)
		ch.WriteInbound([]byte("GET / HTTP/1.0\r\n\r\n"))
		Expect(ch.IsActive()).To(BeFalse())

		ch, _ = makeServerChannel(zapcore.InfoLevel)
		ch.WriteInbound([]byte("GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n"))
		Expect(ch.IsActive()).To(BeTrue())
	})

	It("logs headers and the head as JSON at debug level", func() {
		ch, logs := makeServerChannel(zapcore.DebugLevel)

		ch.WriteInbound([]byte("GET /index.html HTTP/1.1\r\nHost: localhost\r\nUser-Agent: test\r\n\r\n"))

		headers := logs.FilterMessage("Header").All()
		Expect(headers).To(HaveLen(2))
		Expect(headers[0].ContextMap()).To(HaveKeyWithValue("name", "Host"))
		Expect(headers[1].ContextMap()).To(HaveKeyWithValue("value", "test"))

		heads := logs.FilterMessage("Request head").All()
		Expect(heads).To(HaveLen(1))

		js := heads[0].ContextMap()["head"].(string)
		Expect(gjson.Get(js, "uri").String()).To(Equal("/index.html"))
		Expect(gjson.Get(js, "headers.#").Int()).To(Equal(int64(2)))

		Expect(logs.FilterMessage("READ").Len()).To(Equal(1))
		Expect(logs.FilterMessage("WRITE").Len()).To(Equal(1))
	})
})
