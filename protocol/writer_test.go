package protocol_test

import (
	"errors"
	"strconv"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/conduit/protocol"
)

var _ = Describe("Writer", func() {
	Describe("ParseCommand()", func() {
		It("splits on single spaces", func() {
			Expect(protocol.ParseCommand("set name Alice")).To(Equal(protocol.Command{"set", "name", "Alice"}))
		})

		It("keeps empty tokens between consecutive spaces", func() {
			Expect(protocol.ParseCommand("get  key")).To(Equal(protocol.Command{"get", "", "key"}))
		})

		It("turns an empty line into a single empty token", func() {
			cmd := protocol.ParseCommand("")
			Expect(cmd).To(HaveLen(1))
			Expect(cmd.Name()).To(Equal(""))
		})
	})

	Describe("Encode()", func() {
		It("encodes `set name Alice`", func() {
			frame, err := protocol.EncodeLine("set name Alice")
			Expect(err).To(Succeed())
			Expect(string(frame)).To(Equal("*3\r\n$3\r\nset\r\n$4\r\nname\r\n$5\r\nAlice\r\n"))
		})

		It("uses the UTF-8 byte length of multi-byte tokens", func() {
			frame, err := protocol.Encode(protocol.Command{"set", "name", "张三"})
			Expect(err).To(Succeed())
			Expect(string(frame)).To(Equal("*3\r\n$3\r\nset\r\n$4\r\nname\r\n$6\r\n张三\r\n"))
		})

		It("starts with the token count and keeps the tokens in order", func() {
			cmd := protocol.Command{"rpush", "list", "a", "b", "c", "d", "e", "f", "g", "h", "i"}
			frame, err := protocol.Encode(cmd)
			Expect(err).To(Succeed())
			Expect(string(frame)).To(HavePrefix("*11\r\n"))

			rest := string(frame[len("*11\r\n"):])
			for _, token := range cmd {
				group := "$" + strconv.Itoa(len(token)) + "\r\n" + token + "\r\n"
				Expect(rest).To(HavePrefix(group))
				rest = rest[len(group):]
			}
			Expect(rest).To(BeEmpty())
		})

		It("allocates exactly the size of the frame", func() {
			frame, err := protocol.Encode(protocol.Command{strings.Repeat("x", 1234), "y"})
			Expect(err).To(Succeed())
			Expect(cap(frame)).To(Equal(len(frame)))
		})

		It("still encodes the empty line", func() {
			frame, err := protocol.EncodeLine("")
			Expect(err).To(Succeed())
			Expect(string(frame)).To(Equal("*1\r\n$0\r\n\r\n"))
		})

		It("returns an error for a command without tokens", func() {
			_, err := protocol.Encode(protocol.Command{})
			Expect(err).To(MatchError(protocol.ErrEmptyCommand))
		})

		It("fails loudly on tokens that are not UTF-8", func() {
			_, err := protocol.Encode(protocol.Command{"set", "k", string([]byte{0xff, 0xfe})})
			Expect(errors.Is(err, protocol.ErrInvalidEncoding)).To(BeTrue())
		})
	})

	Describe("EncodeTo()", func() {
		It("fills a buffer sized by FrameSize without growing it", func() {
			cmd := protocol.Command{"set", "name", "张三"}

			size, err := protocol.FrameSize(cmd)
			Expect(err).To(Succeed())

			buf := make([]byte, 0, size)
			frame, err := protocol.EncodeTo(buf, cmd)
			Expect(err).To(Succeed())

			Expect(string(frame)).To(Equal("*3\r\n$3\r\nset\r\n$4\r\nname\r\n$6\r\n张三\r\n"))
			Expect(len(frame)).To(Equal(size))
			Expect(&frame[0]).To(BeIdenticalTo(&buf[:1][0]))
		})

		It("leaves the buffer untouched when the command is invalid", func() {
			buf := []byte("prefix")

			out, err := protocol.EncodeTo(buf, protocol.Command{"\xff"})
			Expect(err).To(MatchError(protocol.ErrInvalidEncoding))
			Expect(string(out)).To(Equal("prefix"))
		})
	})
})
