package cmd

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/conduit/internal/env"
	"github.com/luma/conduit/transport"
)

var _ = Describe("root", func() {
	Describe("shutdownOptions()", func() {
		It("uses the configured durations", func() {
			opts := shutdownOptions(&env.Config{ShutdownQuietPeriod: time.Second, ShutdownTimeout: 3 * time.Second})

			Expect(opts).To(Equal(transport.ShutdownOptions{QuietPeriod: time.Second, Timeout: 3 * time.Second}))
		})

		It("falls back to the transport defaults", func() {
			Expect(shutdownOptions(&env.Config{})).To(Equal(transport.DefaultShutdownOptions()))
		})
	})

	Describe("acceptorLoops()", func() {
		It("uses the configured size", func() {
			Expect(acceptorLoops(&env.Config{AcceptorLoops: 4})).To(Equal(4))
		})

		It("falls back to the transport default", func() {
			Expect(acceptorLoops(&env.Config{})).To(Equal(transport.DefaultAcceptorLoops))
		})
	})
})
