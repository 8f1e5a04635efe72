package client_test

import (
	"context"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/msgr/client"
	"github.com/luma/msgr/protocol"
	"github.com/luma/msgr/transport"
)

var _ = Describe("Client", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		tcp    *transport.TCP
		log    *zap.Logger
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)

		var err error
		log, err = zap.NewDevelopment()
		Expect(err).To(Succeed())

		tcp = transport.NewTCP(transport.Options{
			Host: "127.0.0.1",
			Log:  log.Named("server"),
			Conn: transport.ConnOptions{
				Handler: transport.EchoHandler(log.Named("echo")),
			},
		})
		Expect(tcp.Start(ctx)).To(Succeed())
	})

	AfterEach(func() {
		Expect(tcp.Close()).To(Succeed())
		cancel()
	})

	It("receives the echo of what it sends", func() {
		c := client.New(log.Named("client"), client.Options{Sender: 1, Recipient: 2})
		Expect(c.Connect(ctx, tcp.Addr().String())).To(Succeed())

		Expect(c.Send(ctx, "hello")).To(Succeed())

		var reply protocol.Message
		Eventually(c.Messages()).Should(Receive(&reply))
		Expect(reply.GetContents()).To(Equal("hello"))
		Expect(reply.Sender).To(Equal(int64(2)))
		Expect(reply.Recipient).To(Equal(int64(1)))

		Expect(c.Disconnect()).To(Succeed())
		Expect(c.Wait(ctx)).To(Succeed())
	})

	It("flushes every line before finishing on CloseWrite", func() {
		c := client.New(log.Named("client"), client.Options{})
		Expect(c.Connect(ctx, tcp.Addr().String())).To(Succeed())

		lines := []string{"first", "", "third"}
		for _, line := range lines {
			Expect(c.Send(ctx, line)).To(Succeed())
		}
		Expect(c.CloseWrite()).To(Succeed())

		var received []string
		for msg := range c.Messages() {
			received = append(received, msg.GetContents())
		}

		Expect(received).To(Equal(lines))
		Expect(c.Wait(ctx)).To(Succeed())
		Expect(c.Wait(ctx)).To(Succeed())
	})

	It("finishes when the server goes away", func() {
		c := client.New(log.Named("client"), client.Options{})
		Expect(c.Connect(ctx, tcp.Addr().String())).To(Succeed())

		Eventually(tcp.NumConns).Should(Equal(1))
		Expect(tcp.Close()).To(Succeed())

		Eventually(c.Messages()).Should(BeClosed())
		Expect(c.Wait(ctx)).To(Succeed())
		Expect(c.Send(ctx, "anyone?")).To(MatchError(transport.ErrConnClosed))
	})

	It("refuses to send before connecting", func() {
		c := client.New(nil, client.Options{})

		Expect(c.Send(ctx, "hello")).To(MatchError(client.ErrNotConnected))
		Expect(c.Wait(ctx)).To(MatchError(client.ErrNotConnected))
	})

	It("fails to connect when nothing is listening", func() {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).To(Succeed())
		addr := listener.Addr().String()
		Expect(listener.Close()).To(Succeed())

		c := client.New(nil, client.Options{})
		err = c.Connect(ctx, addr)
		Expect(protocol.IsIO(err)).To(BeTrue())
	})
})
