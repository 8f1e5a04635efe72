package transport_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/luma/msgr/protocol"
	"github.com/luma/msgr/registry"
	"github.com/luma/msgr/transport"
)

var _ = Describe("transport", func() {
	Describe("TCP", func() {
		It("listens on the desired port", func() {
			tcp := makeTCPServer(false)

			defer func() {
				Expect(tcp.Close()).To(Succeed())
			}()

			conn, err := net.Dial("tcp", tcp.Addr().String())
			Expect(err).To(Succeed())
			conn.Close()
		})

		It("echoes messages back to the client", func() {
			tcp := makeTCPServer(false)

			conn, err := net.Dial("tcp", tcp.Addr().String())
			Expect(err).To(Succeed())

			defer func() {
				conn.Close()
				Expect(tcp.Close()).To(Succeed())
			}()

			writeFrames(conn, protocol.NewMessage(1, 2, "hello"))

			reply, err := protocol.ReadMessage(protocol.NewFrameReader(conn, 0))
			Expect(err).To(Succeed())
			Expect(reply.GetContents()).To(Equal("hello"))
			Expect(reply.Sender).To(Equal(int64(2)))
			Expect(reply.Recipient).To(Equal(int64(1)))
		})

		It("fails to start when the address is taken", func() {
			tcp := makeTCPServer(false)
			defer func() {
				Expect(tcp.Close()).To(Succeed())
			}()

			port := tcp.Addr().(*net.TCPAddr).Port
			second := transport.NewTCP(transport.Options{
				Host: "127.0.0.1",
				Port: port,
				Log:  zap.NewNop(),
			})

			err := second.Start(context.Background())
			Expect(protocol.IsIO(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring(strconv.Itoa(port)))
			Expect(second.Close()).To(Succeed())
		})

		It("shares the port between several listeners with reuseport", func() {
			tcp := makeTCPServer(true)
			defer func() {
				Expect(tcp.Close()).To(Succeed())
			}()

			for i := 0; i < 4; i++ {
				conn, err := net.Dial("tcp", tcp.Addr().String())
				Expect(err).To(Succeed())

				writeFrames(conn, protocol.NewMessage(0, 0, strconv.Itoa(i)))

				reply, err := protocol.ReadMessage(protocol.NewFrameReader(conn, 0))
				Expect(err).To(Succeed())
				Expect(reply.GetContents()).To(Equal(strconv.Itoa(i)))
				conn.Close()
			}
		})

		It("keeps serving other clients when one breaks the protocol", func() {
			tcp := makeTCPServer(false)
			defer func() {
				Expect(tcp.Close()).To(Succeed())
			}()

			bad, err := net.Dial("tcp", tcp.Addr().String())
			Expect(err).To(Succeed())
			defer bad.Close()

			_, err = bad.Write(binary.BigEndian.AppendUint32(nil, 1<<20))
			Expect(err).To(Succeed())
			waitForClose(bad)

			good, err := net.Dial("tcp", tcp.Addr().String())
			Expect(err).To(Succeed())
			defer good.Close()

			writeFrames(good, protocol.NewMessage(1, 2, "still here"))

			reply, err := protocol.ReadMessage(protocol.NewFrameReader(good, 0))
			Expect(err).To(Succeed())
			Expect(reply.GetContents()).To(Equal("still here"))
		})

		It("closes active connections on Close", func() {
			tcp := makeTCPServer(false)

			conn, err := net.Dial("tcp", tcp.Addr().String())
			Expect(err).To(Succeed())
			defer conn.Close()

			Eventually(tcp.NumConns).Should(Equal(1))
			Expect(tcp.Close()).To(Succeed())
			Expect(tcp.NumConns()).To(BeZero())

			waitForClose(conn)
		})

		It("reports running connections in its snapshot", func() {
			tcp := makeTCPServer(false)
			defer func() {
				Expect(tcp.Close()).To(Succeed())
			}()

			conn, err := net.Dial("tcp", tcp.Addr().String())
			Expect(err).To(Succeed())

			writeFrames(conn, protocol.NewMessage(1, 2, "counted"))
			_, err = protocol.ReadMessage(protocol.NewFrameReader(conn, 0))
			Expect(err).To(Succeed())

			var record gjson.Result
			Eventually(func() int64 {
				snapshot, err := tcp.Snapshot()
				Expect(err).To(Succeed())

				records := gjson.GetBytes(snapshot, "connections").Map()
				Expect(records).To(HaveLen(1))
				for _, r := range records {
					record = r
				}

				return record.Get("stats.framesOut").Int()
			}).Should(Equal(int64(1)))

			Expect(record.Get("state").String()).To(Equal("open"))
			Expect(record.Get("peer").String()).To(Equal(conn.LocalAddr().String()))
			Expect(record.Get("stats.framesIn").Int()).To(Equal(int64(1)))

			conn.Close()
			Eventually(tcp.Registry().Len).Should(BeZero())
		})
	})

	Describe("Dial", func() {
		It("connects to a running server", func() {
			tcp := makeTCPServer(false)
			defer func() {
				Expect(tcp.Close()).To(Succeed())
			}()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			rec := &recorder{}
			conn, err := transport.Dial(ctx, tcp.Addr().String(), transport.ConnOptions{Handler: rec})
			Expect(err).To(Succeed())
			Expect(conn.State()).To(Equal(transport.StateConnecting))

			result := runConn(ctx, conn)

			Expect(conn.Send(ctx, protocol.NewMessage(1, 2, "hello"))).To(Succeed())
			Eventually(rec.Contents).Should(Equal([]string{"hello"}))

			Expect(conn.Close()).To(Succeed())
			Eventually(result).Should(Receive(BeNil()))
		})

		It("returns an IO error when nothing is listening", func() {
			listener, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).To(Succeed())
			addr := listener.Addr().String()
			Expect(listener.Close()).To(Succeed())

			_, err = transport.Dial(context.Background(), addr, transport.ConnOptions{})
			Expect(protocol.IsIO(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring(addr))
		})
	})
})

// waitForClose waits for the server to close conn.
func waitForClose(conn net.Conn) {
	Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())

	_, err := io.Copy(io.Discard, conn)
	if err != nil {
		var netErr net.Error
		Expect(errors.As(err, &netErr) && netErr.Timeout()).To(BeFalse(), "the client was never closed by the server")
	}
}

func makeTCPServer(reuseport bool) *transport.TCP {
	log, err := zap.NewDevelopment()
	Expect(err).To(Succeed())

	tcp := transport.NewTCP(transport.Options{
		Host:         "127.0.0.1",
		Port:         0,
		Reuseport:    reuseport,
		NumListeners: 2,
		Log:          log,
		Conn: transport.ConnOptions{
			Handler:      transport.EchoHandler(log.Named("echo")),
			MaxFrameSize: 1024,
			Registry:     registry.NewInmemoryRegistry(),
		},
	})

	Expect(tcp.Start(context.Background())).To(Succeed())

	return tcp
}
