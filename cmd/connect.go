package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/msgr/client"
	"github.com/luma/msgr/internal/env"
	"github.com/luma/msgr/protocol"
)

var (
	// The server to connect to
	addr string

	sender    int64
	recipient int64
)

func init() {
	flags := ConnectCmd.PersistentFlags()

	flags.StringVar(&addr, "addr", defaultAddr(), "The server to connect to")
	flags.Int64Var(&sender, "sender", 0, "The sender id stamped on each message")
	flags.Int64Var(&recipient, "recipient", 0, "The recipient id stamped on each message")
}

var ConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Send each line of stdin to a server and print what comes back",
	Long: `Send each line of stdin to a server and print what comes back

Usage
	echo hello | msgr connect --addr 127.0.0.1:34254

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, err := env.LoadConfig(ctx, configPath)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		c := client.New(log.Named("client"), client.Options{
			Sender:         sender,
			Recipient:      recipient,
			MaxFrameSize:   conf.MaxFrameSize,
			WriteQueueSize: conf.WriteQueueSize,
			Trace:          conf.Trace,
		})

		if err := c.Connect(ctx, addr); err != nil {
			log.Error("Failed to connect", zap.String("addr", addr), zap.Error(err))
			return err
		}

		go forwardLines(ctx, os.Stdin, c, conf.MaxFrameSize, log)

		out := cmd.OutOrStdout()
		for msg := range c.Messages() {
			fmt.Fprintln(out, msg.GetContents())
		}

		if err := c.Wait(context.Background()); err != nil {
			log.Error("Connection closed with an error", zap.Error(err))
			return err
		}

		return nil
	},
}

// forwardLines sends one message per line of r, without the line ending, and
// closes the write side once r is exhausted.
func forwardLines(ctx context.Context, r io.Reader, c *client.Client, maxFrameSize int, log *zap.Logger) {
	if maxFrameSize <= 0 {
		maxFrameSize = protocol.DefaultMaxFrameSize
	}

	initial := protocol.DefaultReadSize
	if initial > maxFrameSize {
		initial = maxFrameSize
	}

	// The server only lets go once it sees the end of our side
	defer func() {
		if err := c.CloseWrite(); err != nil {
			log.Warn("Failed to close the connection for writing", zap.Error(err))
		}
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initial), maxFrameSize)

	for scanner.Scan() {
		if err := c.Send(ctx, scanner.Text()); err != nil {
			log.Warn("Failed to send line", zap.Error(err))
			return
		}
	}

	if err := scanner.Err(); err != nil {
		log.Warn("Failed to read input", zap.Error(err))
	}
}
