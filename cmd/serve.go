package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/msgr/internal/env"
	"github.com/luma/msgr/internal/ops"
	"github.com/luma/msgr/registry"
	"github.com/luma/msgr/transport"
)

const defaultPort = 34254

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string

	// The port to listen for tcp clients on
	port int

	// Whether to bind one SO_REUSEPORT listener per CPU
	reuse bool
)

func init() {
	flags := ServeCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", defaultPort, "The port to listen client connections on")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on, empty to disable")
	flags.StringVarP(&host, "host", "a", "127.0.0.1", "The host to listen on")
	flags.BoolVar(&reuse, "reuseport", false, "Accept on several SO_REUSEPORT listeners")
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a server that echoes every message back",
	Long: `Run a server that echoes every message back

Usage
	msgr serve --port 34254

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

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		tcp := transport.NewTCP(transport.Options{
			Host:         host,
			Port:         port,
			Reuseport:    reuse,
			NumListeners: conf.NumListeners,
			Log:          log.Named("transport"),
			Conn: transport.ConnOptions{
				Handler:        transport.EchoHandler(log.Named("echo")),
				MaxFrameSize:   conf.MaxFrameSize,
				WriteQueueSize: conf.WriteQueueSize,
				Trace:          conf.Trace,
				Registry:       registry.NewInmemoryRegistry(),
			},
		})

		if err := tcp.Start(ctx); err != nil {
			log.Error("Failed to bind", zap.Error(err))
			return err
		}

		var s *http.Server
		if httpPort != "" {
			s = &http.Server{
				Addr:    net.JoinHostPort(host, httpPort),
				Handler: ops.NewRouter(conf.DebugHTTP, log.Named("http"), tcp),
			}

			// Initializing the server in a goroutine so that
			// it won't block the graceful shutdown handling below
			go func() {
				if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Http server errored", zap.Error(err))
				}
			}()
		}

		log.Info("Listening",
			zap.Any("config", conf),
			zap.Stringer("addr", tcp.Addr()),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		if s != nil {
			// The http server has 5 seconds to finish the requests it is handling
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			s.SetKeepAlivesEnabled(false)

			if err := s.Shutdown(shutdownCtx); err != nil {
				log.Error("Http server forced to shutdown", zap.Error(err))
			}
		}

		if err := tcp.Close(); err != nil {
			log.Error("TCP server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}

func defaultAddr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(defaultPort))
}
