package env_test

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zapcore"

	"github.com/luma/msgr/internal/env"
	"github.com/luma/msgr/protocol"
)

var _ = Describe("LoadConfig", func() {
	var (
		ctx context.Context
		dir string
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		dir, err = ioutil.TempDir("", "msgr-env")
		Expect(err).To(Succeed())
	})

	AfterEach(func() {
		Expect(os.RemoveAll(dir)).To(Succeed())

		for _, key := range []string{"MSGR_MAX_FRAME_SIZE", "MSGR_LOG_LEVEL", "MSGR_TRACE"} {
			Expect(os.Unsetenv(key)).To(Succeed())
		}
	})

	writeConfig := func(contents string) string {
		path := filepath.Join(dir, "msgr.toml")
		Expect(ioutil.WriteFile(path, []byte(contents), 0600)).To(Succeed())
		return path
	}

	It("uses the defaults without a file", func() {
		conf, err := env.LoadConfig(ctx, "")
		Expect(err).To(Succeed())

		Expect(conf.MaxFrameSize).To(Equal(protocol.DefaultMaxFrameSize))
		Expect(conf.LogLevel).To(Equal("info"))
		Expect(conf.WriteQueueSize).To(BeZero())
		Expect(conf.Trace).To(BeFalse())
	})

	It("reads values from the file", func() {
		path := writeConfig(`
max_frame_size = 1024
write_queue_size = 8
num_listeners = 2
log_level = "debug"
trace = true
`)

		conf, err := env.LoadConfig(ctx, path)
		Expect(err).To(Succeed())

		Expect(conf.MaxFrameSize).To(Equal(1024))
		Expect(conf.WriteQueueSize).To(Equal(8))
		Expect(conf.NumListeners).To(Equal(2))
		Expect(conf.LogLevel).To(Equal("debug"))
		Expect(conf.Trace).To(BeTrue())
		Expect(conf.DebugHTTP).To(BeFalse())
	})

	It("lets the environment override the file", func() {
		path := writeConfig(`
max_frame_size = 1024
log_level = "debug"
`)

		Expect(os.Setenv("MSGR_MAX_FRAME_SIZE", "2048")).To(Succeed())
		Expect(os.Setenv("MSGR_TRACE", "true")).To(Succeed())

		conf, err := env.LoadConfig(ctx, path)
		Expect(err).To(Succeed())

		Expect(conf.MaxFrameSize).To(Equal(2048))
		Expect(conf.LogLevel).To(Equal("debug"))
		Expect(conf.Trace).To(BeTrue())
	})

	It("fails on a missing file", func() {
		_, err := env.LoadConfig(ctx, filepath.Join(dir, "nope.toml"))
		Expect(err).To(MatchError(ContainSubstring("nope.toml")))
	})

	It("fails on a malformed file", func() {
		path := writeConfig(`max_frame_size = "lots"`)

		_, err := env.LoadConfig(ctx, path)
		Expect(err).To(HaveOccurred())
	})

	It("fails on a malformed environment value", func() {
		Expect(os.Setenv("MSGR_MAX_FRAME_SIZE", "lots")).To(Succeed())

		_, err := env.LoadConfig(ctx, "")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("MakeLogger", func() {
	It("builds a logger at the requested level", func() {
		log, err := env.MakeLogger("warn")
		Expect(err).To(Succeed())

		Expect(log.Core().Enabled(zapcore.WarnLevel)).To(BeTrue())
		Expect(log.Core().Enabled(zapcore.InfoLevel)).To(BeFalse())
	})

	It("defaults to info", func() {
		log, err := env.MakeLogger("")
		Expect(err).To(Succeed())

		Expect(log.Core().Enabled(zapcore.InfoLevel)).To(BeTrue())
		Expect(log.Core().Enabled(zapcore.DebugLevel)).To(BeFalse())
	})

	It("rejects an unknown level", func() {
		_, err := env.MakeLogger("chatty")
		Expect(err).To(MatchError(ContainSubstring("chatty")))
	})
})
