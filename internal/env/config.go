package env

import (
	"context"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"

	"github.com/luma/msgr/protocol"
)

// Config is layered: defaults, then the TOML file, then .env.local, then the
// process environment. Later layers only override the values they set.
type Config struct {
	MaxFrameSize   int    `env:"MSGR_MAX_FRAME_SIZE" toml:"max_frame_size"`
	WriteQueueSize int    `env:"MSGR_WRITE_QUEUE_SIZE" toml:"write_queue_size"`
	NumListeners   int    `env:"MSGR_NUM_LISTENERS" toml:"num_listeners"`
	LogLevel       string `env:"MSGR_LOG_LEVEL" toml:"log_level"`
	DebugHTTP      bool   `env:"MSGR_DEBUG_HTTP" toml:"debug_http"`
	Trace          bool   `env:"MSGR_TRACE" toml:"trace"`
}

func DefaultConfig() Config {
	return Config{
		MaxFrameSize: protocol.DefaultMaxFrameSize,
		LogLevel:     "info",
	}
}

// LoadConfig builds the config. path may be empty, in which case no file is
// read.
func LoadConfig(ctx context.Context, path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &config); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "read .env.local")
		}
	}

	var overrides Config
	if err := envconfig.Process(ctx, &overrides); err != nil {
		return nil, err
	}

	config.merge(overrides)

	return &config, nil
}

// merge copies every non-zero field of other into c.
func (c *Config) merge(other Config) {
	if other.MaxFrameSize != 0 {
		c.MaxFrameSize = other.MaxFrameSize
	}

	if other.WriteQueueSize != 0 {
		c.WriteQueueSize = other.WriteQueueSize
	}

	if other.NumListeners != 0 {
		c.NumListeners = other.NumListeners
	}

	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}

	c.DebugHTTP = c.DebugHTTP || other.DebugHTTP
	c.Trace = c.Trace || other.Trace
}
