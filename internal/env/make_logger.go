package env

import (
	"github.com/pkg/errors"
	zap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func MakeLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, errors.Wrapf(err, "log level %q", level)
		}
	}

	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(lvl)
	logConfig.Encoding = "json"

	return logConfig.Build()
}
