package env

import (
	zap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func MakeLogger(level, encoding string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(lvl)
	logConfig.Encoding = encoding

	if encoding == "console" {
		logConfig.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	return logConfig.Build()
}
