package configure

import (
	"io"
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// initLogging installs the global zap logger. Unknown levels fall back to info;
// debug also switches to development mode without sampling.
func initLogging(level string) {
	log.SetOutput(io.Discard)

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if lvl == zapcore.DebugLevel {
		cfg.Development = true
		cfg.Sampling = nil
	}

	logger, err := cfg.Build(zap.Fields(zap.String("service", "presence")))
	if err != nil {
		zap.S().Errorw("failed to build logger",
			"error", err,
		)

		return
	}

	zap.ReplaceGlobals(logger)
}
