package telemetry

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the minimal logging surface every component writes through.
// *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

// Discard drops everything.
type Discard struct{}

func (Discard) Printf(string, ...any) {}

type zapLogger struct {
	s *zap.SugaredLogger
}

// FromZap adapts a zap logger. Lines land at info level.
func FromZap(l *zap.Logger) Logger {
	return zapLogger{s: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (z zapLogger) Printf(format string, v ...any) { z.s.Infof(format, v...) }

// NewZap builds the process logger. level is a zap level name ("debug",
// "info", ...); json switches to the production encoder.
func NewZap(level string, json bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	cfg := zap.NewDevelopmentConfig()
	if json {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	return cfg.Build()
}
