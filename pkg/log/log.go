package log

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is what bankupdate components log through. Keys and values alternate;
// see toFields for how odd or malformed lists are recorded.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)

	// Error attaches err under the "error" key when it is non-nil.
	Error(err error, msg string, keysAndValues ...any)

	WithName(name string) Logger
	WithValues(keysAndValues ...any) Logger

	// Logr exposes the same sink to libraries that expect a logr.Logger.
	Logr() logr.Logger

	Sync() error
}

var _ Logger = (*zapLogger)(nil)

type zapLogger struct {
	core *zap.Logger
}

// NewLogger builds a logger from opts. When an output path cannot be opened the
// logger falls back to stderr so the daemon keeps running.
func NewLogger(opts *Options) Logger {
	if opts == nil {
		opts = NewOptions()
	}

	cfg := zap.Config{
		DisableCaller:    opts.DisableCaller,
		Level:            zap.NewAtomicLevelAt(parseLevel(opts.Level)),
		Encoding:         opts.Format,
		EncoderConfig:    encoderConfig(opts),
		OutputPaths:      opts.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}

	buildOpts := []zap.Option{zap.AddCallerSkip(opts.CallerSkip), zap.AddStacktrace(zapcore.ErrorLevel)}
	core, err := cfg.Build(buildOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log: %v, writing to stderr instead\n", err)
		cfg.OutputPaths = []string{"stderr"}
		core = zap.Must(cfg.Build(buildOpts...))
	}

	if opts.Name != "" {
		core = core.Named(opts.Name)
	}
	return &zapLogger{core: core}
}

func encoderConfig(opts *Options) zapcore.EncoderConfig {
	ec := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "timestamp",
		NameKey:        "logger",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: millis,
	}
	if opts.Format == "console" && opts.EnableColor {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return ec
}

// millis renders durations as fractional milliseconds.
func millis(d time.Duration, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendFloat64(float64(d) / float64(time.Millisecond))
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func Debug(msg string, keysAndValues ...any)            { std.Debug(msg, keysAndValues...) }
func Info(msg string, keysAndValues ...any)             { std.Info(msg, keysAndValues...) }
func Warn(msg string, keysAndValues ...any)             { std.Warn(msg, keysAndValues...) }
func Error(err error, msg string, keysAndValues ...any) { std.Error(err, msg, keysAndValues...) }
func WithName(name string) Logger                       { return std.WithName(name) }
func WithValues(keysAndValues ...any) Logger            { return std.WithValues(keysAndValues...) }
func Logr() logr.Logger                                 { return std.Logr() }
func Sync() error                                       { return std.Sync() }

// The level methods call Check directly so that the caller skip configured in
// Options stays correct and disabled levels skip field conversion.

func (z *zapLogger) Debug(msg string, keysAndValues ...any) {
	if ce := z.core.Check(zapcore.DebugLevel, msg); ce != nil {
		ce.Write(toFields(keysAndValues...)...)
	}
}

func (z *zapLogger) Info(msg string, keysAndValues ...any) {
	if ce := z.core.Check(zapcore.InfoLevel, msg); ce != nil {
		ce.Write(toFields(keysAndValues...)...)
	}
}

func (z *zapLogger) Warn(msg string, keysAndValues ...any) {
	if ce := z.core.Check(zapcore.WarnLevel, msg); ce != nil {
		ce.Write(toFields(keysAndValues...)...)
	}
}

func (z *zapLogger) Error(err error, msg string, keysAndValues ...any) {
	ce := z.core.Check(zapcore.ErrorLevel, msg)
	if ce == nil {
		return
	}
	fields := toFields(keysAndValues...)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}

func (z *zapLogger) WithName(name string) Logger {
	return &zapLogger{core: z.core.Named(name)}
}

func (z *zapLogger) WithValues(keysAndValues ...any) Logger {
	return &zapLogger{core: z.core.With(toFields(keysAndValues...)...)}
}

func (z *zapLogger) Logr() logr.Logger { return zapr.NewLogger(z.core) }

func (z *zapLogger) Sync() error { return z.core.Sync() }

var (
	once sync.Once
	std  = NewNopLogger()
)

// Init installs the process-wide logger. Only the first call has an effect.
func Init(opts *Options) {
	once.Do(func() {
		std = NewLogger(opts)
	})
}

// Std returns the process-wide logger.
func Std() Logger {
	return std
}

// NewForTest wraps a zap logger built by the caller, usually from zaptest.
func NewForTest(core *zap.Logger) Logger {
	return &zapLogger{core: core}
}

// NewNopLogger discards everything.
func NewNopLogger() Logger {
	return &zapLogger{core: zap.NewNop()}
}
