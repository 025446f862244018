package logtrace

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const correlationIDKey ctxKey = FieldCorrelationID

var (
	mu      sync.RWMutex
	logger  = zap.NewNop()
	closeFn = func() error { return nil }
)

type setupOptions struct {
	filePath string
	maxBytes int64
	keep     int
}

// Option customizes Setup.
type Option func(*setupOptions)

// WithFile tees log output into a size-rotated file.
func WithFile(path string, maxBytes int64, keep int) Option {
	return func(o *setupOptions) {
		o.filePath = path
		o.maxBytes = maxBytes
		o.keep = keep
	}
}

// Setup initializes the process-wide logger. JSON lines go to stderr and, when
// WithFile is given, to a rotating file as well.
func Setup(serviceName, env string, level slog.Level, opts ...Option) error {
	var o setupOptions
	for _, opt := range opts {
		opt(&o)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)
	lvl := toZapLevel(level)

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), lvl)}
	closer := func() error { return nil }
	if o.filePath != "" {
		rw, err := newRotatingWriter(o.filePath, o.maxBytes, o.keep)
		if err != nil {
			return err
		}
		cores = append(cores, zapcore.NewCore(encoder, rw, lvl))
		closer = rw.Close
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(2)).
		With(zap.String("service", serviceName), zap.String("env", env))

	mu.Lock()
	_ = logger.Sync()
	_ = closeFn()
	logger = l
	closeFn = closer
	mu.Unlock()
	return nil
}

// Close flushes buffered entries and releases the log file.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	_ = logger.Sync()
	return closeFn()
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func toZapLevel(level slog.Level) zapcore.Level {
	switch {
	case level <= slog.LevelDebug:
		return zapcore.DebugLevel
	case level <= slog.LevelInfo:
		return zapcore.InfoLevel
	case level <= slog.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// CtxWithCorrelationID stores a correlation id in the context; every entry
// logged with that context carries it.
func CtxWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

func extractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if v, ok := ctx.Value(correlationIDKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

func Debug(ctx context.Context, msg string, fields Fields) { write(zapcore.DebugLevel, ctx, msg, fields) }
func Info(ctx context.Context, msg string, fields Fields)  { write(zapcore.InfoLevel, ctx, msg, fields) }
func Warn(ctx context.Context, msg string, fields Fields)  { write(zapcore.WarnLevel, ctx, msg, fields) }
func Error(ctx context.Context, msg string, fields Fields) { write(zapcore.ErrorLevel, ctx, msg, fields) }

func write(level zapcore.Level, ctx context.Context, msg string, fields Fields) {
	mu.RLock()
	l := logger
	mu.RUnlock()

	ce := l.Check(level, msg)
	if ce == nil {
		return
	}
	zf := make([]zap.Field, 0, len(fields)+1)
	if cid := extractCorrelationID(ctx); cid != "unknown" {
		zf = append(zf, zap.String(FieldCorrelationID, cid))
	}
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	ce.Write(zf...)
}
