package observability

import (
	"context"
	"slices"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/coachbuilder/internal/config"
	"github.com/pitabwire/coachbuilder/model"
)

type loggerKey struct{}

// NewLogger builds the service's JSON logger on stdout. An unparsable
// level falls back to info.
//
// Levels: error for infrastructure failures and 5xx, warn for 4xx and
// rejected imports or publishes, info for request and session lifecycle,
// debug for reducer actions and token rejections.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig = enc
	zc.Sampling = nil
	zc.OutputPaths = []string{"stdout"}
	return zc.Build()
}

// WithLogger returns ctx carrying logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger in ctx, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, _ := ctx.Value(loggerKey{}).(*zap.Logger); l != nil {
		return l
	}
	return fallback
}

// RequestLogger tags the context logger with the author of the request, so
// every line about a session can be traced back to a tenant and coach.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}
	fields := []zap.Field{
		zap.String("tenant_id", rctx.TenantID),
		zap.String("subject_id", rctx.SubjectID),
		zap.String("correlation_id", rctx.CorrelationID),
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}
	return logger.With(fields...)
}

// ValidationFields summarizes a rejected document for a log line. Paths
// are omitted; a large document can produce hundreds.
func ValidationFields(errs []model.ValidationError) []zap.Field {
	return []zap.Field{
		zap.Int("error_count", len(errs)),
		zap.Strings("error_codes", ErrorCodes(errs)),
	}
}

// ErrorCodes returns the distinct codes of errs in sorted order.
func ErrorCodes(errs []model.ValidationError) []string {
	codes := make([]string, len(errs))
	for i, e := range errs {
		codes[i] = e.Code
	}
	slices.Sort(codes)
	return slices.Compact(codes)
}
