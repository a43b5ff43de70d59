package observability

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sahidur/ams-sub001/internal/config"
	"github.com/sahidur/ams-sub001/model"
)

// ServiceName is stamped on every log line and span resource.
const ServiceName = "approvals"

// NewLogger builds the JSON logger used by every command. Lines go to
// stdout unless outputPaths are given; the MCP command sends them to stderr
// because stdout carries the protocol.
//
// Levels:
//   - error: store or broker failures, panics, 5xx responses
//   - warn:  4xx responses, lost CAS races, failed notifications, SLA breaches
//   - info:  request lines, lifecycle transitions, startup and shutdown
//   - debug: capability cache misses, dropped events, idempotent replays
func NewLogger(cfg config.ObservabilityConfig, outputPaths ...string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	return zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         "json",
		EncoderConfig:    enc,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
		InitialFields: map[string]any{
			"service": ServiceName,
			"version": Version,
		},
	}.Build()
}

// RequestLogger returns fallback enriched with the caller identity and the
// correlation and trace ids found in ctx. Without a RequestContext only the
// active trace id, if any, is added.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if fallback == nil {
		fallback = zap.NewNop()
	}

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		if traceID := TraceIDFromContext(ctx); traceID != "" {
			return fallback.With(zap.String("trace_id", traceID))
		}
		return fallback
	}

	fields := make([]zap.Field, 0, 4)
	fields = append(fields,
		zap.String("tenant_id", rctx.TenantID),
		zap.String("subject_id", rctx.SubjectID),
	)
	if rctx.CorrelationID != "" {
		fields = append(fields, zap.String("correlation_id", rctx.CorrelationID))
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}
	return fallback.With(fields...)
}
