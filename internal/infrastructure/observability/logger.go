package observability

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"go.opentelemetry.io/otel/trace"
)

// InitLogger initializes the global zerolog logger. level accepts zerolog
// level names; anything unparsable falls back to info.
func InitLogger(serviceName, env, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().
			Str("service", serviceName).
			Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Caller().
			Str("service", serviceName).
			Logger()
	}
}

// LoggerFromContext returns a logger with trace context
func LoggerFromContext(ctx context.Context) *zerolog.Logger {
	logger := log.With().Logger()

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		logger = logger.With().
			Str("trace_id", span.SpanContext().TraceID().String()).
			Str("span_id", span.SpanContext().SpanID().String()).
			Logger()
	}

	return &logger
}

// GetLogger returns the global logger
func GetLogger() *zerolog.Logger {
	return &log.Logger
}

// LogSecurityEvent writes one gateway decision. Rejections log at warn.
func LogSecurityEvent(ctx context.Context, ev entities.SecurityEvent) {
	logger := LoggerFromContext(ctx)
	e := logger.Info()
	if ev.Outcome == entities.SecurityOutcomeReject {
		e = logger.Warn()
	}
	e.Str("event", "security").
		Str("outcome", string(ev.Outcome)).
		Str("reason", ev.Reason).
		Str("identifier", ev.Identifier).
		Str("endpoint", ev.Endpoint).
		Int("status", ev.Status).
		Time("at", ev.At).
		Msg("webhook security decision")
}
