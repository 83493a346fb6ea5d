package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/zatekoja/telemedsync"

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing, which keeps tests and OTEL-disabled runs simple.
type Metrics struct {
	RequestCount     metric.Int64Counter
	RequestDuration  metric.Float64Histogram
	SecurityDecision metric.Int64Counter
	SyncJobCount     metric.Int64Counter
	SyncJobDuration  metric.Float64Histogram
	RecordsProcessed metric.Int64Counter
	RecordsFailed    metric.Int64Counter
	ProviderAttempts metric.Int64Counter
}

// Setup initializes OpenTelemetry tracing and metrics
func Setup(ctx context.Context, serviceName, serviceVersion, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	// Set up trace exporter
	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	// Set up trace provider
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// Set up metric exporter and provider
	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		GetLogger().Warn().Err(err).Msg("runtime metrics disabled")
	}

	// Shutdown function
	shutdown := func(ctx context.Context) error {
		return errors.Join(
			meterProvider.Shutdown(ctx),
			tracerProvider.Shutdown(ctx),
		)
	}

	return shutdown, nil
}

// InitMetrics initializes application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	requestCount, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	securityDecision, err := meter.Int64Counter(
		"webhook.security.decision.count",
		metric.WithDescription("Gateway decisions by outcome and reason"),
	)
	if err != nil {
		return nil, err
	}

	syncJobCount, err := meter.Int64Counter(
		"sync.job.count",
		metric.WithDescription("Finished sync jobs by type and status"),
	)
	if err != nil {
		return nil, err
	}

	syncJobDuration, err := meter.Float64Histogram(
		"sync.job.duration",
		metric.WithDescription("Sync job duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	recordsProcessed, err := meter.Int64Counter(
		"sync.records.processed",
		metric.WithDescription("Partner records upserted"),
	)
	if err != nil {
		return nil, err
	}

	recordsFailed, err := meter.Int64Counter(
		"sync.records.failed",
		metric.WithDescription("Partner records that could not be stored"),
	)
	if err != nil {
		return nil, err
	}

	providerAttempts, err := meter.Int64Counter(
		"provider.http.attempt.count",
		metric.WithDescription("Outbound partner API attempts"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCount:     requestCount,
		RequestDuration:  requestDuration,
		SecurityDecision: securityDecision,
		SyncJobCount:     syncJobCount,
		SyncJobDuration:  syncJobDuration,
		RecordsProcessed: recordsProcessed,
		RecordsFailed:    recordsFailed,
		ProviderAttempts: providerAttempts,
	}, nil
}

// StartSpan starts a new trace span
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	return tracer.Start(ctx, spanName)
}

// RecordError records an error in the current span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}

// SetSpanAttributes sets attributes on a span
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// RecordRequestMetric records a metric with attributes
func RecordRequestMetric(ctx context.Context, metrics *Metrics, method, path string, statusCode int, duration time.Duration) {
	if metrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.Int("http.status_code", statusCode),
	}

	metrics.RequestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	metrics.RequestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordSecurityDecision counts one gateway decision
func RecordSecurityDecision(ctx context.Context, metrics *Metrics, outcome, reason string) {
	if metrics == nil {
		return
	}
	metrics.SecurityDecision.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	))
}

// RecordSyncJob records a finished job
func RecordSyncJob(ctx context.Context, metrics *Metrics, jobType, status string, duration time.Duration) {
	if metrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("job.type", jobType),
		attribute.String("job.status", status),
	)
	metrics.SyncJobCount.Add(ctx, 1, attrs)
	metrics.SyncJobDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordSyncRecords records processed and failed record counts for a provider run
func RecordSyncRecords(ctx context.Context, metrics *Metrics, providerID string, processed, failed int) {
	if metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("provider.id", providerID))
	metrics.RecordsProcessed.Add(ctx, int64(processed), attrs)
	metrics.RecordsFailed.Add(ctx, int64(failed), attrs)
}

// RecordProviderAttempt counts one outbound partner call
func RecordProviderAttempt(ctx context.Context, metrics *Metrics, providerID, outcome string) {
	if metrics == nil {
		return
	}
	metrics.ProviderAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider.id", providerID),
		attribute.String("outcome", outcome),
	))
}
