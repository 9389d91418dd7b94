package observability

import (
	"context"
	"time"

	"storefront-orders/internal/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const spanPrefix = "UC."

// Telemetry bundles the logger, metrics and tracer handed to services.
type Telemetry struct {
	Logger  *zap.Logger
	Metrics *Metrics
	Tracer  trace.Tracer
}

// NewTelemetry fills nil dependencies with no-op versions.
func NewTelemetry(logger *zap.Logger, metrics *Metrics, tracer trace.Tracer) *Telemetry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if tracer == nil {
		tracer = otel.Tracer("storefront-orders")
	}
	return &Telemetry{Logger: logger, Metrics: metrics, Tracer: tracer}
}

// Nop is telemetry that records nothing outside the process.
func Nop() *Telemetry {
	return NewTelemetry(nil, nil, nil)
}

// Run tracks one use case execution from Start to End.
type Run struct {
	tel     *Telemetry
	useCase string
	span    trace.Span
	logger  *zap.Logger
	start   time.Time
	outcome string
	status  string
	fields  []zap.Field
}

// Start opens a span named UC.<name> and returns a context carrying a logger scoped to the use case.
func (t *Telemetry) Start(ctx context.Context, useCase, name string, attrs ...attribute.KeyValue) (context.Context, *Run) {
	attrs = append(attrs, attribute.String("use_case", useCase))
	ctx, span := t.Tracer.Start(ctx, spanPrefix+name, trace.WithAttributes(attrs...))

	base := logging.FromContext(ctx)
	if base == zap.L() {
		base = t.Logger
	}
	logger := logging.WithTrace(ctx, base.With(zap.String("use_case", useCase)))
	ctx = logging.ContextWithLogger(ctx, logger)

	return ctx, &Run{
		tel:     t,
		useCase: useCase,
		span:    span,
		logger:  logger,
		start:   time.Now(),
		outcome: "success",
		status:  "OK",
	}
}

func (r *Run) Logger() *zap.Logger { return r.logger }

func (r *Run) Span() trace.Span { return r.span }

// With adds fields to the closing use_case_done record.
func (r *Run) With(fields ...zap.Field) {
	r.fields = append(r.fields, fields...)
}

// Status records a non-error status code such as IDEMPOTENT_REPLAY.
func (r *Run) Status(status string) {
	r.status = status
}

// Reject marks the run as a business rejection.
func (r *Run) Reject(status string) {
	r.outcome, r.status = "rejected", status
}

func (r *Run) Fail(status string) {
	r.outcome, r.status = "error", status
}

// End closes the span, records metrics and writes the use_case_done log line.
func (r *Run) End(err error) {
	if err != nil && r.outcome == "success" {
		r.outcome, r.status = "error", "UNCLASSIFIED"
	}
	lat := time.Since(r.start).Seconds()

	if err != nil {
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, r.status)
	} else {
		r.span.SetStatus(codes.Ok, r.status)
	}
	r.span.End()

	r.tel.Metrics.UseCaseRequests.WithLabelValues(r.useCase, r.outcome).Inc()
	r.tel.Metrics.UseCaseDuration.WithLabelValues(r.useCase).Observe(lat)

	fields := append([]zap.Field{
		zap.String("outcome", r.outcome),
		zap.String("status", r.status),
		zap.Float64("latency_seconds", lat),
	}, r.fields...)
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if r.outcome == "error" {
		r.logger.Warn("use_case_done", fields...)
		return
	}
	r.logger.Info("use_case_done", fields...)
}
