package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the name of the tracer for triage operations.
const TracerName = "triage"

// Span attribute keys.
const (
	AttrDomain     = "domain"
	AttrItemID     = "item_id"
	AttrItemCount  = "item_count"
	AttrLabel      = "label"
	AttrConfidence = "confidence"
	AttrModel      = "model"
	AttrTokens     = "tokens"
	AttrDurationMs = "duration_ms"
	AttrErrorCode  = "error_code"
	AttrRetryable  = "retryable"
	AttrAttempt    = "attempt"
)

// Span names.
const (
	SpanCycle      = "triage.cycle"
	SpanExtraction = "triage.extraction"
	SpanLLMCall    = "triage.llm_call"
	SpanResolve    = "triage.resolve"
	SpanSweep      = "triage.staleness_sweep"
)

// Tracer provides distributed tracing for triage operations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new triage tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(TracerName),
	}
}

// StartCycleSpan starts a root span for one classification cycle.
func (t *Tracer) StartCycleSpan(ctx context.Context, domain string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanCycle,
		trace.WithAttributes(
			attribute.String(AttrDomain, domain),
		),
	)
}

// StartStageSpan starts a span for a named pipeline stage.
func (t *Tracer) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("triage.stage.%s", stage),
		trace.WithAttributes(
			attribute.String("stage", stage),
		),
	)
}

// StartLLMSpan starts a span for an LLM inference call.
func (t *Tracer) StartLLMSpan(ctx context.Context, model string, itemCount int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanLLMCall,
		trace.WithAttributes(
			attribute.String(AttrModel, model),
			attribute.Int(AttrItemCount, itemCount),
		),
	)
}

// SpanHelper provides convenient methods for working with the current span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper creates a new span helper for the given span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetScore sets classification result attributes on the span.
func (h *SpanHelper) SetScore(itemID, label string, confidence float64) {
	h.span.SetAttributes(
		attribute.String(AttrItemID, itemID),
		attribute.String(AttrLabel, label),
		attribute.Float64(AttrConfidence, confidence),
	)
}

// SetLLMResult sets inference result attributes.
func (h *SpanHelper) SetLLMResult(tokens int, latencyMs int64) {
	h.span.SetAttributes(
		attribute.Int(AttrTokens, tokens),
		attribute.Int64(AttrDurationMs, latencyMs),
	)
}

// SetAttempt sets the retry attempt number.
func (h *SpanHelper) SetAttempt(attempt int) {
	h.span.SetAttributes(attribute.Int(AttrAttempt, attempt))
}

// SetError records an error on the span.
func (h *SpanHelper) SetError(err error, code string, retryable bool) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.Bool(AttrRetryable, retryable),
	)
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
