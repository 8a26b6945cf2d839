package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with coordination-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include prompt and response text in spans
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// EndSpan records err, if any, and ends span.
func (t *Tracer) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Bus Spans ---

// StartPublishSpan starts a producer span for one publish.
func (t *Tracer) StartPublishSpan(ctx context.Context, channel, messageType, messageID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "bus.publish", trace.WithSpanKind(trace.SpanKindProducer))
	span.SetAttributes(
		attribute.String("messaging.destination.name", channel),
		attribute.String("messaging.message.id", messageID),
		attribute.String("agentorg.message.type", messageType),
	)
	return ctx, span
}

// StartRequestSpan starts a client span for a correlated request.
func (t *Tracer) StartRequestSpan(ctx context.Context, from, to, correlationID string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "correlator.request", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("agentorg.request.from", from),
		attribute.String("agentorg.request.to", to),
		attribute.String("agentorg.correlation_id", correlationID),
	)
	return ctx, span
}

// EndRequestSpan ends a request span with its outcome.
func (t *Tracer) EndRequestSpan(span trace.Span, elapsed time.Duration, timedOut bool, err error) {
	span.SetAttributes(
		attribute.Bool("agentorg.request.timed_out", timedOut),
		attribute.Int64("agentorg.request.elapsed_ms", elapsed.Milliseconds()),
	)
	t.EndSpan(span, err)
}

// --- Generation Spans ---

// LLMSpanOptions contains options for generation spans.
type LLMSpanOptions struct {
	Model     string
	Provider  string
	Agent     string
	TokensIn  int
	TokensOut int
	Attempts  int
	Prompt    string // Only included if debug=true
	Response  string // Only included if debug=true
}

// StartLLMSpan starts a span for a generation call.
func (t *Tracer) StartLLMSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
}

// EndLLMSpan ends a generation span with attributes.
func (t *Tracer) EndLLMSpan(span trace.Span, opts LLMSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.model", opts.Model),
		attribute.String("llm.provider", opts.Provider),
		attribute.Int("llm.tokens.input", opts.TokensIn),
		attribute.Int("llm.tokens.output", opts.TokensOut),
		attribute.Int("llm.attempts", opts.Attempts),
	}
	if opts.Agent != "" {
		attrs = append(attrs, attribute.String("agentorg.agent", opts.Agent))
	}
	if t.debug {
		if opts.Prompt != "" {
			attrs = append(attrs, attribute.String("llm.prompt", truncate(opts.Prompt, 4000)))
		}
		if opts.Response != "" {
			attrs = append(attrs, attribute.String("llm.response", truncate(opts.Response, 4000)))
		}
	}
	span.SetAttributes(attrs...)
	t.EndSpan(span, err)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
