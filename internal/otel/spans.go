package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for redflow spans.
var (
	AttrTaskType     = attribute.Key("redflow.task.type")
	AttrTaskName     = attribute.Key("redflow.task.name")
	AttrCycle        = attribute.Key("redflow.cycle")
	AttrModel        = attribute.Key("redflow.llm.model")
	AttrTokensInput  = attribute.Key("redflow.llm.tokens.input")
	AttrTokensOutput = attribute.Key("redflow.llm.tokens.output")
	AttrActionType   = attribute.Key("redflow.action.type")
	AttrGuardLevel   = attribute.Key("redflow.guard.level")
)

// StartSpan starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound call (LLM or platform).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
