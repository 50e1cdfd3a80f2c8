package oracle

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type traced struct {
	next   Oracle
	tracer trace.Tracer
	name   string
}

// Traced wraps every call in a span named "oracle.<name>".
func Traced(o Oracle, tracer trace.Tracer, name string) Oracle {
	if tracer == nil {
		return o
	}
	return &traced{next: o, tracer: tracer, name: "oracle." + name}
}

func (t *traced) Generate(ctx context.Context, prompt string) (Reply, error) {
	ctx, span := t.tracer.Start(ctx, t.name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.Int("oracle.prompt_chars", len([]rune(prompt))))

	reply, err := t.next.Generate(ctx, prompt)
	span.SetAttributes(
		attribute.String("oracle.model", reply.Model),
		attribute.String("oracle.stop_reason", reply.StopReason),
		attribute.Int("oracle.reply_chars", len([]rune(reply.Text))),
	)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("oracle.failure", ClassifyError(err).String()))
		span.SetStatus(codes.Error, err.Error())
	}
	return reply, err
}
