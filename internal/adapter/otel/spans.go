package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "gatewright"

// StartWorkflowSpan starts a span covering one workflow instance run.
func StartWorkflowSpan(ctx context.Context, instanceID, changeKey, revision string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "workflow",
		trace.WithAttributes(
			attribute.String("workflow.id", instanceID),
			attribute.String("change.key", changeKey),
			attribute.String("change.revision", revision),
		),
	)
}

// StartStepSpan starts a span for one step execution within a workflow.
func StartStepSpan(ctx context.Context, instanceID, step string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "step",
		trace.WithAttributes(
			attribute.String("workflow.id", instanceID),
			attribute.String("step.id", step),
		),
	)
}
