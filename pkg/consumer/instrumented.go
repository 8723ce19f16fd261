package consumer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joevandyk/beetle/pkg/logger"
)

// InstrumentedProcessor wraps a Processor with logging and tracing.
type InstrumentedProcessor struct {
	next   *Processor
	tracer trace.Tracer
}

// NewInstrumentedProcessor creates a new InstrumentedProcessor wrapping the
// given processor.
func NewInstrumentedProcessor(next *Processor) *InstrumentedProcessor {
	return &InstrumentedProcessor{
		next:   next,
		tracer: otel.Tracer("pkg/consumer"),
	}
}

func (p *InstrumentedProcessor) Process(ctx context.Context, m *Message, h Handler) ResultCode {
	ctx, span := p.tracer.Start(ctx, "consumer.Process", trace.WithAttributes(
		attribute.String("messaging.queue", m.Queue),
		attribute.String("messaging.message_id", m.ID),
		attribute.Bool("messaging.redundant", m.Redundant()),
	))
	defer span.End()

	code := p.next.Process(ctx, m, h)
	span.SetAttributes(attribute.String("messaging.result", code.String()))

	switch {
	case code == InternalError:
		span.SetStatus(codes.Error, code.String())
	case code.Failure():
		span.SetStatus(codes.Error, code.String())
		logger.L().ErrorContext(ctx, "gave up on message",
			"queue", m.Queue, "message_id", m.ID, "result", code.String(), "error", m.HandlerErr())
	case code.Reject():
		span.SetStatus(codes.Ok, "delivery will return")
		logger.L().InfoContext(ctx, "delivery deferred",
			"queue", m.Queue, "message_id", m.ID, "result", code.String())
	default:
		span.SetStatus(codes.Ok, "message processed")
	}

	return code
}
