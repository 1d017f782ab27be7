package keepalive

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Sender is the outbound path a dispatcher replies on.
type Sender interface {
	Send(Message) error
}

// Dispatcher routes one decoded inbound message.
// Dispatch runs off the read path, one message at a time per connection.
type Dispatcher interface {
	Dispatch(ctx context.Context, s Sender, m Message) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, s Sender, m Message) error

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, s Sender, m Message) error {
	return f(ctx, s, m)
}

// ReplyDispatcher answers requests on the receiving side: a heartbeat
// request gets "pong", a normal request gets "ok", both under the
// request's correlation id. Other commands are logged and counted only.
type ReplyDispatcher struct {
	logger  Logger
	metrics *Metrics
}

// NewReplyDispatcher returns a ReplyDispatcher. Nil arguments fall back to
// the slog default logger and an unregistered Metrics.
func NewReplyDispatcher(logger Logger, metrics *Metrics) *ReplyDispatcher {
	if logger == nil {
		logger = defaultLogger()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &ReplyDispatcher{logger: logger, metrics: metrics}
}

// Dispatch implements Dispatcher.
func (d *ReplyDispatcher) Dispatch(_ context.Context, s Sender, m Message) error {
	switch m.Command {
	case HeartbeatRequest:
		d.logger.Debug("heartbeat received", "correlation_id", m.CorrelationID)
		return s.Send(m.Reply(HeartbeatResponse, PongContent))
	case NormalRequest:
		d.logger.Info("business message received",
			"correlation_id", m.CorrelationID, "content", m.Content)
		return s.Send(m.Reply(NormalResponse, OkContent))
	default:
		d.logger.Debug("message ignored",
			"command", m.Command.String(), "correlation_id", m.CorrelationID)
		d.metrics.unhandled(m.Command)
		return nil
	}
}

// ObserverDispatcher hands every inbound message to an external observer.
// It is the originating side's dispatcher: response content is not
// interpreted, correlation is up to the observer.
type ObserverDispatcher struct {
	onMessage func(Message)
	logger    Logger
}

// NewObserverDispatcher returns an ObserverDispatcher calling fn.
// A nil fn only logs.
func NewObserverDispatcher(fn func(Message), logger Logger) *ObserverDispatcher {
	if logger == nil {
		logger = defaultLogger()
	}
	return &ObserverDispatcher{onMessage: fn, logger: logger}
}

// Dispatch implements Dispatcher.
func (d *ObserverDispatcher) Dispatch(_ context.Context, _ Sender, m Message) error {
	if d.onMessage == nil {
		d.logger.Debug("message received",
			"command", m.Command.String(), "correlation_id", m.CorrelationID)
		return nil
	}
	d.onMessage(m)
	return nil
}

// tracedDispatch runs d inside a span describing m.
func tracedDispatch(ctx context.Context, tracer trace.Tracer, d Dispatcher, s Sender, m Message) error {
	ctx, span := tracer.Start(ctx, "keepalive.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("keepalive.command", m.Command.String()),
			attribute.String("keepalive.correlation_id", m.CorrelationID),
		),
	)
	defer span.End()

	err := d.Dispatch(ctx, s, m)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}
