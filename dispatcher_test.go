package keepalive

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// recordSender collects everything sent through it.
type recordSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (s *recordSender) Send(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, m)
	return nil
}

func (s *recordSender) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}

func TestReplyDispatcher(t *testing.T) {
	tests := []struct {
		name string
		in   Message
		want Message
	}{
		{
			name: "heartbeat",
			in:   Message{Command: HeartbeatRequest, CorrelationID: "X", Content: HeartbeatContent},
			want: Message{Command: HeartbeatResponse, CorrelationID: "X", Content: PongContent},
		},
		{
			name: "business",
			in:   Message{Command: NormalRequest, CorrelationID: "Y", Content: "hello netty"},
			want: Message{Command: NormalResponse, CorrelationID: "Y", Content: OkContent},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &recordSender{}
			d := NewReplyDispatcher(NopLogger(), nil)

			if err := d.Dispatch(context.Background(), sender, tt.in); err != nil {
				t.Fatalf("Dispatch failed: %v", err)
			}

			sent := sender.messages()
			if len(sent) != 1 {
				t.Fatalf("sent %d messages, want exactly 1", len(sent))
			}
			if sent[0] != tt.want {
				t.Errorf("reply = %+v, want %+v", sent[0], tt.want)
			}
		})
	}
}

func TestReplyDispatcher_OtherCommands(t *testing.T) {
	metrics := NewMetrics()
	d := NewReplyDispatcher(NopLogger(), metrics)
	sender := &recordSender{}

	for _, cmd := range []Command{HeartbeatResponse, NormalResponse, Command(17)} {
		if err := d.Dispatch(context.Background(), sender, Message{Command: cmd, CorrelationID: "z"}); err != nil {
			t.Fatalf("Dispatch(%s) failed: %v", cmd, err)
		}
	}

	if n := len(sender.messages()); n != 0 {
		t.Errorf("sent %d replies, want none", n)
	}
	if got := metricValue(t, metrics, "keepalive_dispatch_unhandled_total"); got != 3 {
		t.Errorf("unhandled = %v, want 3", got)
	}
}

func TestReplyDispatcher_SendError(t *testing.T) {
	sendErr := newOpError(ErrSendFailed, errors.New("broken pipe"))
	sender := &recordSender{err: sendErr}
	d := NewReplyDispatcher(NopLogger(), nil)

	err := d.Dispatch(context.Background(), sender, NewMessage(HeartbeatRequest, HeartbeatContent))
	if !errors.Is(err, ErrSendFailed) {
		t.Errorf("expected ErrSendFailed, got %v", err)
	}
}

func TestObserverDispatcher(t *testing.T) {
	var got []Message
	d := NewObserverDispatcher(func(m Message) { got = append(got, m) }, NopLogger())
	sender := &recordSender{}

	in := []Message{
		{Command: HeartbeatResponse, CorrelationID: "1", Content: PongContent},
		{Command: NormalResponse, CorrelationID: "2", Content: OkContent},
		{Command: NormalRequest, CorrelationID: "3", Content: "server push"},
	}
	for _, m := range in {
		if err := d.Dispatch(context.Background(), sender, m); err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
	}

	if len(got) != len(in) {
		t.Fatalf("observer saw %d messages, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("message %d = %+v, want %+v", i, got[i], in[i])
		}
	}
	if n := len(sender.messages()); n != 0 {
		t.Errorf("observer dispatcher sent %d messages", n)
	}
}

func TestObserverDispatcher_NilObserver(t *testing.T) {
	d := NewObserverDispatcher(nil, NopLogger())
	if err := d.Dispatch(context.Background(), &recordSender{}, NewMessage(NormalResponse, OkContent)); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
}

func newRecordingTracer(t *testing.T) (trace.Tracer, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return provider.Tracer("test"), recorder
}

func spanAttributes(span sdktrace.ReadOnlySpan) map[attribute.Key]string {
	attrs := make(map[attribute.Key]string)
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	return attrs
}

func TestTracedDispatch(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus codes.Code
	}{
		{"success", nil, codes.Ok},
		{"failure", errors.New("handler failed"), codes.Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, recorder := newRecordingTracer(t)

			var seen Message
			d := DispatcherFunc(func(ctx context.Context, s Sender, m Message) error {
				seen = m
				if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
					t.Error("dispatcher context carries no span")
				}
				return tt.err
			})

			m := NewMessage(NormalRequest, "traced")
			err := tracedDispatch(context.Background(), tracer, d, &recordSender{}, m)
			if !errors.Is(err, tt.err) {
				t.Errorf("expected %v, got %v", tt.err, err)
			}
			if seen != m {
				t.Errorf("dispatcher saw %+v, want %+v", seen, m)
			}

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("ended spans = %d, want 1", len(spans))
			}
			span := spans[0]

			if span.Name() != "keepalive.dispatch" {
				t.Errorf("span name = %q", span.Name())
			}
			if span.SpanKind() != trace.SpanKindConsumer {
				t.Errorf("span kind = %v, want consumer", span.SpanKind())
			}

			attrs := spanAttributes(span)
			if attrs["keepalive.command"] != "NORMAL_REQUEST" {
				t.Errorf("command attribute = %q", attrs["keepalive.command"])
			}
			if attrs["keepalive.correlation_id"] != m.CorrelationID {
				t.Errorf("correlation_id attribute = %q, want %q", attrs["keepalive.correlation_id"], m.CorrelationID)
			}

			status := span.Status()
			if status.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", status.Code, tt.wantStatus)
			}
			if tt.err != nil {
				if status.Description != tt.err.Error() {
					t.Errorf("status description = %q", status.Description)
				}
				var recorded bool
				for _, ev := range span.Events() {
					if ev.Name == "exception" {
						recorded = true
					}
				}
				if !recorded {
					t.Error("error was not recorded on the span")
				}
			}
		})
	}
}
