package keepalive

import (
	"context"
	"net"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"
)

func TestNewOptions_Defaults(t *testing.T) {
	opts := newOptions()

	if opts.bufferSize != defaultBufferSize {
		t.Errorf("bufferSize = %d, want %d", opts.bufferSize, defaultBufferSize)
	}
	if opts.maxReadLength != defaultMaxPackageLength {
		t.Errorf("maxReadLength = %d, want %d", opts.maxReadLength, defaultMaxPackageLength)
	}
	codec, ok := opts.codec.(LengthFieldCodec)
	if !ok {
		t.Fatalf("codec = %T, want LengthFieldCodec", opts.codec)
	}
	if codec.MaxFrameLength != defaultMaxPackageLength {
		t.Errorf("codec MaxFrameLength = %d, want %d", codec.MaxFrameLength, defaultMaxPackageLength)
	}
	if opts.heartbeat != DefaultHeartbeatInterval {
		t.Errorf("heartbeat = %v, want %v", opts.heartbeat, DefaultHeartbeatInterval)
	}
	if opts.heartbeatTick != time.Second {
		t.Errorf("heartbeatTick = %v, want 1s", opts.heartbeatTick)
	}
	if opts.reconnectDelay != DefaultReconnectDelay {
		t.Errorf("reconnectDelay = %v, want %v", opts.reconnectDelay, DefaultReconnectDelay)
	}
	if opts.writeTimeout != DefaultWriteTimeout {
		t.Errorf("writeTimeout = %v, want %v", opts.writeTimeout, DefaultWriteTimeout)
	}
	if opts.readTimeout != 0 {
		t.Errorf("readTimeout = %v, want disabled", opts.readTimeout)
	}
	if opts.logger == nil || opts.metrics == nil || opts.tracer == nil || opts.dial == nil {
		t.Error("logger, metrics, tracer and dial should all be defaulted")
	}
	if opts.dispatcher != nil {
		t.Error("dispatcher is chosen by the connection owner, not defaulted here")
	}
}

func TestMessageMaxSize_BoundsDefaultCodec(t *testing.T) {
	opts := newOptions(MessageMaxSize(4096))

	codec, ok := opts.codec.(LengthFieldCodec)
	if !ok || codec.MaxFrameLength != 4096 {
		t.Errorf("codec = %#v, want LengthFieldCodec bounded at 4096", opts.codec)
	}
}

func TestCustomCodecOption(t *testing.T) {
	codec := VarintCodec{MaxFrameLength: 10}
	opt := CustomCodecOption(codec)

	var opts options
	opt(&opts)

	if opts.codec != codec {
		t.Error("codec not set correctly")
	}
}

func TestBufferSizeOption(t *testing.T) {
	opt := BufferSizeOption(100)

	var opts options
	opt(&opts)

	if opts.bufferSize != 100 {
		t.Errorf("bufferSize = %d, want 100", opts.bufferSize)
	}
}

func TestHeartbeatOption(t *testing.T) {
	heartbeat := time.Minute * 5
	opts := newOptions(HeartbeatOption(heartbeat))

	if opts.heartbeat != heartbeat {
		t.Errorf("heartbeat = %v, want %v", opts.heartbeat, heartbeat)
	}
	if opts.heartbeatTick != maxHeartbeatTick {
		t.Errorf("heartbeatTick = %v, want %v", opts.heartbeatTick, maxHeartbeatTick)
	}
}

func TestDefaultHeartbeatTick(t *testing.T) {
	tests := []struct {
		interval time.Duration
		want     time.Duration
	}{
		{10 * time.Second, time.Second},
		{time.Minute, time.Second},
		{2 * time.Second, 200 * time.Millisecond},
		{150 * time.Millisecond, 15 * time.Millisecond},
		{5 * time.Nanosecond, 5 * time.Nanosecond},
	}

	for _, tt := range tests {
		if got := defaultHeartbeatTick(tt.interval); got != tt.want {
			t.Errorf("defaultHeartbeatTick(%v) = %v, want %v", tt.interval, got, tt.want)
		}
	}
}

func TestHeartbeatTickOption(t *testing.T) {
	opts := newOptions(HeartbeatOption(time.Second), HeartbeatTickOption(50*time.Millisecond))

	if opts.heartbeatTick != 50*time.Millisecond {
		t.Errorf("heartbeatTick = %v, want 50ms", opts.heartbeatTick)
	}
}

func TestTimeoutOptions(t *testing.T) {
	opts := newOptions(
		ReconnectDelayOption(3*time.Second),
		DialTimeoutOption(2*time.Second),
		WriteTimeoutOption(time.Second),
		ReadTimeoutOption(30*time.Second),
	)

	if opts.reconnectDelay != 3*time.Second {
		t.Errorf("reconnectDelay = %v", opts.reconnectDelay)
	}
	if opts.dialTimeout != 2*time.Second {
		t.Errorf("dialTimeout = %v", opts.dialTimeout)
	}
	if opts.writeTimeout != time.Second {
		t.Errorf("writeTimeout = %v", opts.writeTimeout)
	}
	if opts.readTimeout != 30*time.Second {
		t.Errorf("readTimeout = %v", opts.readTimeout)
	}
}

func TestDialerOption(t *testing.T) {
	called := false
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		called = true
		return nil, net.ErrClosed
	}
	opts := newOptions(DialerOption(dial))

	if _, err := opts.dial(context.Background(), "tcp", "x:1"); err != net.ErrClosed {
		t.Errorf("dial error = %v", err)
	}
	if !called {
		t.Error("custom dialer not used")
	}
}

func TestOnMessageOption(t *testing.T) {
	called := false
	opt := OnMessageOption(func(Message) { called = true })

	var opts options
	opt(&opts)

	if opts.onMessage == nil {
		t.Fatal("onMessage is nil")
	}
	opts.onMessage(Message{})
	if !called {
		t.Error("onMessage callback not called")
	}
}

func TestOnStateChangeOption(t *testing.T) {
	var got [2]State
	opt := OnStateChangeOption(func(from, to State) { got = [2]State{from, to} })

	var opts options
	opt(&opts)

	opts.onStateChange(Connecting, Connected)
	if got != [2]State{Connecting, Connected} {
		t.Errorf("onStateChange got %v", got)
	}
}

func TestDispatcherOption(t *testing.T) {
	d := NewReplyDispatcher(NopLogger(), nil)
	opts := newOptions(DispatcherOption(d))

	if opts.dispatcher != d {
		t.Error("dispatcher not set correctly")
	}
}

func TestLoggerOption(t *testing.T) {
	logger := &recordLogger{}
	opt := LoggerOption(logger)

	var opts options
	opt(&opts)

	if opts.logger != logger {
		t.Error("logger not set correctly")
	}
}

func TestMetricsOption(t *testing.T) {
	m := NewMetrics()
	opts := newOptions(MetricsOption(m))

	if opts.metrics != m {
		t.Error("metrics not set correctly")
	}
}

func TestTracerOption(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test")
	opts := newOptions(TracerOption(tracer))

	if opts.tracer != tracer {
		t.Error("tracer not set correctly")
	}
}
