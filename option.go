package keepalive

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	// DefaultHeartbeatInterval is the idle period after which a heartbeat is sent.
	DefaultHeartbeatInterval = 10 * time.Second
	// DefaultReconnectDelay is the fixed delay before each reconnect attempt.
	DefaultReconnectDelay = 10 * time.Second
	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second
	// maxHeartbeatTick caps the default idle check period.
	maxHeartbeatTick = time.Second
	// defaultBufferSize is the size of the per-connection dispatch queue.
	defaultBufferSize = 64
	// defaultMaxPackageLength is the default maximum size of a single frame payload (1MB).
	defaultMaxPackageLength = 1024 * 1024
	// defaultReadSize is the size of each socket read.
	defaultReadSize = 4096
)

// tracerName is the instrumentation scope of dispatch spans.
const tracerName = "github.com/Zereker/keepalive"

// DialFunc establishes the raw transport for a Client.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// options holds the configuration for connections and clients.
type options struct {
	codec   Codec
	logger  Logger
	metrics *Metrics
	tracer  trace.Tracer

	dispatcher    Dispatcher
	onMessage     func(Message)
	onStateChange func(from, to State)
	dial          DialFunc

	bufferSize     int           // size of the dispatch queue
	maxReadLength  int           // maximum size of a single frame payload
	heartbeat      time.Duration // idle period before a heartbeat
	heartbeatTick  time.Duration // how often idleness is checked
	reconnectDelay time.Duration // fixed delay before a reconnect attempt
	dialTimeout    time.Duration // zero leaves the platform default
	writeTimeout   time.Duration
	readTimeout    time.Duration // zero disables the read idle deadline
}

// Option is a function that configures connection and client options.
type Option func(*options)

func newOptions(opt ...Option) options {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)
	return opts
}

// checkOptions sets default values for unset options.
func checkOptions(opts *options) {
	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.maxReadLength <= 0 {
		opts.maxReadLength = defaultMaxPackageLength
	}

	if opts.codec == nil {
		opts.codec = LengthFieldCodec{MaxFrameLength: opts.maxReadLength}
	}

	if opts.heartbeat <= 0 {
		opts.heartbeat = DefaultHeartbeatInterval
	}

	if opts.heartbeatTick <= 0 {
		opts.heartbeatTick = defaultHeartbeatTick(opts.heartbeat)
	}

	if opts.reconnectDelay <= 0 {
		opts.reconnectDelay = DefaultReconnectDelay
	}

	if opts.writeTimeout <= 0 {
		opts.writeTimeout = DefaultWriteTimeout
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	if opts.metrics == nil {
		opts.metrics = NewMetrics()
	}

	if opts.tracer == nil {
		opts.tracer = otel.Tracer(tracerName)
	}

	if opts.dial == nil {
		d := &net.Dialer{Timeout: opts.dialTimeout}
		opts.dial = d.DialContext
	}
}

// defaultHeartbeatTick checks idleness ten times per interval, at most once
// a second. A heartbeat moves LastActivity just past the tick that sent it,
// so a tick equal to the interval would only fire every other tick.
func defaultHeartbeatTick(interval time.Duration) time.Duration {
	tick := interval / 10
	if tick > maxHeartbeatTick {
		tick = maxHeartbeatTick
	}
	if tick <= 0 {
		tick = interval
	}
	return tick
}

// CustomCodecOption returns an Option that sets the frame codec.
// The default is a LengthFieldCodec bounded by MessageMaxSize.
func CustomCodecOption(codec Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// BufferSizeOption returns an Option that sets the size of the dispatch queue.
// Decoded messages wait there while the dispatcher is busy.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// HeartbeatOption returns an Option that sets the idle period after which
// a client emits a heartbeat request.
func HeartbeatOption(heartbeat time.Duration) Option {
	return func(o *options) {
		o.heartbeat = heartbeat
	}
}

// HeartbeatTickOption returns an Option that sets how often idleness is
// checked. It defaults to a tenth of the heartbeat interval, capped at one
// second.
func HeartbeatTickOption(tick time.Duration) Option {
	return func(o *options) {
		o.heartbeatTick = tick
	}
}

// ReconnectDelayOption returns an Option that sets the fixed delay before
// every reconnect attempt.
func ReconnectDelayOption(delay time.Duration) Option {
	return func(o *options) {
		o.reconnectDelay = delay
	}
}

// DialTimeoutOption returns an Option that bounds socket establishment.
// Ignored when DialerOption is set.
func DialTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = timeout
	}
}

// DialerOption returns an Option that replaces the TCP dialer.
func DialerOption(dial DialFunc) Option {
	return func(o *options) {
		o.dial = dial
	}
}

// WriteTimeoutOption returns an Option that bounds a single frame write.
func WriteTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout
	}
}

// ReadTimeoutOption returns an Option that closes a connection when nothing
// has been read for the given duration. Zero disables it.
func ReadTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.readTimeout = timeout
	}
}

// MessageMaxSize returns an Option that sets the maximum frame payload size
// of the default codec.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxReadLength = size
	}
}

// DispatcherOption returns an Option that routes inbound messages to d.
func DispatcherOption(d Dispatcher) Option {
	return func(o *options) {
		o.dispatcher = d
	}
}

// OnMessageOption returns an Option that sets the observer receiving every
// inbound message on the client side.
func OnMessageOption(cb func(Message)) Option {
	return func(o *options) {
		o.onMessage = cb
	}
}

// OnStateChangeOption returns an Option that observes client state transitions.
// The callback runs with no locks held.
func OnStateChangeOption(cb func(from, to State)) Option {
	return func(o *options) {
		o.onStateChange = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MetricsOption returns an Option that sets the metrics sink.
func MetricsOption(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// TracerOption returns an Option that sets the tracer used for dispatch spans.
// If not set, the global OpenTelemetry provider is used.
func TracerOption(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}
