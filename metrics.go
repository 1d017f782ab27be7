package keepalive

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "keepalive"

// Metrics holds the Prometheus collectors updated by clients and connections.
// A Metrics value that was never registered still counts; it is simply not
// exported anywhere.
type Metrics struct {
	framesSent          *prometheus.CounterVec
	framesReceived      *prometheus.CounterVec
	unhandledMessages   *prometheus.CounterVec
	heartbeatsSent      prometheus.Counter
	sendFailures        prometheus.Counter
	malformedFrames     prometheus.Counter
	connectAttempts     prometheus.Counter
	connectFailures     prometheus.Counter
	reconnectsScheduled prometheus.Counter
	state               prometheus.Gauge
}

// NewMetrics creates an unregistered set of collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		framesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "frames",
				Name:      "sent_total",
				Help:      "Frames written to the peer.",
			},
			[]string{"command"},
		),
		framesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "frames",
				Name:      "received_total",
				Help:      "Frames decoded from the peer.",
			},
			[]string{"command"},
		),
		unhandledMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "dispatch",
				Name:      "unhandled_total",
				Help:      "Inbound messages the dispatcher did not answer.",
			},
			[]string{"command"},
		),
		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "heartbeat",
			Name:      "sent_total",
			Help:      "Heartbeat requests emitted after an idle period.",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "frames",
			Name:      "send_failures_total",
			Help:      "Frame writes that failed on an established connection.",
		}),
		malformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "frames",
			Name:      "malformed_total",
			Help:      "Frames that could not be decoded.",
		}),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "client",
			Name:      "connect_attempts_total",
			Help:      "Dial attempts, initial and reconnect.",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "client",
			Name:      "connect_failures_total",
			Help:      "Dial attempts that failed.",
		}),
		reconnectsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "client",
			Name:      "reconnects_scheduled_total",
			Help:      "Deferred reconnect attempts armed after a disconnect.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "client",
			Name:      "state",
			Help:      "Current client state: 0 disconnected, 1 connecting, 2 connected. Client processes only.",
		}),
	}
}

// Collectors returns every collector in the set.
func (m *Metrics) Collectors() []prometheus.Collector {
	return append(m.connCollectors(), m.clientCollectors()...)
}

// connCollectors are updated by every Conn, on either side of the link.
func (m *Metrics) connCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.framesSent,
		m.framesReceived,
		m.unhandledMessages,
		m.sendFailures,
		m.malformedFrames,
	}
}

// clientCollectors are only updated by a Client and its heartbeat monitor.
func (m *Metrics) clientCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.heartbeatsSent,
		m.connectAttempts,
		m.connectFailures,
		m.reconnectsScheduled,
		m.state,
	}
}

// Register adds every collector to reg. Use it in client processes.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return register(reg, m.Collectors())
}

// RegisterServer adds only the per-connection collectors to reg, leaving
// out the client state, connect and heartbeat series a server never updates.
func (m *Metrics) RegisterServer(reg prometheus.Registerer) error {
	return register(reg, m.connCollectors())
}

func register(reg prometheus.Registerer, cs []prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) frameSent(cmd Command) {
	m.framesSent.WithLabelValues(commandLabel(cmd)).Inc()
}

func (m *Metrics) frameReceived(cmd Command) {
	m.framesReceived.WithLabelValues(commandLabel(cmd)).Inc()
}

func (m *Metrics) unhandled(cmd Command) {
	m.unhandledMessages.WithLabelValues(commandLabel(cmd)).Inc()
}

func (m *Metrics) setState(s State) {
	m.state.Set(float64(s))
}

// commandLabel keeps label cardinality bounded when peers send unknown commands.
func commandLabel(cmd Command) string {
	if cmd < HeartbeatRequest || cmd > NormalResponse {
		return "unknown"
	}
	return cmd.String()
}
