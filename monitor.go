package keepalive

import (
	"context"
	"time"
)

// HeartbeatTarget is the connection a HeartbeatMonitor watches.
// Client implements it.
type HeartbeatTarget interface {
	State() State
	LastActivity() time.Time
	Send(Message) error
}

// HeartbeatMonitor emits a heartbeat request whenever the target has been
// Connected and idle for at least the heartbeat interval. It never retries a
// failed heartbeat: the failed send already moved the target to Disconnected,
// and reconnecting is the reconnect policy's job.
type HeartbeatMonitor struct {
	target   HeartbeatTarget
	interval time.Duration
	tick     time.Duration
	logger   Logger
	metrics  *Metrics
}

// NewHeartbeatMonitor returns a monitor for target. It honours
// HeartbeatOption, HeartbeatTickOption, LoggerOption and MetricsOption.
func NewHeartbeatMonitor(target HeartbeatTarget, opt ...Option) *HeartbeatMonitor {
	return newHeartbeatMonitor(target, newOptions(opt...))
}

func newHeartbeatMonitor(target HeartbeatTarget, opts options) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		target:   target,
		interval: opts.heartbeat,
		tick:     opts.heartbeatTick,
		logger:   opts.logger,
		metrics:  opts.metrics,
	}
}

// Run checks the target every tick until ctx is canceled.
func (h *HeartbeatMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			h.check(now)
		}
	}
}

// check sends a heartbeat if the target is due one and reports whether it did.
func (h *HeartbeatMonitor) check(now time.Time) bool {
	if h.target.State() != Connected {
		return false
	}

	idle := now.Sub(h.target.LastActivity())
	if idle < h.interval {
		return false
	}

	h.logger.Debug("connection idle, sending heartbeat", "idle", idle)
	if err := h.target.Send(NewMessage(HeartbeatRequest, HeartbeatContent)); err != nil {
		h.logger.Warn("heartbeat failed", "error", err)
		return false
	}

	h.metrics.heartbeatsSent.Inc()
	return true
}
