package keepalive

import (
	"sync"
	"time"
)

// reconnector arms at most one deferred reconnect attempt at a time.
// The delay is fixed and attempts never stop until the reconnector is
// stopped: a failed attempt simply arms the next one.
type reconnector struct {
	delay   time.Duration
	attempt func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newReconnector(delay time.Duration, attempt func()) *reconnector {
	return &reconnector{delay: delay, attempt: attempt}
}

// schedule arms an attempt after the fixed delay. It reports false when an
// attempt is already pending or the reconnector has been stopped.
func (r *reconnector) schedule() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped || r.timer != nil {
		return false
	}

	var t *time.Timer
	t = time.AfterFunc(r.delay, func() {
		r.mu.Lock()
		if r.timer != t {
			r.mu.Unlock()
			return
		}
		r.timer = nil
		r.mu.Unlock()

		r.attempt()
	})
	r.timer = t
	return true
}

// pending reports whether an attempt is armed.
func (r *reconnector) pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

// stop cancels the pending attempt and refuses new ones.
func (r *reconnector) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
