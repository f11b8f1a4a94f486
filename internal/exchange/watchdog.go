package exchange

import (
	"sync"
	"time"
)

// watchdog arms a one-shot logical clock per exchange: unless reset
// again before timeout elapses, onExpire fires exactly once. Grounded
// on the teacher's BucketPool.maintenanceLoop ticker-driven background
// work (internal/pool/pool.go), narrowed here to a one-shot timer
// instead of a repeating ticker, per spec.md §5's statement-timeout
// clock.
type watchdog struct {
	timeout  time.Duration
	onExpire func()

	mu    sync.Mutex
	timer *time.Timer
	fired bool
}

// newWatchdog starts the clock immediately. A non-positive timeout
// disables it; all methods on a disabled watchdog are no-ops.
func newWatchdog(timeout time.Duration, onExpire func()) *watchdog {
	w := &watchdog{timeout: timeout, onExpire: onExpire}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, w.fire)
	}
	return w
}

func (w *watchdog) fire() {
	w.mu.Lock()
	w.fired = true
	w.mu.Unlock()
	w.onExpire()
}

// reset restarts the countdown, matching spec.md §5's "reset on every
// inbound message".
func (w *watchdog) reset() {
	if w.timer == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fired {
		return
	}
	w.timer.Reset(w.timeout)
}

// stop cancels the clock; called once the exchange reaches its last
// frame so a late timer never fires an attention for a finished
// exchange.
func (w *watchdog) stop() {
	if w.timer == nil {
		return
	}
	w.timer.Stop()
}
