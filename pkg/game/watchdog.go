package game

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// watchdog holds the single scheduled flag-fall timer of a session. Arming
// atomically replaces the previous timer, so two live timers can never
// coexist. A generation counter discards fires from timers that were
// replaced after their channel already delivered.
type watchdog struct {
	mu     sync.Mutex
	wall   clockwork.Clock
	timer  clockwork.Timer
	cancel chan struct{}
	gen    uint64
}

func newWatchdog(wall clockwork.Clock) *watchdog {
	return &watchdog{wall: wall}
}

// Arm schedules fn to run once after d, replacing any pending timer.
// fn runs on its own goroutine and must do its own state re-checks.
func (w *watchdog) Arm(d time.Duration, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.disarmLocked()

	if d < 0 {
		d = 0
	}

	gen := w.gen
	timer := w.wall.NewTimer(d)
	cancel := make(chan struct{})
	w.timer = timer
	w.cancel = cancel

	go func() {
		select {
		case <-timer.Chan():
			w.mu.Lock()
			stale := gen != w.gen
			w.mu.Unlock()
			if !stale {
				fn()
			}
		case <-cancel:
			stopAndDrain(timer)
		}
	}()
}

// Disarm cancels the pending timer, if any.
func (w *watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disarmLocked()
}

func (w *watchdog) disarmLocked() {
	w.gen++

	if w.cancel != nil {
		close(w.cancel)
		w.cancel = nil
		w.timer = nil
	}
}

func stopAndDrain(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
