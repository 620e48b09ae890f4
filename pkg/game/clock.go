package game

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/beer-chess/game-server/internal/color"
)

// Clock is the per-session countdown for both sides with Fischer increment.
// Stored remaining time changes only at settlement; between settlements the
// active side's elapsed thinking time is deducted on read. The stored value
// may legally drop to zero or below after a settlement: the watchdog, not
// the settlement, is the sole authority on flag-fall.
type Clock struct {
	mu sync.Mutex

	whiteMs int64
	blackMs int64

	incrementMs int64
	untimed     bool

	active    color.Color
	turnStart time.Time
	running   bool

	wall     clockwork.Clock
	dog      *watchdog
	onExpire func(color.Color)
}

// NewClock creates a clock with the given remaining times. onExpire is
// invoked from the watchdog goroutine when the active side's time runs out;
// it must re-check game state under its own lock.
func NewClock(
	rule TimeRule,
	whiteMs, blackMs int64,
	wall clockwork.Clock,
	onExpire func(color.Color),
) *Clock {
	return &Clock{
		whiteMs:     whiteMs,
		blackMs:     blackMs,
		incrementMs: rule.IncrementMs,
		untimed:     rule.Untimed,
		active:      color.White,
		wall:        wall,
		dog:         newWatchdog(wall),
		onExpire:    onExpire,
	}
}

// Start begins timed play after the second ply. The side that just moved
// (black) is credited its increment, white goes on the clock, and the
// watchdog is armed at white's full remaining time.
func (c *Clock) Start(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blackMs += c.incrementMs
	c.active = color.White
	c.turnStart = now
	c.running = true
	c.armLocked()
}

// Resume puts a restored game back on the clock for the given side.
func (c *Clock) Resume(side color.Color, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = side
	c.turnStart = now
	c.running = true
	c.armLocked()
}

// SettleAndSwitch settles the mover's elapsed time plus increment, puts the
// other side on the clock, and replaces the watchdog with one armed at the
// other side's current remaining time.
func (c *Clock) SettleAndSwitch(mover color.Color, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}

	elapsed := now.Sub(c.turnStart).Milliseconds()
	c.add(mover, c.incrementMs-elapsed)

	c.active = mover.Opp()
	c.turnStart = now
	c.armLocked()
}

// Remaining returns the unfloored remaining time for a side. Elapsed time
// is deducted only while the side is actively on a running clock.
func (c *Clock) Remaining(side color.Color, now time.Time) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.remainingLocked(side, now)
}

// Times returns both remaining times floored at zero for reporting.
func (c *Clock) Times(now time.Time) (whiteMs, blackMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	whiteMs = c.remainingLocked(color.White, now)
	blackMs = c.remainingLocked(color.Black, now)

	if whiteMs < 0 {
		whiteMs = 0
	}
	if blackMs < 0 {
		blackMs = 0
	}

	return whiteMs, blackMs
}

// Active returns the side currently on the clock.
func (c *Clock) Active() color.Color {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.active
}

// Running reports whether the clock is counting down.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

// Clamp zeroes a side's stored remaining time. Called on flag-fall.
func (c *Clock) Clamp(side color.Color) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if side == color.White {
		c.whiteMs = 0
	} else {
		c.blackMs = 0
	}
}

// Stop halts the clock and cancels any pending watchdog.
func (c *Clock) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	c.dog.Disarm()
}

func (c *Clock) remainingLocked(side color.Color, now time.Time) int64 {
	stored := c.whiteMs
	if side == color.Black {
		stored = c.blackMs
	}

	if c.running && side == c.active {
		stored -= now.Sub(c.turnStart).Milliseconds()
	}

	return stored
}

func (c *Clock) add(side color.Color, deltaMs int64) {
	if side == color.White {
		c.whiteMs += deltaMs
	} else {
		c.blackMs += deltaMs
	}
}

func (c *Clock) armLocked() {
	if c.untimed {
		return
	}

	side := c.active
	stored := c.whiteMs
	if side == color.Black {
		stored = c.blackMs
	}

	c.dog.Arm(time.Duration(stored)*time.Millisecond, func() {
		c.onExpire(side)
	})
}
