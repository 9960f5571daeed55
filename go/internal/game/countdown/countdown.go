// Package countdown keeps a locally ticking copy of the server's phase clock so
// the display can decrement between authoritative pushes.
//
// The server remains authoritative: every push rebases the countdown and the
// local value is never extrapolated across pushes.
package countdown

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Interval between local decrements.
const Interval = time.Second

// Dispatcher runs fn on the owner's event loop. Timer callbacks never touch
// Countdown fields directly; they go through the dispatcher.
type Dispatcher func(fn func())

// Countdown is not safe for concurrent use. All methods must be called from
// the goroutine that drains the Dispatcher.
type Countdown struct {
	clock    clockwork.Clock
	dispatch Dispatcher
	onTick   func(remaining int)
	logger   zerolog.Logger

	timer     clockwork.Timer
	gen       uint64
	base      time.Time
	ticks     int
	remaining int
}

// New creates a stopped countdown. onTick may be nil.
func New(clock clockwork.Clock, dispatch Dispatcher, onTick func(remaining int)) *Countdown {
	return &Countdown{
		clock:    clock,
		dispatch: dispatch,
		onTick:   onTick,
		logger:   log.With().Str("component", "countdown").Logger(),
	}
}

// Rebase cancels any running timer and restarts from seconds. A value of zero
// or less leaves no timer running.
func (c *Countdown) Rebase(seconds int) {
	c.Stop()

	if seconds < 0 {
		seconds = 0
	}
	c.remaining = seconds
	if seconds == 0 {
		return
	}

	c.base = c.clock.Now()
	c.ticks = 0
	c.arm()

	c.logger.Debug().Int("remaining", seconds).Msg("countdown rebased")
}

// Stop cancels the running timer, if any. Ticks already in flight are discarded.
func (c *Countdown) Stop() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Remaining returns the locally displayed number of seconds.
func (c *Countdown) Remaining() int {
	return c.remaining
}

// Running reports whether a tick is scheduled.
func (c *Countdown) Running() bool {
	return c.timer != nil
}

// arm schedules the next tick against the rebase time so that loop latency
// does not accumulate across ticks.
func (c *Countdown) arm() {
	gen := c.gen
	next := c.base.Add(time.Duration(c.ticks+1) * Interval)
	delay := c.clock.Until(next)
	if delay < 0 {
		delay = 0
	}
	c.timer = c.clock.AfterFunc(delay, func() {
		c.dispatch(func() { c.tick(gen) })
	})
}

func (c *Countdown) tick(gen uint64) {
	if gen != c.gen {
		return
	}

	c.timer = nil
	c.ticks++
	if c.remaining > 0 {
		c.remaining--
	}
	if c.remaining > 0 {
		c.arm()
	}

	if c.onTick != nil {
		c.onTick(c.remaining)
	}
}
