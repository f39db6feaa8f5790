// Package clock lets time-dependent components (the retention sweeper,
// the rendezvous retry loop, pending-association expiry) run against a
// controllable clock in tests.
package clock

import "time"

// Clock is the subset of the time package the claim store depends on.
type Clock interface {
	Now() time.Time
	// After delivers the current time once d has elapsed. d <= 0 fires
	// immediately.
	After(d time.Duration) <-chan time.Time
	// NewTicker panics if d <= 0, like time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C. Slow consumers miss ticks rather
// than queueing them.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}

// OrReal returns c, or Real() when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
