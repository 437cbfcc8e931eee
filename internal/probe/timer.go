package probe

import "time"

// timer is a cancellable attempt deadline. It is owned by the probe loop
// and not safe for concurrent use.
type timer struct {
	c         <-chan time.Time
	stop      func() bool
	cancelled bool
}

func newTimer(d time.Duration) *timer {
	t := time.NewTimer(d)
	return &timer{c: t.C, stop: t.Stop}
}

// C fires when the deadline passes
func (t *timer) C() <-chan time.Time {
	return t.c
}

// Cancel stops the timer. Cancelling a fired or already cancelled timer is
// a no-op.
func (t *timer) Cancel() {
	if t.cancelled {
		return
	}
	t.cancelled = true
	t.stop()
}
