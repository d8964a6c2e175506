// internal/player/timer.go
package player

import "time"

// Timer measures elapsed wall time since its last restart, used to gate
// progress reports to the server. time.Since uses the monotonic clock,
// so system clock adjustments do not skew the cadence.
type Timer struct {
	started time.Time
}

// NewTimer returns a Timer that starts counting immediately.
func NewTimer() *Timer {
	return &Timer{started: time.Now()}
}

// Restart resets the elapsed measurement to zero.
func (t *Timer) Restart() {
	t.started = time.Now()
}

// Elapsed returns the time since the last restart.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.started)
}
