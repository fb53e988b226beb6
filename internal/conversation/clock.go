package conversation

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Timer is a cancellable one-shot callback.
type Timer interface {
	// Stop prevents the callback from firing. It returns false if the
	// callback already fired or the timer was already stopped.
	Stop() bool
}

// Scheduler runs a callback once after a delay, on its own goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock is the wall clock and time.AfterFunc.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
