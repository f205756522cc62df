// Package ports defines the interfaces the connection core consumes from
// the outside world, so tests can swap in fakes.
package ports

import "time"

// Clock abstracts time for the read loop and keepalive.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration

	// Sleep pauses execution for the specified duration.
	Sleep(d time.Duration)

	// NewTicker returns a Ticker that fires every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker wraps time.Ticker for testing.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}
