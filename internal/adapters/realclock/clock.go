// Package realclock implements ports.Clock on top of the time package.
package realclock

import (
	"time"

	"github.com/acolita/shellconn/internal/ports"
)

// Clock is the wall clock.
type Clock struct{}

// New returns a wall clock.
func New() *Clock {
	return &Clock{}
}

func (c *Clock) Now() time.Time { return time.Now() }

func (c *Clock) Since(t time.Time) time.Duration { return time.Since(t) }

func (c *Clock) Sleep(d time.Duration) { time.Sleep(d) }

// NewTicker returns a ticker backed by time.Ticker.
func (c *Clock) NewTicker(d time.Duration) ports.Ticker {
	return &ticker{t: time.NewTicker(d)}
}

type ticker struct {
	t *time.Ticker
}

func (t *ticker) C() <-chan time.Time { return t.t.C }

func (t *ticker) Stop() { t.t.Stop() }

var _ ports.Clock = (*Clock)(nil)
