package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateCache(t *testing.T) {
	c := NewRateCache()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rx, tx := c.Observe("web", 0, 0, t0)
	assert.Zero(t, rx)
	assert.Zero(t, tx)

	rx, tx = c.Observe("web", 10*bytesPerMB, 5*bytesPerMB, t0.Add(5*time.Second))
	assert.InDelta(t, 2.0, rx, 1e-9)
	assert.InDelta(t, 1.0, tx, 1e-9)

	rx, _ = c.Observe("web", 20*bytesPerMB, 5*bytesPerMB, t0.Add(5*time.Second))
	assert.Zero(t, rx, "no elapsed time")

	rx, tx = c.Observe("web", 1, 1, t0.Add(10*time.Second))
	assert.Zero(t, rx, "counter reset")
	assert.Zero(t, tx)
}

func TestRateCache_Forget(t *testing.T) {
	c := NewRateCache()
	now := time.Now()
	c.Observe("web", 1, 1, now)
	c.Observe("web/eth0", 1, 1, now)
	c.Observe("webapp", 1, 1, now)

	c.Forget("web")
	assert.Equal(t, []string{"webapp"}, c.Connections())

	rx, _ := c.Observe("web", 100, 100, now.Add(time.Second))
	assert.Zero(t, rx, "forgotten keys start over")
}
