package telemetry

import (
	"strings"
	"sync"
	"time"
)

const bytesPerMB = 1024 * 1024

type sample struct {
	rx, tx uint64
	at     time.Time
}

// RateCache turns cumulative byte counters into speeds by remembering the
// previous sample per key.
type RateCache struct {
	mu      sync.Mutex
	samples map[string]sample
}

// NewRateCache creates an empty cache.
func NewRateCache() *RateCache {
	return &RateCache{samples: make(map[string]sample)}
}

// Observe records the counters for key and returns rx and tx speeds in MB/s
// since the previous observation. The first observation, a counter that
// went backwards, or a non-increasing timestamp yields zero.
func (c *RateCache) Observe(key string, rx, tx uint64, at time.Time) (rxSpeed, txSpeed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.samples[key]
	c.samples[key] = sample{rx: rx, tx: tx, at: at}
	if !ok {
		return 0, 0
	}

	dt := at.Sub(prev.at).Seconds()
	if dt <= 0 || rx < prev.rx || tx < prev.tx {
		return 0, 0
	}
	return float64(rx-prev.rx) / bytesPerMB / dt, float64(tx-prev.tx) / bytesPerMB / dt
}

// Forget drops the samples of a connection: its own key and every
// "id/..." interface key.
func (c *RateCache) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.samples {
		if key == id || strings.HasPrefix(key, id+"/") {
			delete(c.samples, key)
		}
	}
}

// Connections returns the connection ids with at least one sample.
func (c *RateCache) Connections() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for key := range c.samples {
		id, _, _ := strings.Cut(key, "/")
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
