package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/acolita/shellconn/internal/config"
	"github.com/robfig/cron/v3"
)

// ConnectionSource lists the connections worth polling.
type ConnectionSource interface {
	ListConnected() []config.ConnectionConfig
}

// Poller collects snapshots of every connected session on a cron schedule
// and keeps the latest one per connection.
type Poller struct {
	source    ConnectionSource
	collector *Collector
	logger    *slog.Logger
	timeout   time.Duration

	cron *cron.Cron

	mu     sync.RWMutex
	latest map[string]*HardwareInfo
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollerLogger sets the logger.
func WithPollerLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// WithPollTimeout bounds one collection per connection.
func WithPollTimeout(d time.Duration) PollerOption {
	return func(p *Poller) { p.timeout = d }
}

// NewPoller creates a Poller. Call Start to schedule it.
func NewPoller(source ConnectionSource, collector *Collector, opts ...PollerOption) *Poller {
	p := &Poller{
		source:    source,
		collector: collector,
		logger:    slog.Default(),
		timeout:   time.Minute,
		latest:    make(map[string]*HardwareInfo),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start schedules Poll with a standard cron spec or descriptor such as
// "@every 30s".
func (p *Poller) Start(schedule string) error {
	logger := cronLogger{p.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))
	if _, err := c.AddFunc(schedule, func() { p.Poll(context.Background()) }); err != nil {
		return fmt.Errorf("schedule telemetry %q: %w", schedule, err)
	}
	p.cron = c
	c.Start()
	p.logger.Info("telemetry poller started", slog.String("schedule", schedule))
	return nil
}

// Stop unschedules the poller and waits for a running poll to finish.
func (p *Poller) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
	p.cron = nil
}

// Poll collects every connected session once. Snapshots and rate samples
// of connections that are no longer connected are dropped.
func (p *Poller) Poll(ctx context.Context) {
	conns := p.source.ListConnected()
	live := make(map[string]bool, len(conns))

	var wg sync.WaitGroup
	for _, cfg := range conns {
		live[cfg.ID] = true
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			p.pollOne(ctx, id)
		}(cfg.ID)
	}
	wg.Wait()

	p.mu.Lock()
	for id := range p.latest {
		if !live[id] {
			delete(p.latest, id)
		}
	}
	p.mu.Unlock()

	for _, id := range p.collector.Rates().Connections() {
		if !live[id] {
			p.collector.Rates().Forget(id)
		}
	}
}

func (p *Poller) pollOne(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	info, err := p.collector.Collect(ctx, id)
	if err != nil {
		p.logger.Warn("telemetry collection failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return
	}

	p.mu.Lock()
	p.latest[id] = info
	p.mu.Unlock()
}

// Latest returns the most recent snapshot of id.
func (p *Poller) Latest(id string) (*HardwareInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info, ok := p.latest[id]
	return info, ok
}

// cronLogger routes cron's logr-style calls to slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)...)
}
