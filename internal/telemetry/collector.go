package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/acolita/shellconn/internal/adapters/realclock"
	"github.com/acolita/shellconn/internal/ports"
	"github.com/acolita/shellconn/internal/session"
)

// Commands run against the remote host.
const (
	CmdCPUModel    = "lscpu | grep 'Model name' || lscpu | grep 'Vendor ID' || echo 'Unknown CPU'"
	CmdCPUCores    = "nproc"
	CmdCPUUsage    = "top -bn1 | grep 'Cpu(s)'"
	CmdCPUFreq     = "lscpu | grep 'CPU MHz'"
	CmdTemperature = "cat /sys/class/thermal/thermal_zone*/temp 2>/dev/null | head -1"
	CmdMeminfo     = "cat /proc/meminfo"
	CmdSwap        = "cat /proc/meminfo | grep -i swap"
	CmdDF          = "df -h"
	CmdLsblk       = "lsblk -d -o NAME,TYPE,ROTA"
	CmdNetDev      = "cat /proc/net/dev"
	CmdIPAddr      = "ip addr show"
)

// CommandRunner executes a shell command on a connection.
type CommandRunner interface {
	ExecuteCommand(ctx context.Context, id, command string, opts *session.CommandOptions) (string, error)
}

// Collector gathers HardwareInfo snapshots.
type Collector struct {
	runner CommandRunner
	rates  *RateCache
	clock  ports.Clock
	logger *slog.Logger
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithCollectorClock sets the clock used for timestamps and speeds.
func WithCollectorClock(c ports.Clock) CollectorOption {
	return func(col *Collector) { col.clock = c }
}

// WithCollectorLogger sets the logger.
func WithCollectorLogger(l *slog.Logger) CollectorOption {
	return func(col *Collector) { col.logger = l }
}

// WithRateCache shares a rate cache between collectors.
func WithRateCache(r *RateCache) CollectorOption {
	return func(col *Collector) { col.rates = r }
}

// NewCollector creates a Collector that runs commands through runner.
func NewCollector(runner CommandRunner, opts ...CollectorOption) *Collector {
	c := &Collector{runner: runner}
	for _, opt := range opts {
		opt(c)
	}
	if c.rates == nil {
		c.rates = NewRateCache()
	}
	if c.clock == nil {
		c.clock = realclock.New()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Rates returns the collector's rate cache.
func (c *Collector) Rates() *RateCache {
	return c.rates
}

// Collect takes a snapshot of id. Failures of the required commands abort
// the snapshot; swap, lsblk and ip are optional.
func (c *Collector) Collect(ctx context.Context, id string) (*HardwareInfo, error) {
	cpu, err := c.cpu(ctx, id)
	if err != nil {
		return nil, err
	}
	mem, err := c.memory(ctx, id)
	if err != nil {
		return nil, err
	}
	storage, err := c.storage(ctx, id)
	if err != nil {
		return nil, err
	}
	network, err := c.network(ctx, id)
	if err != nil {
		return nil, err
	}

	return &HardwareInfo{
		ConnectionID: id,
		CPU:          cpu,
		Memory:       mem,
		Storage:      storage,
		Network:      network,
		Timestamp:    c.clock.Now(),
	}, nil
}

func (c *Collector) run(ctx context.Context, id, command string) ([]string, error) {
	out, err := c.runner.ExecuteCommand(ctx, id, command, nil)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", command, err)
	}
	return CleanOutput(out, command), nil
}

func (c *Collector) optional(ctx context.Context, id, command string) []string {
	lines, err := c.run(ctx, id, command)
	if err != nil {
		c.logger.Debug("optional telemetry command failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return lines
}

func (c *Collector) cpu(ctx context.Context, id string) (CPUInfo, error) {
	var info CPUInfo

	lines, err := c.run(ctx, id, CmdCPUModel)
	if err != nil {
		return info, err
	}
	info.Model = ParseCPUModel(lines)

	if lines, err = c.run(ctx, id, CmdCPUCores); err != nil {
		return info, err
	}
	info.Cores = ParseCPUCores(lines)

	if lines, err = c.run(ctx, id, CmdCPUUsage); err != nil {
		return info, err
	}
	info.Usage = ParseCPUUsage(lines)

	if lines, err = c.run(ctx, id, CmdCPUFreq); err != nil {
		return info, err
	}
	info.Frequency = ParseCPUFrequency(lines)

	if lines, err = c.run(ctx, id, CmdTemperature); err != nil {
		return info, err
	}
	info.Temperature = ParseTemperature(lines)
	return info, nil
}

func (c *Collector) memory(ctx context.Context, id string) (MemoryInfo, error) {
	lines, err := c.run(ctx, id, CmdMeminfo)
	if err != nil {
		return MemoryInfo{}, err
	}
	mem := ParseMeminfo(lines)
	mem.Swap = ParseSwap(c.optional(ctx, id, CmdSwap))
	return mem, nil
}

func (c *Collector) storage(ctx context.Context, id string) ([]StorageInfo, error) {
	lines, err := c.run(ctx, id, CmdDF)
	if err != nil {
		return nil, err
	}
	storage := ParseDF(lines)
	ApplyDiskTypes(storage, c.optional(ctx, id, CmdLsblk))
	return storage, nil
}

func (c *Collector) network(ctx context.Context, id string) (NetworkInfo, error) {
	lines, err := c.run(ctx, id, CmdNetDev)
	if err != nil {
		return NetworkInfo{}, err
	}
	info := NetworkInfo{Interfaces: ParseNetDev(lines)}
	ApplyLinkStatus(info.Interfaces, c.optional(ctx, id, CmdIPAddr))

	now := c.clock.Now()
	for i := range info.Interfaces {
		iface := &info.Interfaces[i]
		iface.RxSpeed, iface.TxSpeed = c.rates.Observe(id+"/"+iface.Name, iface.Rx, iface.Tx, now)
		info.TotalRx += iface.Rx
		info.TotalTx += iface.Tx
	}
	info.RxSpeed, info.TxSpeed = c.rates.Observe(id, info.TotalRx, info.TotalTx, now)
	return info, nil
}
