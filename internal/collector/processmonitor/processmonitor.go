// Package processmonitor polls the process table for CPU/memory
// threshold crossings. Grounded on the original
// ProcessMonitorCollector._check_processes (CPU>80%-from-<50% and
// memory>1.5x-baseline crossing detection), using
// github.com/shirou/gopsutil/v3 as the Go ecosystem's analogue of the
// original's psutil dependency — no pack example imports it, so it is
// named here rather than pack-grounded, per the out-of-pack-dependency
// rule.
package processmonitor

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"devlogd/internal/collector"
	"devlogd/internal/config"
	"devlogd/internal/models"
)

type Config struct {
	Name              string
	PIDs              []int32
	CheckInterval     time.Duration
	CPUHighPercent    float64
	CPULowPercent     float64
	MemoryGrowthRatio float64
}

type baseline struct {
	cpuHigh  bool
	memBytes uint64
}

type Collector struct {
	cfg       Config
	buf       *collector.Buffer
	baselines map[int32]*baseline
}

func New(cfg Config, client *collector.Client, ccfg config.CollectorConfig) *Collector {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	if cfg.CPUHighPercent == 0 {
		cfg.CPUHighPercent = 80
	}
	if cfg.CPULowPercent == 0 {
		cfg.CPULowPercent = 50
	}
	if cfg.MemoryGrowthRatio == 0 {
		cfg.MemoryGrowthRatio = 1.5
	}
	return &Collector{
		cfg:       cfg,
		buf:       collector.NewBuffer(client, ccfg),
		baselines: make(map[int32]*baseline),
	}
}

func (c *Collector) Name() string { return "process_monitor:" + c.cfg.Name }

func (c *Collector) Start(ctx context.Context) error {
	go c.buf.Run(ctx)
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.checkProcesses(ctx)
		}
	}
}

func (c *Collector) checkProcesses(ctx context.Context) {
	for _, pid := range c.cfg.PIDs {
		proc, err := process.NewProcess(pid)
		if err != nil {
			continue
		}
		cpuPct, err := proc.CPUPercentWithContext(ctx)
		if err != nil {
			continue
		}
		memInfo, err := proc.MemoryInfoWithContext(ctx)
		if err != nil || memInfo == nil {
			continue
		}

		b := c.baselines[pid]
		if b == nil {
			b = &baseline{memBytes: memInfo.RSS}
			c.baselines[pid] = b
		}

		if cpuPct > c.cfg.CPUHighPercent && !b.cpuHigh {
			b.cpuHigh = true
			c.emit(ctx, pid, models.LevelWarn, fmt.Sprintf("pid %d cpu crossed %.0f%% (%.1f%%)", pid, c.cfg.CPUHighPercent, cpuPct))
		} else if cpuPct < c.cfg.CPULowPercent {
			b.cpuHigh = false
		}

		if b.memBytes > 0 && float64(memInfo.RSS) > float64(b.memBytes)*c.cfg.MemoryGrowthRatio {
			c.emit(ctx, pid, models.LevelWarn, fmt.Sprintf("pid %d memory grew past %.1fx baseline", pid, c.cfg.MemoryGrowthRatio))
			b.memBytes = memInfo.RSS
		}
	}
}

func (c *Collector) emit(ctx context.Context, pid int32, level models.Level, msg string) {
	c.buf.Add(ctx, models.LogEntry{
		Source:    c.cfg.Name,
		Level:     level,
		Timestamp: time.Now().UTC(),
		Message:   msg,
		Metadata:  models.Metadata{"pid": pid},
		Tags:      []string{"process_monitor"},
	})
}

func (c *Collector) Stop() error {
	c.buf.Close()
	return nil
}
