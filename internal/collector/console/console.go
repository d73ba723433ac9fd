// Package console collects a subprocess's stdout/stderr as log
// entries. Grounded on the original ConsoleCollector, using the
// standard library's os/exec for process supervision since no example
// in the pack reaches for a third-party process-management library for
// this — os/exec already exposes everything the collector needs
// (pipes, Wait, Process.Signal).
package console

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"devlogd/internal/collector"
	"devlogd/internal/config"
	"devlogd/internal/models"
)

type Config struct {
	Name       string
	Command    string
	Args       []string
	Restart    bool
	RestartGap time.Duration
}

type Collector struct {
	cfg       Config
	buf       *collector.Buffer
	collector config.CollectorConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped bool
}

func New(cfg Config, client *collector.Client, ccfg config.CollectorConfig) *Collector {
	return &Collector{
		cfg:       cfg,
		buf:       collector.NewBuffer(client, ccfg),
		collector: ccfg,
	}
}

func (c *Collector) Name() string { return "console:" + c.cfg.Name }

func (c *Collector) Start(ctx context.Context) error {
	go c.buf.Run(ctx)

	for {
		if err := c.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !c.cfg.Restart {
				return fmt.Errorf("console: %w", err)
			}
		}
		c.mu.Lock()
		stopped := c.stopped
		c.mu.Unlock()
		if stopped || ctx.Err() != nil || !c.cfg.Restart {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.RestartGap):
		}
	}
}

func (c *Collector) runOnce(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.cfg.Command, c.cfg.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cmd = cmd
	c.mu.Unlock()

	if err := cmd.Start(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go c.readLines(ctx, stdout, models.LevelInfo, &wg)
	go c.readLines(ctx, stderr, models.LevelError, &wg)
	wg.Wait()

	return cmd.Wait()
}

func (c *Collector) readLines(ctx context.Context, r interface{ Read([]byte) (int, error) }, level models.Level, wg *sync.WaitGroup) {
	defer wg.Done()
	stream := "stdout"
	if level == models.LevelError {
		stream = "stderr"
	}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		c.buf.Add(ctx, models.LogEntry{
			Source:    c.cfg.Name,
			Level:     level,
			Timestamp: time.Now().UTC(),
			Message:   line,
			Metadata:  models.Metadata{"command": c.cfg.Command, "stream": stream},
			Tags:      []string{"console"},
		})
	}
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	c.stopped = true
	cmd := c.cmd
	c.mu.Unlock()
	c.buf.Close()
	if cmd != nil && cmd.Process != nil {
		return cmd.Process.Kill()
	}
	return nil
}
