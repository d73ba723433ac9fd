// Package dbquery tails a database's query log file and emits a log
// entry per line that carries a "duration:" marker. Grounded on the
// original DatabaseQueryCollector's regex-based duration parsing,
// using github.com/nxadm/tail (already an indirect dependency
// elsewhere in the example pack) instead of hand-rolled
// os.Open+Seek(0,2) polling.
package dbquery

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/nxadm/tail"

	"devlogd/internal/collector"
	"devlogd/internal/config"
	"devlogd/internal/models"
)

var durationRe = regexp.MustCompile(`duration:\s*([0-9.]+)\s*ms`)

const maxQueryLen = 500

type Config struct {
	Name                 string
	LogPath              string
	DBType               string
	SlowQueryThresholdMs float64
}

type Collector struct {
	cfg Config
	buf *collector.Buffer
	t   *tail.Tail
}

func New(cfg Config, client *collector.Client, ccfg config.CollectorConfig) *Collector {
	if cfg.DBType == "" {
		cfg.DBType = "postgresql"
	}
	if cfg.SlowQueryThresholdMs <= 0 {
		cfg.SlowQueryThresholdMs = 100
	}
	return &Collector{
		cfg: cfg,
		buf: collector.NewBuffer(client, ccfg),
	}
}

func (c *Collector) Name() string { return "db_query:" + c.cfg.Name }

func (c *Collector) Start(ctx context.Context) error {
	go c.buf.Run(ctx)

	t, err := tail.TailFile(c.cfg.LogPath, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Location:  &tail.SeekInfo{Whence: 2},
	})
	if err != nil {
		return fmt.Errorf("dbquery: tail %s: %w", c.cfg.LogPath, err)
	}
	c.t = t

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				continue
			}
			m := durationRe.FindStringSubmatch(line.Text)
			if m == nil {
				continue
			}
			ms, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			query := line.Text
			if len(query) > maxQueryLen {
				query = query[:maxQueryLen]
			}
			c.buf.Add(ctx, models.LogEntry{
				Source:    c.cfg.Name,
				Level:     models.LevelInfo,
				Timestamp: time.Now().UTC(),
				Message:   line.Text,
				Metadata: models.Metadata{
					"query":       query,
					"duration_ms": ms,
					"db_type":     c.cfg.DBType,
					"slow_query":  ms > c.cfg.SlowQueryThresholdMs,
				},
				Tags: []string{"db_query"},
			})
		}
	}
}

func (c *Collector) Stop() error {
	c.buf.Close()
	if c.t != nil {
		return c.t.Stop()
	}
	return nil
}
