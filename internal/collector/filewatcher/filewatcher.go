// Package filewatcher emits a log entry whenever a watched file or
// directory changes, skipping paths that match an ignore pattern or
// fall outside the configured extension allowlist. Grounded on the
// original FileWatcherCollector/FileChangeHandler, using
// github.com/fsnotify/fsnotify, already present as an indirect
// dependency elsewhere in the example pack and promoted here to a
// direct, exercised one.
package filewatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"devlogd/internal/collector"
	"devlogd/internal/config"
	"devlogd/internal/models"
)

type Config struct {
	Name              string
	Paths             []string
	IgnorePatterns    []string
	IncludeExtensions []string
}

type Collector struct {
	cfg     Config
	buf     *collector.Buffer
	watcher *fsnotify.Watcher
}

// New creates the watcher and recursively adds every directory under
// each configured path, since fsnotify only watches the directory it
// is given, not its subtree.
func New(cfg Config, client *collector.Client, ccfg config.CollectorConfig) (*Collector, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filewatcher: create watcher: %w", err)
	}
	for _, p := range cfg.Paths {
		if err := addRecursive(w, p); err != nil {
			w.Close()
			return nil, fmt.Errorf("filewatcher: watch %s: %w", p, err)
		}
	}
	return &Collector{
		cfg:     cfg,
		buf:     collector.NewBuffer(client, ccfg),
		watcher: w,
	}, nil
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func (c *Collector) Name() string { return "file_watcher:" + c.cfg.Name }

func (c *Collector) Start(ctx context.Context) error {
	go c.buf.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return nil
			}
			if c.ignored(ev.Name) {
				continue
			}
			c.handleEvent(ctx, ev)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return nil
			}
			c.buf.Add(ctx, models.LogEntry{
				Source:    c.cfg.Name,
				Level:     models.LevelError,
				Timestamp: time.Now().UTC(),
				Message:   "watch error: " + err.Error(),
				Tags:      []string{"file_watcher"},
			})
		}
	}
}

func (c *Collector) handleEvent(ctx context.Context, ev fsnotify.Event) {
	action := eventAction(ev.Op)
	ext := strings.TrimPrefix(filepath.Ext(ev.Name), ".")

	var size int64
	var modified time.Time
	if info, err := os.Stat(ev.Name); err == nil {
		size = info.Size()
		modified = info.ModTime().UTC()
		// A newly created directory gets watched too, so its own
		// descendants are covered without a restart.
		if info.IsDir() && action == "create" {
			c.watcher.Add(ev.Name)
		}
	}

	c.buf.Add(ctx, models.LogEntry{
		Source:    c.cfg.Name,
		Level:     models.LevelInfo,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("%s %s", action, ev.Name),
		Metadata: models.Metadata{
			"action":        action,
			"file_path":     ev.Name,
			"size":          size,
			"modified_time": modified.Format(time.RFC3339),
		},
		Tags: []string{"file", action, ext},
	})
}

func eventAction(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "create"
	case op&fsnotify.Remove != 0:
		return "delete"
	case op&fsnotify.Rename != 0:
		return "delete"
	case op&fsnotify.Write != 0, op&fsnotify.Chmod != 0:
		return "modify"
	default:
		return "modify"
	}
}

func (c *Collector) ignored(path string) bool {
	base := filepath.Base(path)
	for _, pat := range c.cfg.IgnorePatterns {
		if ok, _ := filepath.Match(pat, base); ok {
			return true
		}
		if strings.Contains(path, pat) {
			return true
		}
	}
	if len(c.cfg.IncludeExtensions) > 0 {
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		for _, allowed := range c.cfg.IncludeExtensions {
			if strings.EqualFold(allowed, ext) {
				return false
			}
		}
		return true
	}
	return false
}

func (c *Collector) Stop() error {
	c.buf.Close()
	return c.watcher.Close()
}
