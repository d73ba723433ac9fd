package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"devlogd/internal/config"
	"devlogd/internal/models"
)

func newTestServerClient(t *testing.T, onBatch func(n int)) *Client {
	t.Helper()
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Params struct {
				Entries []models.LogEntry `json:"logs"`
			} `json:"params"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		onBatch(len(req.Params.Entries))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "result": true, "id": 1})
	}))
	t.Cleanup(srv.Close)

	return NewClient(srv.URL, "", config.CollectorConfig{
		RetryCount:  1,
		RetryDelay:  10 * time.Millisecond,
		CompressMin: 1000,
	})
}

func TestBufferFlushesOnSize(t *testing.T) {
	var total int
	var mu sync.Mutex
	client := newTestServerClient(t, func(n int) {
		mu.Lock()
		total += n
		mu.Unlock()
	})

	cfg := config.CollectorConfig{BufferSize: 2, FlushEvery: time.Hour}
	buf := NewBuffer(client, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go buf.Run(ctx)
	defer func() { cancel(); buf.Close() }()

	buf.Add(ctx, models.LogEntry{Source: "x", Level: models.LevelInfo, Message: "a"})
	buf.Add(ctx, models.LogEntry{Source: "x", Level: models.LevelInfo, Message: "b"})
	buf.Add(ctx, models.LogEntry{Source: "x", Level: models.LevelInfo, Message: "c"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := total
		mu.Unlock()
		if got >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected buffer to flush synchronously once it reached capacity")
}

func TestBufferFlushesOnTimer(t *testing.T) {
	flushed := make(chan int, 1)
	client := newTestServerClient(t, func(n int) {
		select {
		case flushed <- n:
		default:
		}
	})

	cfg := config.CollectorConfig{BufferSize: 100, FlushEvery: 30 * time.Millisecond}
	buf := NewBuffer(client, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go buf.Run(ctx)
	defer func() { cancel(); buf.Close() }()

	buf.Add(ctx, models.LogEntry{Source: "x", Level: models.LevelInfo, Message: "a"})

	select {
	case n := <-flushed:
		if n != 1 {
			t.Fatalf("expected 1 entry flushed, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the flush timer to fire")
	}
}
