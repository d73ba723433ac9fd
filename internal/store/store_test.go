package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"devlogd/internal/config"
	"devlogd/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.StoreConfig{
		Path:         filepath.Join(t.TempDir(), "devlog.db"),
		BatchSize:    10,
		BatchTimeout: 50 * time.Millisecond,
		MaxDays:      30,
	}
	st, err := New(cfg)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPutBatchAndQuery(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	entries := []models.LogEntry{
		{Source: "api", Level: models.LevelInfo, Timestamp: time.Now().UTC(), Message: "request handled"},
		{Source: "api", Level: models.LevelError, Timestamp: time.Now().UTC(), Message: "connection refused"},
	}
	if err := st.PutBatch(ctx, entries); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	if entries[0].ID == "" || entries[0].CreatedAt == 0 {
		t.Fatalf("expected PutBatch to stamp id/created_at back onto entries, got %+v", entries[0])
	}

	got, err := st.Query(ctx, QueryOptions{Sources: []string{"api"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
}

func TestQueryByLevel(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	st.PutBatch(ctx, []models.LogEntry{
		{Source: "worker", Level: models.LevelWarn, Timestamp: time.Now().UTC(), Message: "retrying"},
		{Source: "worker", Level: models.LevelError, Timestamp: time.Now().UTC(), Message: "gave up"},
	})

	got, err := st.Query(ctx, QueryOptions{Levels: []models.Level{models.LevelError}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Message != "gave up" {
		t.Fatalf("expected exactly the ERROR entry, got %+v", got)
	}
}

func TestTraceReturnsOrderedEntries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	st.PutBatch(ctx, []models.LogEntry{
		{Source: "api", Level: models.LevelInfo, Timestamp: now.Add(time.Second), Message: "second", TraceID: "t1"},
		{Source: "api", Level: models.LevelInfo, Timestamp: now, Message: "first", TraceID: "t1"},
		{Source: "api", Level: models.LevelInfo, Timestamp: now, Message: "other", TraceID: "t2"},
	})

	got, err := st.Trace(ctx, "t1")
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for trace t1, got %d", len(got))
	}
	if got[0].Message != "first" || got[1].Message != "second" {
		t.Fatalf("expected trace entries oldest first, got %+v", got)
	}
}

func TestSearchMatchesMessage(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	st.PutBatch(ctx, []models.LogEntry{
		{Source: "api", Level: models.LevelInfo, Timestamp: time.Now().UTC(), Message: "database connection established"},
		{Source: "api", Level: models.LevelInfo, Timestamp: time.Now().UTC(), Message: "request completed"},
	})

	got, err := st.Search(ctx, "database", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
}

func TestEnqueueDrainsThroughBatchWriter(t *testing.T) {
	st := newTestStore(t)
	if err := st.Enqueue(models.LogEntry{Source: "api", Level: models.LevelInfo, Message: "queued entry"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := st.Query(context.Background(), QueryOptions{Sources: []string{"api"}})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(got) == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected the queued entry to be flushed by the background batch writer")
}

func TestStatsAggregates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	st.PutBatch(ctx, []models.LogEntry{
		{Source: "api", Level: models.LevelInfo, Timestamp: time.Now().UTC(), Message: "a"},
		{Source: "api", Level: models.LevelError, Timestamp: time.Now().UTC(), Message: "b"},
	})

	stats, err := st.Stats(ctx, time.Now().Add(-time.Hour), "1h")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Basic.TotalLogs != 2 {
		t.Fatalf("expected 2 total entries, got %d", stats.Basic.TotalLogs)
	}
	var errCount int64
	for _, r := range stats.BySourceLevel {
		if r.Level == "ERROR" {
			errCount = r.Count
		}
	}
	if errCount != 1 {
		t.Fatalf("expected 1 ERROR entry in stats, got %d", errCount)
	}
}
