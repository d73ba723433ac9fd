package store

import (
	"context"
	"testing"
	"time"

	"devlogd/internal/models"
)

func epochDaysAgo(days int) float64 {
	return epochSeconds(time.Now().UTC().AddDate(0, 0, -days))
}

func TestRetentionArchivesAgedRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -40)
	st.PutBatch(ctx, []models.LogEntry{
		{Source: "api", Level: models.LevelInfo, Timestamp: old, CreatedAt: epochDaysAgo(40), Message: "old info"},
		{Source: "api", Level: models.LevelError, Timestamp: old, CreatedAt: epochDaysAgo(40), Message: "old error"},
	})

	if err := st.runRetention(ctx); err != nil {
		t.Fatalf("runRetention: %v", err)
	}

	hot, err := st.Query(ctx, QueryOptions{Sources: []string{"api"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	// max_days defaults to 30 in newTestStore; at 40 days old the INFO
	// row is past cutoff (30) and has been archived+evicted. The ERROR
	// row is short of 2*max_days=60, so it stays hot and unarchived.
	if len(hot) != 1 || hot[0].Level != models.LevelError {
		t.Fatalf("expected only the ERROR row to remain hot, got %+v", hot)
	}

	var archived int
	row := st.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs_archive")
	if err := row.Scan(&archived); err != nil {
		t.Fatalf("count archive: %v", err)
	}
	if archived != 1 {
		t.Fatalf("expected only the INFO row archived, got %d", archived)
	}
}

func TestRetentionKeepsErrorLongerThanInfo(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Between max_days (30) and 2*max_days (60): the INFO row is
	// archived and evicted from hot; the ERROR row stays hot only,
	// not yet archived, since a row moves between tiers atomically.
	st.PutBatch(ctx, []models.LogEntry{
		{Source: "api", Level: models.LevelInfo, Timestamp: time.Now().UTC(), CreatedAt: epochDaysAgo(45), Message: "info at 45 days"},
		{Source: "api", Level: models.LevelError, Timestamp: time.Now().UTC(), CreatedAt: epochDaysAgo(45), Message: "error at 45 days"},
	})

	if err := st.runRetention(ctx); err != nil {
		t.Fatalf("runRetention: %v", err)
	}

	var infoArchived, errorArchived int
	st.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs_archive WHERE level = 'INFO'").Scan(&infoArchived)
	st.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs_archive WHERE level = 'ERROR'").Scan(&errorArchived)
	if infoArchived != 1 {
		t.Fatalf("expected the INFO row archived at max_days, got %d", infoArchived)
	}
	if errorArchived != 0 {
		t.Fatalf("expected the ERROR row NOT archived before 2*max_days, got %d", errorArchived)
	}

	var infoHot, errorHot int
	st.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs WHERE level = 'INFO'").Scan(&infoHot)
	st.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs WHERE level = 'ERROR'").Scan(&errorHot)
	if infoHot != 0 {
		t.Fatalf("expected the INFO row evicted from hot past max_days, got %d", infoHot)
	}
	if errorHot != 1 {
		t.Fatalf("expected the ERROR row to stay hot until 2*max_days, got %d", errorHot)
	}

	// A row is never present in both logs and logs_archive at once.
	var dual int
	st.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM logs WHERE id IN (SELECT id FROM logs_archive)
	`).Scan(&dual)
	if dual != 0 {
		t.Fatalf("expected no row present in both tiers at once, got %d", dual)
	}
}

func TestRetentionEvictsErrorPastDoubleMaxDays(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	st.PutBatch(ctx, []models.LogEntry{
		{Source: "api", Level: models.LevelError, Timestamp: time.Now().UTC(), CreatedAt: epochDaysAgo(65), Message: "error at 65 days"},
	})

	if err := st.runRetention(ctx); err != nil {
		t.Fatalf("runRetention: %v", err)
	}

	var hot, archived int
	st.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs WHERE level = 'ERROR'").Scan(&hot)
	st.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs_archive WHERE level = 'ERROR'").Scan(&archived)
	if hot != 0 {
		t.Fatalf("expected the ERROR row evicted from hot past 2*max_days, got %d", hot)
	}
	if archived != 1 {
		t.Fatalf("expected the ERROR row archived past 2*max_days, got %d", archived)
	}
}

func TestArchiveIndexAndBatches(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	st.PutBatch(ctx, []models.LogEntry{
		{Source: "api", Level: models.LevelInfo, Timestamp: time.Now().UTC(), CreatedAt: epochDaysAgo(45), Message: "info at 45 days"},
	})
	if err := st.runRetention(ctx); err != nil {
		t.Fatalf("runRetention: %v", err)
	}

	rows, err := st.ArchiveIndex(ctx, 10)
	if err != nil {
		t.Fatalf("ArchiveIndex: %v", err)
	}
	if len(rows) != 1 || rows[0].Source != "api" {
		t.Fatalf("expected one archived row for api, got %+v", rows)
	}

	batches, err := st.ArchiveBatches(ctx, 10)
	if err != nil {
		t.Fatalf("ArchiveBatches: %v", err)
	}
	if len(batches) != 1 || batches[0].RowCount != 1 {
		t.Fatalf("expected one archive batch with 1 row, got %+v", batches)
	}
}

func TestPurgeArchiveDropsOldRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// max_days=30 by default: this row is well past 3*max_days=90, so
	// it should be archived+evicted from hot and then purged entirely
	// from the archive tier in the same retention pass.
	st.PutBatch(ctx, []models.LogEntry{
		{Source: "api", Level: models.LevelInfo, Timestamp: time.Now().UTC(), CreatedAt: epochDaysAgo(120), Message: "ancient"},
	})

	if err := st.runRetention(ctx); err != nil {
		t.Fatalf("runRetention: %v", err)
	}

	var hot, archived int
	st.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs").Scan(&hot)
	st.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM logs_archive").Scan(&archived)
	if hot != 0 {
		t.Fatalf("expected the row gone from hot, got %d", hot)
	}
	if archived != 0 {
		t.Fatalf("expected the row purged from the archive tier, got %d", archived)
	}
}
