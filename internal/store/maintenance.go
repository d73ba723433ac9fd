package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// runMaintenance periodically archives-and-evicts aged-out hot rows,
// purges rows that have sat in the archive long enough, and vacuums
// the database. ERROR/FATAL entries get the longer retention window
// documented in spec.md §4.1: they stay hot until 2*max_days instead
// of max_days, moving straight to the archive at that point.
func (s *Store) runMaintenance() {
	defer s.doneWg.Done()

	interval := s.cfg.VacuumEvery
	if interval <= 0 {
		interval = 3600 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.runRetention(context.Background()); err != nil {
				log.Printf("store: retention pass failed: %v", err)
			}
		}
	}
}

func (s *Store) runRetention(ctx context.Context) error {
	maxDays := s.cfg.MaxDays
	if maxDays <= 0 {
		maxDays = 7
	}
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -maxDays)
	extendedCutoff := now.AddDate(0, 0, -2*maxDays)
	archivePurgeCutoff := now.AddDate(0, 0, -3*maxDays)

	// Non-retained levels move hot -> archive in one atomic step at
	// cutoff; ERROR/FATAL get the same treatment but at extendedCutoff.
	// A row is therefore never present in both tiers at once.
	if err := s.archiveAndEvict(ctx, "level NOT IN ('ERROR', 'FATAL')", cutoff); err != nil {
		return fmt.Errorf("store: archive+evict (non-retained): %w", err)
	}
	if err := s.archiveAndEvict(ctx, "level IN ('ERROR', 'FATAL')", extendedCutoff); err != nil {
		return fmt.Errorf("store: archive+evict (retained): %w", err)
	}
	if err := s.purgeArchive(ctx, archivePurgeCutoff); err != nil {
		return fmt.Errorf("store: archive purge: %w", err)
	}
	if s.cfg.MaxSizeMB > 0 {
		if err := s.enforceSizeCap(ctx); err != nil {
			return fmt.Errorf("store: size eviction: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("store: vacuum: %w", err)
	}
	return nil
}

// archiveAndEvict moves every hot row matching levelClause with
// created_at < cutoff into logs_archive (gzip-compressed JSON) and
// removes it from logs/logs_fts in the same transaction, so a row is
// never visible in both tiers at once (spec.md §3's "exactly one of
// {hot table, archive table, evicted}" invariant).
func (s *Store) archiveAndEvict(ctx context.Context, levelClause string, cutoff time.Time) error {
	cutoffEpoch := epochSeconds(cutoff)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, level, timestamp, message, metadata, tags, trace_id, created_at, size_bytes
		FROM logs WHERE created_at < ? AND `+levelClause, cutoffEpoch)
	if err != nil {
		return err
	}
	entries, err := scanEntries(rows)
	rows.Close()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insert, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO logs_archive (id, source, level, timestamp, compressed_data, created_at, original_size, compressed_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer insert.Close()

	ids := make([]any, len(entries))
	var oldest, newest time.Time
	for i, e := range entries {
		serialized, err := json.Marshal(e)
		if err != nil {
			return err
		}
		gz, err := gzipBytes(string(serialized))
		if err != nil {
			return err
		}
		if _, err := insert.ExecContext(ctx, e.ID, e.Source, string(e.Level), e.Timestamp.Format(time.RFC3339Nano), gz, e.CreatedAt, len(serialized), len(gz)); err != nil {
			return err
		}
		ids[i] = e.ID
		if i == 0 || e.Timestamp.Before(oldest) {
			oldest = e.Timestamp
		}
		if i == 0 || e.Timestamp.After(newest) {
			newest = e.Timestamp
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO archive_batches (archived_at, row_count, oldest_entry, newest_entry) VALUES (?, ?, ?, ?)
	`, time.Now().UTC(), len(entries), oldest, newest); err != nil {
		return err
	}

	ph := placeholders(len(ids))
	if _, err := tx.ExecContext(ctx, "DELETE FROM logs WHERE id IN ("+ph+")", ids...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM logs_fts WHERE id IN ("+ph+")", ids...); err != nil {
		return err
	}

	return tx.Commit()
}

// purgeArchive permanently deletes archive rows older than cutoff,
// moving them to the "evicted" state (spec.md §3): once a row has
// spent long enough in the archive tier it is dropped rather than
// retained forever, matching spec.md §1's non-goal of keeping log
// data beyond the workstation's retention budget.
func (s *Store) purgeArchive(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM logs_archive WHERE created_at < ?", epochSeconds(cutoff))
	return err
}

// enforceSizeCap drops the oldest hot rows, in batches of 1000, when
// the database file exceeds cfg.MaxSizeMB, per spec.md §4.1's policy:
// stop once the file is back to 80% of the cap or a batch makes no
// progress.
func (s *Store) enforceSizeCap(ctx context.Context) error {
	var bytes int64
	row := s.db.QueryRowContext(ctx, `SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`)
	if err := row.Scan(&bytes); err != nil {
		return err
	}
	capBytes := s.cfg.MaxSizeMB * 1024 * 1024
	target := int64(float64(capBytes) * 0.8)
	if bytes <= capBytes {
		return nil
	}

	for bytes > target {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM logs WHERE id IN (SELECT id FROM logs ORDER BY created_at ASC LIMIT 1000)
		`)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			break
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM logs_fts WHERE id NOT IN (SELECT id FROM logs)`); err != nil {
			return err
		}
		// Deleted pages go to the freelist and only leave the file at the
		// VACUUM that follows, so measure the pages still in use.
		row := s.db.QueryRowContext(ctx, `SELECT (page_count - freelist_count) * page_size FROM pragma_page_count(), pragma_freelist_count(), pragma_page_size()`)
		if err := row.Scan(&bytes); err != nil {
			return err
		}
	}
	return nil
}
