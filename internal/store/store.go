// Package store is the SQLite-backed log store: batched ingest, full
// text search, tiered hot/archive retention and aggregate stats. It
// follows the constructor/Close shape of a typical repository package
// adapted to modernc.org/sqlite instead of a network database driver.
package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"devlogd/internal/config"
	"devlogd/internal/models"
)

// Store owns the SQLite connection and the background batch writer
// and retention-maintenance goroutines.
type Store struct {
	db  *sql.DB
	cfg config.StoreConfig

	queue chan models.LogEntry

	createdAtMu     sync.Mutex
	lastCreatedAt   float64

	closeOnce sync.Once
	stopCh    chan struct{}
	doneWg    sync.WaitGroup
}

// New opens (creating if necessary) the SQLite database at cfg.Path,
// applies the WAL/FTS5 schema, and starts the batch writer and
// retention maintenance loops.
func New(cfg config.StoreConfig) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer SQLite; all access serialized through this handle.

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = time.Second
	}

	s := &Store{
		db:     db,
		cfg:    cfg,
		queue:  make(chan models.LogEntry, cfg.BatchSize*10),
		stopCh: make(chan struct{}),
	}

	s.doneWg.Add(2)
	go s.runBatchWriter()
	go s.runMaintenance()

	return s, nil
}

// Enqueue hands a single entry to the background batch writer. It
// does not block on disk I/O; callers observing backpressure should
// treat a full queue as ingest overload per the server's policy.
func (s *Store) Enqueue(e models.LogEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	select {
	case s.queue <- e:
		return nil
	default:
		return fmt.Errorf("store: ingest queue full")
	}
}

func (s *Store) runBatchWriter() {
	defer s.doneWg.Done()

	timer := time.NewTimer(s.cfg.BatchTimeout)
	defer timer.Stop()

	batch := make([]models.LogEntry, 0, s.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.PutBatch(context.Background(), batch); err != nil {
			log.Printf("store: batch write failed, dropping %d entries: %v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-s.stopCh:
		drain:
			for {
				select {
				case e := <-s.queue:
					batch = append(batch, e)
				default:
					break drain
				}
			}
			flush()
			return
		case e := <-s.queue:
			batch = append(batch, e)
			if len(batch) >= s.cfg.BatchSize {
				flush()
				timer.Reset(s.cfg.BatchTimeout)
			}
		case <-timer.C:
			flush()
			timer.Reset(s.cfg.BatchTimeout)
		}
	}
}

// nextCreatedAt returns a monotonically non-decreasing ingest-time
// stamp. time.Now() is not itself guaranteed strictly increasing
// across successive calls on every platform, so ties are nudged
// forward by a tiny epsilon to preserve spec.md §3's invariant that
// created_at is non-decreasing within a single writer.
func (s *Store) nextCreatedAt() float64 {
	s.createdAtMu.Lock()
	defer s.createdAtMu.Unlock()
	now := float64(time.Now().UnixNano()) / 1e9
	if now <= s.lastCreatedAt {
		now = s.lastCreatedAt + 1e-6
	}
	s.lastCreatedAt = now
	return now
}

// PutBatch writes entries in a single transaction using an
// INSERT OR REPLACE upsert on id, matching the original storage
// layer's idempotent-retry semantics: ingesting a duplicate id
// replaces the prior record, including its FTS row.
func (s *Store) PutBatch(ctx context.Context, entries []models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	prepared := make([]models.LogEntry, len(entries))
	copy(prepared, entries)
	for i := range prepared {
		if err := prepared[i].Validate(); err != nil {
			return fmt.Errorf("store: invalid entry: %w", err)
		}
		// A caller-supplied created_at (e.g. a retention test simulating
		// an aged entry, or a future replay/import path) is honored as
		// given; ordinary ingest leaves it zero and gets the writer's
		// own monotonic ingest-time stamp.
		if prepared[i].CreatedAt == 0 {
			prepared[i].CreatedAt = s.nextCreatedAt()
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	insertLog, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO logs (id, source, level, timestamp, message, metadata, tags, trace_id, created_at, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer insertLog.Close()

	deleteFTS, err := tx.PrepareContext(ctx, `DELETE FROM logs_fts WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("store: prepare fts delete: %w", err)
	}
	defer deleteFTS.Close()

	insertFTS, err := tx.PrepareContext(ctx, `INSERT INTO logs_fts (id, source, message, metadata) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare fts insert: %w", err)
	}
	defer insertFTS.Close()

	for i := range prepared {
		e := &prepared[i]

		meta, err := e.Metadata.Marshal()
		if err != nil {
			return err
		}
		tagsJSON, err := marshalTags(e.Tags)
		if err != nil {
			return err
		}

		// size_bytes is derived by the store from the serialized
		// entry, per spec.md §3, not supplied by the caller.
		serialized, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("store: size entry: %w", err)
		}
		e.SizeBytes = int64(len(serialized))

		if _, err := insertLog.ExecContext(ctx, e.ID, e.Source, string(e.Level), e.Timestamp.Format(time.RFC3339Nano), e.Message, meta, tagsJSON, e.TraceID, e.CreatedAt, e.SizeBytes); err != nil {
			return fmt.Errorf("store: insert entry: %w", err)
		}
		if _, err := deleteFTS.ExecContext(ctx, e.ID); err != nil {
			return fmt.Errorf("store: refresh fts: %w", err)
		}
		if _, err := insertFTS.ExecContext(ctx, e.ID, e.Source, e.Message, meta); err != nil {
			return fmt.Errorf("store: index fts: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}

	copy(entries, prepared)
	return nil
}

// QueryOptions selects the logs.* window returned by the JSON-RPC
// `query` method. Sources/Levels are OR-matched (IN-style); the
// remaining fields conjoin.
type QueryOptions struct {
	Sources         []string
	Levels          []models.Level
	Since           time.Time
	Until           time.Time
	TraceID         string
	Search          string
	Limit           int
	Offset          int
	IncludeArchived bool
}

func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]models.LogEntry, error) {
	var sb strings.Builder
	args := make([]any, 0, 8)
	sb.WriteString("SELECT id, source, level, timestamp, message, metadata, tags, trace_id, created_at, size_bytes FROM logs WHERE 1=1")

	if len(opts.Sources) > 0 {
		sb.WriteString(" AND source IN (" + placeholders(len(opts.Sources)) + ")")
		for _, v := range opts.Sources {
			args = append(args, v)
		}
	}
	if len(opts.Levels) > 0 {
		sb.WriteString(" AND level IN (" + placeholders(len(opts.Levels)) + ")")
		for _, v := range opts.Levels {
			args = append(args, string(v))
		}
	}
	if opts.TraceID != "" {
		sb.WriteString(" AND trace_id = ?")
		args = append(args, opts.TraceID)
	}
	if !opts.Since.IsZero() {
		sb.WriteString(" AND created_at >= ?")
		args = append(args, epochSeconds(opts.Since))
	}
	if !opts.Until.IsZero() {
		sb.WriteString(" AND created_at <= ?")
		args = append(args, epochSeconds(opts.Until))
	}
	if opts.Search != "" {
		sb.WriteString(" AND id IN (SELECT id FROM logs_fts WHERE logs_fts MATCH ?)")
		args = append(args, opts.Search)
	}

	sb.WriteString(" ORDER BY created_at DESC")
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	sb.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()
	out, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	if opts.IncludeArchived {
		archived, err := s.queryArchived(ctx, opts)
		if err != nil {
			return nil, err
		}
		// A row can only be in one tier at a time (retention moves hot
		// rows to the archive atomically), but guard against duplicate
		// ids defensively rather than assume that invariant holds.
		seen := make(map[string]bool, len(out))
		for _, e := range out {
			seen[e.ID] = true
		}
		for _, e := range archived {
			if !seen[e.ID] {
				out = append(out, e)
				seen[e.ID] = true
			}
		}
	}
	return out, nil
}

// queryArchived mirrors Query's source/level/trace/time filters
// against the compressed archive tier, decompressing each matching
// row's blob back into a LogEntry.
func (s *Store) queryArchived(ctx context.Context, opts QueryOptions) ([]models.LogEntry, error) {
	var sb strings.Builder
	args := make([]any, 0, 6)
	sb.WriteString("SELECT id, compressed_data FROM logs_archive WHERE 1=1")

	if len(opts.Sources) > 0 {
		sb.WriteString(" AND source IN (" + placeholders(len(opts.Sources)) + ")")
		for _, v := range opts.Sources {
			args = append(args, v)
		}
	}
	if len(opts.Levels) > 0 {
		sb.WriteString(" AND level IN (" + placeholders(len(opts.Levels)) + ")")
		for _, v := range opts.Levels {
			args = append(args, string(v))
		}
	}
	if !opts.Since.IsZero() {
		sb.WriteString(" AND created_at >= ?")
		args = append(args, epochSeconds(opts.Since))
	}
	if !opts.Until.IsZero() {
		sb.WriteString(" AND created_at <= ?")
		args = append(args, epochSeconds(opts.Until))
	}
	sb.WriteString(" ORDER BY created_at DESC")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("store: query archive: %w", err)
	}
	defer rows.Close()

	var out []models.LogEntry
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("store: scan archive row: %w", err)
		}
		e, err := decompressEntry(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Search runs a raw FTS5 MATCH expression against source, message and
// metadata and
// returns matching hot-tier entries ordered by rank. Both the `search`
// RPC method and query's `search` field accept the same FTS5 MATCH
// syntax (spec.md §9's Open Question, resolved in DESIGN.md).
func (s *Store) Search(ctx context.Context, query string, limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.source, l.level, l.timestamp, l.message, l.metadata, l.tags, l.trace_id, l.created_at, l.size_bytes
		FROM logs l JOIN logs_fts f ON f.id = l.id
		WHERE logs_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ArchiveIndex lists archive-tier row metadata (without decompressing
// the blob), newest first, for operational visibility into what the
// archive holds.
func (s *Store) ArchiveIndex(ctx context.Context, limit int) ([]models.ArchiveRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, level, timestamp, created_at, original_size, compressed_size
		FROM logs_archive ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: archive index: %w", err)
	}
	defer rows.Close()

	var out []models.ArchiveRow
	for rows.Next() {
		var r models.ArchiveRow
		var ts string
		if err := rows.Scan(&r.ID, &r.Source, &r.Level, &ts, &r.CreatedAt, &r.OriginalSize, &r.CompressedSize); err != nil {
			return nil, fmt.Errorf("store: scan archive index row: %w", err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ArchiveBatches lists the retention pass history recorded by
// archiveAndEvict, newest first.
func (s *Store) ArchiveBatches(ctx context.Context, limit int) ([]models.ArchiveRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, archived_at, row_count, oldest_entry, newest_entry
		FROM archive_batches ORDER BY archived_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: archive batches: %w", err)
	}
	defer rows.Close()

	var out []models.ArchiveRecord
	for rows.Next() {
		var r models.ArchiveRecord
		if err := rows.Scan(&r.ID, &r.ArchivedAt, &r.RowCount, &r.OldestEntry, &r.NewestEntry); err != nil {
			return nil, fmt.Errorf("store: scan archive batch row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Trace returns every entry sharing a trace id, ordered by timestamp
// then created_at as spec.md §4.1 requires.
func (s *Store) Trace(ctx context.Context, traceID string) ([]models.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, level, timestamp, message, metadata, tags, trace_id, created_at, size_bytes
		FROM logs WHERE trace_id = ? ORDER BY timestamp ASC, created_at ASC
	`, traceID)
	if err != nil {
		return nil, fmt.Errorf("store: trace: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Stats computes the aggregate described by spec.md §4.1's stats
// operation over entries whose created_at falls within [since, now].
func (s *Store) Stats(ctx context.Context, since time.Time, timerange string) (*models.StatsWindow, error) {
	sw := &models.StatsWindow{TimeRange: timerange}
	sinceEpoch := epochSeconds(since)

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT source), COUNT(DISTINCT NULLIF(trace_id, '')),
		       COALESCE(SUM(size_bytes), 0), MIN(created_at), MAX(created_at)
		FROM logs WHERE created_at >= ?
	`, sinceEpoch)
	var earliest, latest sql.NullFloat64
	if err := row.Scan(&sw.Basic.TotalLogs, &sw.Basic.UniqueSources, &sw.Basic.UniqueTraces, &sw.Basic.TotalSize, &earliest, &latest); err != nil {
		return nil, fmt.Errorf("store: stats basic: %w", err)
	}
	if earliest.Valid {
		sw.Basic.EarliestLog = timeFromEpoch(earliest.Float64)
	}
	if latest.Valid {
		sw.Basic.LatestLog = timeFromEpoch(latest.Float64)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source, level, COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM logs WHERE created_at >= ?
		GROUP BY source, level
		ORDER BY COUNT(*) DESC
	`, sinceEpoch)
	if err != nil {
		return nil, fmt.Errorf("store: stats by_source_level: %w", err)
	}
	for rows.Next() {
		var r models.BySourceLevel
		if err := rows.Scan(&r.Source, &r.Level, &r.Count, &r.TotalSize); err != nil {
			rows.Close()
			return nil, err
		}
		sw.BySourceLevel = append(sw.BySourceLevel, r)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT CAST(created_at / 3600 AS INTEGER) * 3600 AS bucket,
		       COUNT(*),
		       SUM(CASE WHEN level IN ('ERROR', 'FATAL') THEN 1 ELSE 0 END)
		FROM logs WHERE created_at >= ?
		GROUP BY bucket
		ORDER BY bucket DESC
		LIMIT 24
	`, sinceEpoch)
	if err != nil {
		return nil, fmt.Errorf("store: stats hourly: %w", err)
	}
	for rows.Next() {
		var bucket float64
		var h models.HourlyBucket
		if err := rows.Scan(&bucket, &h.Count, &h.ErrorCount); err != nil {
			rows.Close()
			return nil, err
		}
		h.Hour = timeFromEpoch(bucket)
		sw.Hourly = append(sw.Hourly, h)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT message, COUNT(*), MAX(created_at)
		FROM logs WHERE level IN ('ERROR', 'FATAL') AND created_at >= ?
		GROUP BY message
		ORDER BY COUNT(*) DESC
		LIMIT 10
	`, sinceEpoch)
	if err != nil {
		return nil, fmt.Errorf("store: stats top_errors: %w", err)
	}
	for rows.Next() {
		var last float64
		var te models.TopError
		if err := rows.Scan(&te.Message, &te.Count, &last); err != nil {
			rows.Close()
			return nil, err
		}
		te.LastOccurred = timeFromEpoch(last)
		sw.TopErrors = append(sw.TopErrors, te)
	}
	rows.Close()

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`).Scan(&sw.HotRows); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs_archive`).Scan(&sw.ArchiveRows); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`).Scan(&sw.DatabaseBytes); err != nil {
		sw.DatabaseBytes = 0
	}

	return sw, nil
}

// Close flushes any pending batch, stops the background loops, and
// closes the underlying database handle.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.doneWg.Wait()
		err = s.db.Close()
	})
	return err
}

func scanEntries(rows *sql.Rows) ([]models.LogEntry, error) {
	var out []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		var meta, tagsJSON, timestamp string
		if err := rows.Scan(&e.ID, &e.Source, &e.Level, &timestamp, &e.Message, &meta, &tagsJSON, &e.TraceID, &e.CreatedAt, &e.SizeBytes); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, timestamp)
		if err != nil {
			return nil, fmt.Errorf("store: parse timestamp: %w", err)
		}
		e.Timestamp = ts
		m, err := models.UnmarshalMetadata(meta)
		if err != nil {
			return nil, err
		}
		e.Metadata = m
		tags, err := unmarshalTags(tagsJSON)
		if err != nil {
			return nil, err
		}
		e.Tags = tags
		out = append(out, e)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('?')
	}
	return sb.String()
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromEpoch(epoch float64) time.Time {
	return time.Unix(0, int64(epoch*1e9)).UTC()
}

func marshalTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("store: marshal tags: %w", err)
	}
	return string(b), nil
}

func unmarshalTags(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil, fmt.Errorf("store: unmarshal tags: %w", err)
	}
	return tags, nil
}

func gzipBytes(s string) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := io.WriteString(w, s); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompressEntry gzip-decompresses an archive row's blob back into
// the original entry's JSON form, the archive round-trip invariant
// spec.md §8 requires.
func decompressEntry(blob []byte) (models.LogEntry, error) {
	r, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return models.LogEntry{}, fmt.Errorf("store: open archive gzip: %w", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return models.LogEntry{}, fmt.Errorf("store: read archive gzip: %w", err)
	}
	var e models.LogEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return models.LogEntry{}, fmt.Errorf("store: unmarshal archived entry: %w", err)
	}
	return e, nil
}
