// Package models holds the wire and storage types shared across the
// store, analyzer, collector and server packages.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Level is a log severity. The enum is closed: ParseLevel rejects
// anything outside this set, and LogEntry.Validate normalizes such a
// level to INFO.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

func ParseLevel(s string) (Level, error) {
	lvl := Level(strings.ToUpper(strings.TrimSpace(s)))
	switch lvl {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return lvl, nil
	default:
		return "", fmt.Errorf("invalid log level %q", s)
	}
}

// Retained reports whether the level gets the longer ERROR/FATAL
// retention window.
func (l Level) Retained() bool {
	return l == LevelError || l == LevelFatal
}

// Metadata is the arbitrary JSON value tree attached to a LogEntry. It
// round-trips through encoding/json as a plain map and is compared and
// FTS-indexed via its serialized form.
type Metadata map[string]any

func (m Metadata) Marshal() (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

func UnmarshalMetadata(s string) (Metadata, error) {
	if s == "" {
		return Metadata{}, nil
	}
	var m Metadata
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return m, nil
}

// LogEntry is a single ingested log record. ID is a globally unique
// opaque string, generated if the producer omits it; CreatedAt is the
// store's own ingest-time stamp (monotonic per writer), distinct from
// the producer-supplied Timestamp.
type LogEntry struct {
	ID        string    `json:"id,omitempty"`
	Source    string    `json:"source"`
	Level     Level     `json:"level"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	CreatedAt float64   `json:"created_at,omitempty"`
}

// Validate enforces the invariants required before an entry reaches
// the store: an id (generated if absent), a non-empty source, a known
// level (unknown levels are normalized to INFO with a warning tag per
// spec.md's §3 invariant), and a non-empty message. size_bytes and
// created_at are left to the store, which computes them atomically
// with the write.
func (e *LogEntry) Validate() error {
	if strings.TrimSpace(e.Source) == "" {
		return fmt.Errorf("log entry: source is required")
	}
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Errorf("log entry: message is required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if lvl, err := ParseLevel(string(e.Level)); err != nil {
		e.Level = LevelInfo
		e.Tags = append(e.Tags, "level:normalized")
	} else {
		e.Level = lvl
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return nil
}

// Filter is the predicate evaluated per WebSocket subscription. Unset
// fields act as wildcards; Sources/Levels/Tags match on
// "any of", Pattern is a case-sensitive substring match against the
// message.
type Filter struct {
	Levels  []Level  `json:"levels,omitempty"`
	Sources []string `json:"sources,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Matches reports whether entry satisfies the filter. Missing filter
// fields are treated as wildcards.
func (f *Filter) Matches(e *LogEntry) bool {
	if f == nil {
		return true
	}
	if len(f.Levels) > 0 && !containsLevel(f.Levels, e.Level) {
		return false
	}
	if len(f.Sources) > 0 && !containsString(f.Sources, e.Source) {
		return false
	}
	if f.Pattern != "" && !strings.Contains(e.Message, f.Pattern) {
		return false
	}
	if len(f.Tags) > 0 && !overlaps(f.Tags, e.Tags) {
		return false
	}
	return true
}

func containsLevel(list []Level, v Level) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// Subscription is server-side state for one WebSocket stream: a
// client-chosen stream_id bound to a filter, created by start_stream,
// mutated only by update_filters, and destroyed by stop_stream, socket
// disconnect, or a failed send.
type Subscription struct {
	StreamID  string
	Filter    Filter
	StartedAt time.Time
}

// BySourceLevel is one row of the get_stats by_source_level breakdown.
type BySourceLevel struct {
	Source    string `json:"source"`
	Level     string `json:"level"`
	Count     int64  `json:"count"`
	TotalSize int64  `json:"total_size"`
}

// HourlyBucket is one row of the get_stats hourly breakdown.
type HourlyBucket struct {
	Hour       time.Time `json:"hour"`
	Count      int64     `json:"count"`
	ErrorCount int64     `json:"error_count"`
}

// TopError is one row of the get_stats top_errors breakdown: a
// verbatim ERROR/FATAL message grouped by count.
type TopError struct {
	Message       string    `json:"message"`
	Count         int64     `json:"count"`
	LastOccurred  time.Time `json:"last_occurrence"`
}

// BasicStats is the get_stats "basic" aggregate.
type BasicStats struct {
	TotalLogs     int64     `json:"total_logs"`
	UniqueSources int64     `json:"unique_sources"`
	UniqueTraces  int64     `json:"unique_traces"`
	TotalSize     int64     `json:"total_size_bytes"`
	EarliestLog   time.Time `json:"earliest_log,omitempty"`
	LatestLog     time.Time `json:"latest_log,omitempty"`
}

// StatsWindow is the full aggregate returned by get_stats and the
// store's stats(timerange) operation.
type StatsWindow struct {
	TimeRange     string          `json:"timerange"`
	Basic         BasicStats      `json:"basic"`
	BySourceLevel []BySourceLevel `json:"by_source_level"`
	Hourly        []HourlyBucket  `json:"hourly"`
	TopErrors     []TopError      `json:"top_errors"`
	HotRows       int64           `json:"hot_rows"`
	ArchiveRows   int64           `json:"archive_rows"`
	DatabaseBytes int64           `json:"database_bytes"`
}

// ArchiveRecord tracks one maintenance pass that moved a batch of rows
// from the hot table into the compressed archive tier.
type ArchiveRecord struct {
	ID          int64     `json:"id"`
	ArchivedAt  time.Time `json:"archived_at"`
	RowCount    int64     `json:"row_count"`
	OldestEntry time.Time `json:"oldest_entry"`
	NewestEntry time.Time `json:"newest_entry"`
}

// ArchiveRow is the metadata of a single gzip-compressed row in the
// archive tier, as listed by the store's ArchiveIndex. It does not
// carry the compressed blob or the decompressed entry.
type ArchiveRow struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"`
	Level          Level     `json:"level"`
	Timestamp      time.Time `json:"timestamp"`
	CreatedAt      float64   `json:"created_at"`
	OriginalSize   int64     `json:"original_size"`
	CompressedSize int64     `json:"compressed_size"`
}

// Alert is the Analyzer's output: an error-spike or slow-response
// signal, also the payload handed to the alerting dispatcher.
type Alert struct {
	Type     string    `json:"type"`
	Source   string    `json:"source"`
	Count    int       `json:"count,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Average  float64   `json:"average,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}
