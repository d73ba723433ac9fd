// Package analyzer implements the real-time error-spike and
// slow-response detectors described by the store's ingest stream. It
// is grounded on the original RealTimeAnalyzer's per-source sliding
// windows, restructured as a mutex-guarded map in the style of the
// teacher's ipLimiter (internal/api/ratelimit.go) rather than the
// teacher's channel-fanout eventbus.Bus, since an analyzer needs
// synchronous read-modify-write per source instead of broadcast.
package analyzer

import (
	"sync"
	"time"

	"devlogd/internal/config"
	"devlogd/internal/models"
)

type window struct {
	errorTimestamps []time.Time
	durations       []float64
}

// Analyzer tracks, per source, a rolling window of error timestamps
// and response-time samples and raises alerts when either crosses its
// configured threshold.
type Analyzer struct {
	mu      sync.Mutex
	cfg     config.AnalyzerConfig
	windows map[string]*window
}

func New(cfg config.AnalyzerConfig) *Analyzer {
	if cfg.ErrorSpikeThreshold <= 0 {
		cfg.ErrorSpikeThreshold = 10
	}
	if cfg.ErrorSpikeWindow <= 0 {
		cfg.ErrorSpikeWindow = 60 * time.Second
	}
	if cfg.SlowResponseFactor <= 0 {
		cfg.SlowResponseFactor = 3.0
	}
	if cfg.SlowResponseMinN <= 0 {
		cfg.SlowResponseMinN = 10
	}
	if cfg.SlowResponseWindow <= 0 {
		cfg.SlowResponseWindow = 100
	}
	return &Analyzer{
		cfg:     cfg,
		windows: make(map[string]*window),
	}
}

// Analyze feeds one log entry into the sliding windows and returns any
// alerts it triggers. An http_traffic or db_query entry with a numeric
// "duration_ms" metadata field is treated as a response-time sample;
// ERROR/FATAL entries feed the error-spike window.
func (a *Analyzer) Analyze(e *models.LogEntry) []models.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.windows[e.Source]
	if w == nil {
		w = &window{}
		a.windows[e.Source] = w
	}

	var alerts []models.Alert
	// Error-spike windowing uses wall-clock time, not the entry's own
	// timestamp, matching the original analyzer's use of time.time().
	now := time.Now().UTC()

	if e.Level.Retained() {
		w.errorTimestamps = append(w.errorTimestamps, now)
		w.errorTimestamps = trimOlderThan(w.errorTimestamps, now.Add(-a.cfg.ErrorSpikeWindow))
		if len(w.errorTimestamps) >= a.cfg.ErrorSpikeThreshold {
			alerts = append(alerts, models.Alert{
				Type:    "error_spike",
				Source:  e.Source,
				Count:   len(w.errorTimestamps),
				Message: "error spike detected",
				At:      now,
			})
		}
	}

	// Slow-response detection only applies to sources that carry a
	// meaningful duration_ms sample: http_traffic and db_query.
	if e.Source == "http_traffic" || e.Source == "db_query" {
		if d, ok := durationMillis(e.Metadata); ok {
			w.durations = append(w.durations, d)
			if len(w.durations) > a.cfg.SlowResponseWindow {
				w.durations = w.durations[len(w.durations)-a.cfg.SlowResponseWindow:]
			}
			if len(w.durations) >= a.cfg.SlowResponseMinN {
				// The average includes the current sample, matching the
				// original's append-then-average ordering.
				avg := mean(w.durations)
				if avg > 0 && d > avg*a.cfg.SlowResponseFactor {
					alerts = append(alerts, models.Alert{
						Type:     "slow_response",
						Source:   e.Source,
						Duration: d,
						Average:  avg,
						Message:  "response time exceeds baseline",
						At:       now,
					})
				}
			}
		}
	}

	return alerts
}

func trimOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func durationMillis(meta models.Metadata) (float64, bool) {
	if meta == nil {
		return 0, false
	}
	v, ok := meta["duration_ms"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
