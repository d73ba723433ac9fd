package server

import (
	"sort"

	"devlogd/internal/analyzer"
	"devlogd/internal/config"
	"devlogd/internal/models"
)

type errorPattern struct {
	Source string `json:"source"`
	Level  string `json:"level"`
	Count  int    `json:"count"`
}

func summarizeErrorPatterns(entries []models.LogEntry) []errorPattern {
	counts := map[[2]string]int{}
	for _, e := range entries {
		if !e.Level.Retained() {
			continue
		}
		counts[[2]string{e.Source, string(e.Level)}]++
	}
	out := make([]errorPattern, 0, len(counts))
	for k, n := range counts {
		out = append(out, errorPattern{Source: k[0], Level: k[1], Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

type performanceSummary struct {
	Source      string  `json:"source"`
	SampleCount int     `json:"sample_count"`
	AverageMs   float64 `json:"average_ms"`
	MaxMs       float64 `json:"max_ms"`
}

func summarizePerformance(entries []models.LogEntry) []performanceSummary {
	type acc struct {
		sum, max float64
		n        int
	}
	bySource := map[string]*acc{}
	for _, e := range entries {
		v, ok := e.Metadata["duration_ms"]
		if !ok {
			continue
		}
		var d float64
		switch n := v.(type) {
		case float64:
			d = n
		case int:
			d = float64(n)
		default:
			continue
		}
		a := bySource[e.Source]
		if a == nil {
			a = &acc{}
			bySource[e.Source] = a
		}
		a.sum += d
		a.n++
		if d > a.max {
			a.max = d
		}
	}
	out := make([]performanceSummary, 0, len(bySource))
	for src, a := range bySource {
		out = append(out, performanceSummary{
			Source:      src,
			SampleCount: a.n,
			AverageMs:   a.sum / float64(a.n),
			MaxMs:       a.max,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AverageMs > out[j].AverageMs })
	return out
}

type trendPoint struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

func summarizeTrend(entries []models.LogEntry) []trendPoint {
	counts := map[string]int{}
	for _, e := range entries {
		day := e.Timestamp.Format("2006-01-02")
		counts[day]++
	}
	out := make([]trendPoint, 0, len(counts))
	for day, n := range counts {
		out = append(out, trendPoint{Day: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

// recomputeAlerts replays recent entries, oldest first, through a
// scratch analyzer so run_analysis/detect_anomalies return a
// consistent snapshot without perturbing the live sliding windows
// that drive per-ingest alerting.
func recomputeAlerts(live *analyzer.Analyzer, entries []models.LogEntry) []models.Alert {
	_ = live
	scratch := analyzer.New(config.AnalyzerConfig{})
	ordered := make([]models.LogEntry, len(entries))
	copy(ordered, entries)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Timestamp.Before(ordered[j].Timestamp) })

	var alerts []models.Alert
	for i := range ordered {
		alerts = append(alerts, scratch.Analyze(&ordered[i])...)
	}
	return alerts
}
