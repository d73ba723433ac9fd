package analyzer

import (
	"testing"
	"time"

	"devlogd/internal/config"
	"devlogd/internal/models"
)

func TestErrorSpikeThreshold(t *testing.T) {
	a := New(config.AnalyzerConfig{
		ErrorSpikeThreshold: 3,
		ErrorSpikeWindow:    time.Minute,
	})

	var gotSpike bool
	for i := 0; i < 3; i++ {
		alerts := a.Analyze(&models.LogEntry{
			Source:  "api",
			Level:   models.LevelError,
			Message: "boom",
		})
		for _, al := range alerts {
			if al.Type == "error_spike" {
				gotSpike = true
			}
		}
	}
	if !gotSpike {
		t.Fatal("expected an error_spike alert once the threshold was reached")
	}
}

func TestErrorSpikeWindowExpires(t *testing.T) {
	// The error-spike window is keyed off wall-clock time (matching
	// the original analyzer's use of time.time()), so aging it out
	// means actually waiting rather than backdating Timestamp.
	a := New(config.AnalyzerConfig{
		ErrorSpikeThreshold: 2,
		ErrorSpikeWindow:    30 * time.Millisecond,
	})

	a.Analyze(&models.LogEntry{Source: "api", Level: models.LevelError, Message: "e1"})
	time.Sleep(60 * time.Millisecond)
	alerts := a.Analyze(&models.LogEntry{Source: "api", Level: models.LevelError, Message: "e2"})
	for _, al := range alerts {
		if al.Type == "error_spike" {
			t.Fatal("expected the old error timestamp to have aged out of the window")
		}
	}
}

func TestSlowResponseDetection(t *testing.T) {
	a := New(config.AnalyzerConfig{
		SlowResponseFactor: 3.0,
		SlowResponseMinN:   5,
		SlowResponseWindow: 100,
	})

	for i := 0; i < 10; i++ {
		a.Analyze(&models.LogEntry{
			Source:   "http_traffic",
			Level:    models.LevelInfo,
			Message:  "ok",
			Metadata: models.Metadata{"duration_ms": 10.0},
		})
	}

	alerts := a.Analyze(&models.LogEntry{
		Source:   "http_traffic",
		Level:    models.LevelInfo,
		Message:  "slow",
		Metadata: models.Metadata{"duration_ms": 1000.0},
	})

	var found bool
	for _, al := range alerts {
		if al.Type == "slow_response" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a slow_response alert for a sample far above baseline")
	}
}

func TestSlowResponseIgnoresOtherSources(t *testing.T) {
	a := New(config.AnalyzerConfig{
		SlowResponseFactor: 3.0,
		SlowResponseMinN:   5,
		SlowResponseWindow: 100,
	})

	for i := 0; i < 10; i++ {
		a.Analyze(&models.LogEntry{
			Source:   "console",
			Level:    models.LevelInfo,
			Message:  "ok",
			Metadata: models.Metadata{"duration_ms": 10.0},
		})
	}

	alerts := a.Analyze(&models.LogEntry{
		Source:   "console",
		Level:    models.LevelInfo,
		Message:  "slow",
		Metadata: models.Metadata{"duration_ms": 1000.0},
	})
	for _, al := range alerts {
		if al.Type == "slow_response" {
			t.Fatal("slow_response should only apply to http_traffic/db_query sources")
		}
	}
}

func TestNoAlertBelowMinSamples(t *testing.T) {
	a := New(config.AnalyzerConfig{
		SlowResponseFactor: 3.0,
		SlowResponseMinN:   10,
		SlowResponseWindow: 100,
	})

	alerts := a.Analyze(&models.LogEntry{
		Source:   "db_query",
		Level:    models.LevelInfo,
		Message:  "first sample",
		Metadata: models.Metadata{"duration_ms": 5000.0},
	})
	for _, al := range alerts {
		if al.Type == "slow_response" {
			t.Fatal("should not alert before min-samples is reached")
		}
	}
}
