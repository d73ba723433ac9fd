package models

import "testing"

func TestParseLevel(t *testing.T) {
	cases := map[string]bool{
		"debug": true, "INFO": true, "Warn": true, "ERROR": true, "FATAL": true,
		"TRACE": false, "": false,
	}
	for in, ok := range cases {
		_, err := ParseLevel(in)
		if ok && err != nil {
			t.Errorf("ParseLevel(%q): expected success, got %v", in, err)
		}
		if !ok && err == nil {
			t.Errorf("ParseLevel(%q): expected error, got nil", in)
		}
	}
}

func TestLevelRetained(t *testing.T) {
	if !LevelError.Retained() || !LevelFatal.Retained() {
		t.Fatal("ERROR and FATAL must be retained")
	}
	if LevelInfo.Retained() || LevelDebug.Retained() || LevelWarn.Retained() {
		t.Fatal("only ERROR/FATAL should be retained")
	}
}

func TestLogEntryValidate(t *testing.T) {
	e := LogEntry{Source: "api", Level: LevelInfo, Message: "hello"}
	if err := e.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Timestamp.IsZero() {
		t.Fatal("expected Validate to stamp a timestamp")
	}
	if e.ID == "" {
		t.Fatal("expected Validate to generate an id when absent")
	}

	bad := LogEntry{Source: "", Level: LevelInfo, Message: "x"}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for missing source")
	}

	unknown := LogEntry{Source: "api", Level: "TRACE", Message: "x"}
	if err := unknown.Validate(); err != nil {
		t.Fatalf("unexpected error for unknown level: %v", err)
	}
	if unknown.Level != LevelInfo {
		t.Fatalf("expected unknown level to normalize to INFO, got %q", unknown.Level)
	}
	found := false
	for _, tag := range unknown.Tags {
		if tag == "level:normalized" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected normalized level to add the level:normalized tag")
	}
}

func TestFilterMatches(t *testing.T) {
	e := &LogEntry{Source: "api", Level: LevelError, Message: "connection refused", Tags: []string{"db", "retry"}}

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter matches anything", Filter{}, true},
		{"level match", Filter{Levels: []Level{LevelError}}, true},
		{"level mismatch", Filter{Levels: []Level{LevelInfo}}, false},
		{"source match", Filter{Sources: []string{"api", "worker"}}, true},
		{"source mismatch", Filter{Sources: []string{"worker"}}, false},
		{"pattern substring match", Filter{Pattern: "refused"}, true},
		{"pattern mismatch", Filter{Pattern: "timeout"}, false},
		{"tag overlap", Filter{Tags: []string{"retry", "nope"}}, true},
		{"tag no overlap", Filter{Tags: []string{"nope"}}, false},
	}

	for _, tc := range cases {
		if got := tc.filter.Matches(e); got != tc.want {
			t.Errorf("%s: Matches() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	m := Metadata{"duration_ms": 42.0, "ok": true}
	s, err := m.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := UnmarshalMetadata(s)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back["duration_ms"] != 42.0 {
		t.Fatalf("expected duration_ms to round-trip, got %v", back["duration_ms"])
	}
}
