package server

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"

	"devlogd/internal/models"
)

func decompressEntries(encoded string) ([]models.LogEntry, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	r, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gzip: %w", err)
	}
	var entries []models.LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal entries: %w", err)
	}
	return entries, nil
}

var relativeDurationRe = regexp.MustCompile(`^(\d+)([smhd])$`)

// parseSinceUntil resolves a since/until parameter that is either an
// RFC3339 timestamp or a relative duration like "1h"/"30m"/"2d". An
// explicit timestamp is honored for either field. A relative duration
// resolves asymmetrically: since = now-duration (the window's start),
// until = now, clamped regardless of the parsed duration — the
// resolution of spec.md's since/until Open Question documented in
// SPEC_FULL.md, since "until 1h" naming a relative duration almost
// always means "up to now", not "1 hour from now".
func parseSinceUntil(raw string, now time.Time, isUntil bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	m := relativeDurationRe.FindStringSubmatch(raw)
	if m == nil {
		return time.Time{}, fmt.Errorf("invalid time value %q", raw)
	}
	if isUntil {
		return now, nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time value %q", raw)
	}
	var d time.Duration
	switch m[2] {
	case "s":
		d = time.Duration(n) * time.Second
	case "m":
		d = time.Duration(n) * time.Minute
	case "h":
		d = time.Duration(n) * time.Hour
	case "d":
		d = time.Duration(n) * 24 * time.Hour
	}
	return now.Add(-d), nil
}
