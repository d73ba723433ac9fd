package server

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"devlogd/internal/alerting"
	"devlogd/internal/analyzer"
	"devlogd/internal/config"
	"devlogd/internal/models"
	"devlogd/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "devlog.db")
	st, err := store.New(cfg.Store)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	an := analyzer.New(cfg.Analyzer)
	al := alerting.New(config.AlertingConfig{Channels: []string{"console"}})
	return New(st, an, al, cfg.Server)
}

func TestDispatchPing(t *testing.T) {
	s := newTestServer(t)
	resp := s.dispatch(context.Background(), rpcRequest{JSONRPC: "2.0", Method: "ping", ID: 1})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	m, ok := resp.Result.(map[string]any)
	if !ok || m["server"] != serverName {
		t.Fatalf("expected ping result to carry server name %q, got %+v", serverName, resp.Result)
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	s := newTestServer(t)
	resp := s.dispatch(context.Background(), rpcRequest{JSONRPC: "2.0", Method: "nope", ID: 1})
	if resp.Error == nil || resp.Error.Code != errMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestDispatchInvalidEnvelope(t *testing.T) {
	s := newTestServer(t)
	resp := s.dispatch(context.Background(), rpcRequest{JSONRPC: "1.0", Method: "ping", ID: 1})
	if resp.Error == nil || resp.Error.Code != errInvalidRequest {
		t.Fatalf("expected invalid-request error, got %+v", resp.Error)
	}
}

func TestDispatchLogAndQuery(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	params, _ := json.Marshal(map[string]any{"source": "api", "level": "INFO", "message": "hello"})
	resp := s.dispatch(ctx, rpcRequest{JSONRPC: "2.0", Method: "log", Params: params, ID: 1})
	if resp.Error != nil {
		t.Fatalf("log failed: %v", resp.Error)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		qResp := s.dispatch(ctx, rpcRequest{JSONRPC: "2.0", Method: "query", Params: json.RawMessage(`{"sources":["api"]}`), ID: 2})
		if qResp.Error != nil {
			t.Fatalf("query failed: %v", qResp.Error)
		}
		if env, ok := qResp.Result.(map[string]any); ok {
			if logs, ok := env["logs"].([]models.LogEntry); ok && len(logs) > 0 {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected the logged entry to become queryable")
}

func TestParseSinceUntilRelative(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	since, err := parseSinceUntil("1h", now, false)
	if err != nil {
		t.Fatalf("parseSinceUntil(since): %v", err)
	}
	if !since.Equal(now.Add(-time.Hour)) {
		t.Fatalf("expected since = now-1h, got %v", since)
	}

	until, err := parseSinceUntil("1h", now, true)
	if err != nil {
		t.Fatalf("parseSinceUntil(until): %v", err)
	}
	if !until.Equal(now) {
		t.Fatalf("expected until clamped to now, got %v", until)
	}
}
