package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"devlogd/internal/models"
	"devlogd/internal/store"
)

const (
	errParse          = -32700
	errInvalidRequest = -32600
	errMethodNotFound = -32601
	errInternal       = -32603
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return e.Message }

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

func (s *Server) registerRPCRoutes(r *mux.Router) {
	r.HandleFunc("/rpc", s.handleRPC).Methods("POST")
}

// handleRPC dispatches both single and batch JSON-RPC 2.0 requests.
// Every response, including protocol errors, is written as HTTP 200
// with the error carried in the JSON-RPC envelope; only a body that
// fails to parse as JSON at all is rejected with a parse error.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeRPCError(w, errParse, "failed to read request body", nil)
		return
	}

	trimmed := firstNonSpace(body)
	w.Header().Set("Content-Type", "application/json")

	if trimmed == '[' {
		var reqs []rpcRequest
		if err := json.Unmarshal(body, &reqs); err != nil {
			writeRPCError(w, errParse, "invalid batch request", nil)
			return
		}
		responses := make([]rpcResponse, 0, len(reqs))
		for _, req := range reqs {
			resp := s.dispatch(r.Context(), req)
			if req.ID == nil {
				// A request with no id is a notification; spec.md §4.4
				// says it produces no response entry.
				continue
			}
			responses = append(responses, resp)
		}
		json.NewEncoder(w).Encode(responses)
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPCError(w, errParse, "invalid JSON", nil)
		return
	}
	json.NewEncoder(w).Encode(s.dispatch(r.Context(), req))
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return c
	}
	return 0
}

func (s *Server) dispatch(ctx context.Context, req rpcRequest) rpcResponse {
	if req.JSONRPC != "2.0" || req.Method == "" {
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: errInvalidRequest, Message: "invalid request"}}
	}

	result, err := s.call(ctx, req.Method, req.Params)
	if err != nil {
		if rerr, ok := err.(*rpcError); ok {
			return rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: rerr}
		}
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: errInternal, Message: err.Error()}}
	}
	return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func writeRPCError(w http.ResponseWriter, code int, message string, id any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}

func (s *Server) call(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "ping":
		return map[string]any{"pong": true, "server": serverName, "timestamp": time.Now().UTC().Format(time.RFC3339)}, nil
	case "log":
		return s.rpcLog(ctx, params)
	case "log_batch":
		return s.rpcLogBatch(ctx, params)
	case "query":
		return s.rpcQuery(ctx, params)
	case "search":
		return s.rpcSearch(ctx, params)
	case "get_stats":
		return s.rpcGetStats(ctx, params)
	case "get_system_status":
		return s.buildSystemStatus(ctx)
	case "run_analysis", "get_error_patterns", "get_performance_analysis", "get_trend_analysis", "detect_anomalies":
		return s.rpcAnalysis(ctx, method, params)
	default:
		return nil, &rpcError{Code: errMethodNotFound, Message: fmt.Sprintf("method %q not found", method)}
	}
}

func (s *Server) rpcLog(ctx context.Context, params json.RawMessage) (any, error) {
	var entry models.LogEntry
	if err := json.Unmarshal(params, &entry); err != nil {
		return nil, &rpcError{Code: errInvalidRequest, Message: "invalid log params"}
	}
	if err := entry.Validate(); err != nil {
		return nil, &rpcError{Code: errInvalidRequest, Message: err.Error()}
	}
	if err := s.store.Enqueue(entry); err != nil {
		return nil, &rpcError{Code: errInternal, Message: err.Error()}
	}
	alerts := s.ingested(&entry)
	return map[string]any{"status": "received", "id": entry.ID, "alerts": len(alerts)}, nil
}

type logBatchParams struct {
	Logs     json.RawMessage `json:"logs"`
	Compress bool            `json:"compress"`
}

func (s *Server) rpcLogBatch(ctx context.Context, params json.RawMessage) (any, error) {
	var p logBatchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &rpcError{Code: errInvalidRequest, Message: "invalid log_batch params"}
	}

	var entries []models.LogEntry
	if p.Compress {
		var encoded string
		if err := json.Unmarshal(p.Logs, &encoded); err != nil {
			return nil, &rpcError{Code: errInvalidRequest, Message: "invalid compressed payload"}
		}
		decoded, err := decompressEntries(encoded)
		if err != nil {
			return nil, &rpcError{Code: errInvalidRequest, Message: "invalid compressed payload"}
		}
		entries = decoded
	} else {
		if err := json.Unmarshal(p.Logs, &entries); err != nil {
			return nil, &rpcError{Code: errInvalidRequest, Message: "invalid logs array"}
		}
	}

	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return nil, &rpcError{Code: errInvalidRequest, Message: err.Error()}
		}
	}
	if err := s.store.PutBatch(ctx, entries); err != nil {
		return nil, &rpcError{Code: errInternal, Message: err.Error()}
	}
	totalAlerts := 0
	for i := range entries {
		totalAlerts += len(s.ingested(&entries[i]))
	}
	return map[string]any{"status": "received", "count": len(entries), "alerts": totalAlerts}, nil
}

// ingested feeds one freshly-stored entry through the analyzer and
// WebSocket hub, forwards any raised alerts to the alerting
// dispatcher, and returns them so callers can report a per-request
// alert count.
func (s *Server) ingested(e *models.LogEntry) []models.Alert {
	var alerts []models.Alert
	if s.analyzer != nil {
		alerts = s.analyzer.Analyze(e)
		for _, alert := range alerts {
			if s.alerts != nil {
				s.alerts.Dispatch(alert)
			}
		}
	}
	s.hub.dispatch(e, alerts)
	return alerts
}

func (s *Server) rpcQuery(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Sources         []string `json:"sources"`
		Levels          []string `json:"levels"`
		Since           string   `json:"since"`
		Until           string   `json:"until"`
		TraceID         string   `json:"trace_id"`
		Search          string   `json:"search"`
		Limit           int      `json:"limit"`
		Offset          int      `json:"offset"`
		IncludeArchived bool     `json:"include_archived"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &rpcError{Code: errInvalidRequest, Message: "invalid query params"}
		}
	}

	opts := store.QueryOptions{
		Sources:         p.Sources,
		TraceID:         p.TraceID,
		Search:          p.Search,
		Limit:           p.Limit,
		Offset:          p.Offset,
		IncludeArchived: p.IncludeArchived,
	}
	for _, raw := range p.Levels {
		lvl, err := models.ParseLevel(raw)
		if err != nil {
			return nil, &rpcError{Code: errInvalidRequest, Message: err.Error()}
		}
		opts.Levels = append(opts.Levels, lvl)
	}
	now := time.Now().UTC()
	if p.Since != "" {
		since, err := parseSinceUntil(p.Since, now, false)
		if err != nil {
			return nil, &rpcError{Code: errInvalidRequest, Message: err.Error()}
		}
		opts.Since = since
	}
	if p.Until != "" {
		until, err := parseSinceUntil(p.Until, now, true)
		if err != nil {
			return nil, &rpcError{Code: errInvalidRequest, Message: err.Error()}
		}
		opts.Until = until
	}

	logs, err := s.store.Query(ctx, opts)
	if err != nil {
		return nil, &rpcError{Code: errInternal, Message: err.Error()}
	}
	return map[string]any{"logs": logs, "count": len(logs)}, nil
}

func (s *Server) rpcSearch(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Query == "" {
		return nil, &rpcError{Code: errInvalidRequest, Message: "invalid search params"}
	}
	logs, err := s.store.Search(ctx, p.Query, p.Limit)
	if err != nil {
		return nil, &rpcError{Code: errInternal, Message: err.Error()}
	}
	return map[string]any{"logs": logs, "count": len(logs), "query": p.Query}, nil
}

func (s *Server) rpcGetStats(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		TimeRange string `json:"timerange"`
	}
	if len(params) > 0 {
		json.Unmarshal(params, &p)
	}
	timerange := p.TimeRange
	if timerange == "" {
		timerange = "24h"
	}
	now := time.Now().UTC()
	since, err := parseSinceUntil(timerange, now, false)
	if err != nil {
		since = now.Add(-24 * time.Hour)
		timerange = "24h"
	}
	stats, err := s.store.Stats(ctx, since, timerange)
	if err != nil {
		return nil, &rpcError{Code: errInternal, Message: err.Error()}
	}
	return stats, nil
}

func (s *Server) rpcAnalysis(ctx context.Context, method string, params json.RawMessage) (any, error) {
	// Analysis methods summarize recent history on demand; the live
	// sliding windows already power per-entry alerts via ingested().
	entries, err := s.store.Query(ctx, store.QueryOptions{Limit: 500})
	if err != nil {
		return nil, &rpcError{Code: errInternal, Message: err.Error()}
	}

	switch method {
	case "get_error_patterns":
		return summarizeErrorPatterns(entries), nil
	case "get_performance_analysis":
		return summarizePerformance(entries), nil
	case "get_trend_analysis":
		return summarizeTrend(entries), nil
	case "detect_anomalies", "run_analysis":
		return recomputeAlerts(s.analyzer, entries), nil
	default:
		return nil, &rpcError{Code: errMethodNotFound, Message: method}
	}
}
