// Adapted from the original server.py's handle_client_logs: accepts a
// batch of browser-SDK log payloads and maps each onto a LogEntry with
// a "client-<logger>" source and session-id-as-trace-id.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"devlogd/internal/models"
)

func (s *Server) registerClientLogRoutes(r *mux.Router) {
	r.HandleFunc("/api/client-logs", s.handleClientLogs).Methods("POST")
}

type clientLogEntry struct {
	Logger    string `json:"logger"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	URL       string `json:"url"`
	UserAgent string `json:"userAgent"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Stack     string `json:"stack"`
	Data      any    `json:"data"`
}

type clientLogsPayload struct {
	Logs []clientLogEntry `json:"logs"`
}

func (s *Server) handleClientLogs(w http.ResponseWriter, r *http.Request) {
	var payload clientLogsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON format")
		return
	}

	entries := make([]models.LogEntry, 0, len(payload.Logs))
	for _, cl := range payload.Logs {
		level, err := models.ParseLevel(cl.Level)
		if err != nil {
			level = models.LevelInfo
		}
		logger := cl.Logger
		if logger == "" {
			logger = "unknown"
		}
		ts := time.Now().UTC()
		if cl.Timestamp != "" {
			if parsed, err := time.Parse(time.RFC3339, cl.Timestamp); err == nil {
				ts = parsed
			}
		}

		entry := models.LogEntry{
			Source:    "client-" + logger,
			Level:     level,
			Timestamp: ts,
			Message:   cl.Message,
			Metadata: models.Metadata{
				"url":        cl.URL,
				"userAgent":  cl.UserAgent,
				"userId":     cl.UserID,
				"sessionId":  cl.SessionID,
				"stack":      cl.Stack,
				"data":       cl.Data,
			},
			Tags:    []string{"client", "browser"},
			TraceID: cl.SessionID,
		}
		if err := entry.Validate(); err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	if len(entries) > 0 {
		if err := s.store.PutBatch(r.Context(), entries); err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		for i := range entries {
			s.ingested(&entries[i])
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "success",
		"processed": len(entries),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": message})
}
