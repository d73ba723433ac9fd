// Package server is the JSON-RPC 2.0 + WebSocket + batch-ingest
// front door described by the store/analyzer/collector packages. Its
// route-grouping and status-cache idioms are adapted from the
// teacher's internal/api/server.go and routes_registration.go.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"devlogd/internal/alerting"
	"devlogd/internal/analyzer"
	"devlogd/internal/config"
	"devlogd/internal/store"
)

const serverName = "Recursive Log System"

type Server struct {
	store    *store.Store
	analyzer *analyzer.Analyzer
	alerts   *alerting.Dispatcher
	cfg      config.ServerConfig

	hub *Hub

	startedAt time.Time

	statusMu     sync.Mutex
	statusCache  []byte
	statusExpiry time.Time

	httpServer *http.Server
}

func New(st *store.Store, an *analyzer.Analyzer, al *alerting.Dispatcher, cfg config.ServerConfig) *Server {
	s := &Server{
		store:     st,
		analyzer:  an,
		alerts:    al,
		cfg:       cfg,
		hub:       newHub(),
		startedAt: time.Now().UTC(),
	}

	router := mux.NewRouter()
	s.registerRoutes(router)

	limiter := newIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	handler := limiter.rateLimitMiddleware(authMiddleware(cfg.AuthToken, router))

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: handler,
	}
	return s
}

func (s *Server) registerRoutes(r *mux.Router) {
	s.registerBaseRoutes(r)
	s.registerRPCRoutes(r)
	s.registerClientLogRoutes(r)
	s.registerStreamRoutes(r)
}

func (s *Server) registerBaseRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Start runs the HTTP listener, the Analyzer-driven dispatch loop is
// implicit: entries enter through the RPC/client-log handlers and are
// fed to the analyzer and hub synchronously per request.
func (s *Server) Start() error {
	log.Printf("server: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP listener and the WebSocket hub,
// bounded by the configured shutdown timeout (defaults to the 5s
// budget documented in spec.md's concurrency model).
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	s.hub.close()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) buildSystemStatus(ctx context.Context) (map[string]any, error) {
	s.statusMu.Lock()
	if s.statusCache != nil && time.Now().Before(s.statusExpiry) {
		cached := s.statusCache
		s.statusMu.Unlock()
		var m map[string]any
		if err := json.Unmarshal(cached, &m); err == nil {
			return m, nil
		}
	} else {
		s.statusMu.Unlock()
	}

	stats, err := s.store.Stats(ctx, time.Now().Add(-24*time.Hour), "24h")
	if err != nil {
		stats = nil
	}

	var totalLogs int64
	if stats != nil {
		totalLogs = stats.Basic.TotalLogs
	}

	recentBatches, err := s.store.ArchiveBatches(ctx, 5)
	if err != nil {
		recentBatches = nil
	}

	var diskMB, memMB float64
	if usage, err := disk.Usage("."); err == nil {
		diskMB = float64(usage.Used) / (1024 * 1024)
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		memMB = float64(vmem.Used) / (1024 * 1024)
	}

	payload := map[string]any{
		"server":          serverName,
		"uptime":          time.Since(s.startedAt).Seconds(),
		"uptime_seconds":  time.Since(s.startedAt).Seconds(),
		"subscribers":     s.hub.count(),
		"stats":           stats,
		"total_logs":      totalLogs,
		"disk_usage_mb":   diskMB,
		"memory_usage_mb": memMB,
		"last_check":      time.Now().UTC().Format(time.RFC3339),
		"archive_batches": recentBatches,
	}

	if b, err := json.Marshal(payload); err == nil {
		s.statusMu.Lock()
		s.statusCache = b
		s.statusExpiry = time.Now().Add(3 * time.Second)
		s.statusMu.Unlock()
	}

	return payload, nil
}
