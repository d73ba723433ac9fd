// Package httptraffic runs a reverse proxy in front of a target
// service, capturing a log entry per request/response pair. The proxy
// listens on targetPort+1000 per the original HTTPTrafficCollector's
// port-offset convention, and records method/path/status/duration_ms/
// ip/user_agent/content_length (plus the request body when capture_body
// is set) per the same collector's request logging. Grounded on
// net/http/httputil.ReverseProxy (stdlib) since no pack example builds
// a reverse proxy via a third-party package — the teacher's own HTTP
// surface is a listening server, not a proxy, so there's no in-pack
// proxy library to prefer.
package httptraffic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"strconv"
	"time"

	"devlogd/internal/collector"
	"devlogd/internal/config"
	"devlogd/internal/models"
)

type Config struct {
	Name        string
	TargetURL   string
	ListenPort  int
	IgnorePaths []string
	CaptureBody bool
	MaxBodySize int64
}

type Collector struct {
	cfg    Config
	buf    *collector.Buffer
	server *http.Server
}

func New(cfg Config, client *collector.Client, ccfg config.CollectorConfig) (*Collector, error) {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 64 * 1024
	}
	target, err := url.Parse(cfg.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("httptraffic: parse target: %w", err)
	}
	if cfg.ListenPort == 0 {
		port, err := strconv.Atoi(target.Port())
		if err != nil {
			return nil, fmt.Errorf("httptraffic: target %q has no numeric port to offset: %w", cfg.TargetURL, err)
		}
		cfg.ListenPort = port + 1000
	}

	c := &Collector{
		cfg: cfg,
		buf: collector.NewBuffer(client, ccfg),
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	mux := http.NewServeMux()
	mux.HandleFunc("/", c.instrument(proxy))
	c.server = &http.Server{Addr: fmt.Sprintf(":%d", cfg.ListenPort), Handler: mux}
	return c, nil
}

func (c *Collector) Name() string { return "http_traffic:" + c.cfg.Name }

func (c *Collector) instrument(proxy *httputil.ReverseProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.ignored(r.URL.Path) {
			proxy.ServeHTTP(w, r)
			return
		}

		var body string
		if c.cfg.CaptureBody && r.Body != nil {
			limited := io.LimitReader(r.Body, c.cfg.MaxBodySize)
			if b, err := io.ReadAll(limited); err == nil {
				body = string(b)
				// Put the consumed bytes back so the proxied request
				// still carries its full body.
				r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(b), r.Body))
			}
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		proxy.ServeHTTP(rec, r)
		durationMs := float64(time.Since(start).Microseconds()) / 1000.0

		ip := r.RemoteAddr
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			ip = fwd
		}
		contentLength := r.ContentLength
		if cl := r.Header.Get("Content-Length"); contentLength < 0 && cl != "" {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
				contentLength = n
			}
		}

		metadata := models.Metadata{
			"method":         r.Method,
			"path":           r.URL.Path,
			"status":         rec.status,
			"duration_ms":    durationMs,
			"ip":             ip,
			"user_agent":     r.UserAgent(),
			"content_length": contentLength,
		}
		if c.cfg.CaptureBody && body != "" {
			metadata["body"] = body
		}

		c.buf.Add(r.Context(), models.LogEntry{
			Source:    c.cfg.Name,
			Level:     levelForStatus(rec.status),
			Timestamp: start.UTC(),
			Message:   fmt.Sprintf("%s %s -> %d", r.Method, r.URL.Path, rec.status),
			Metadata:  metadata,
			Tags:      []string{"http_traffic"},
		})
	}
}

func (c *Collector) ignored(reqPath string) bool {
	for _, pat := range c.cfg.IgnorePaths {
		if ok, _ := path.Match(pat, reqPath); ok {
			return true
		}
	}
	return false
}

func levelForStatus(status int) models.Level {
	switch {
	case status >= 500:
		return models.LevelError
	case status >= 400:
		return models.LevelWarn
	default:
		return models.LevelInfo
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (c *Collector) Start(ctx context.Context) error {
	go c.buf.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}()
	if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (c *Collector) Stop() error {
	c.buf.Close()
	return c.server.Close()
}
