// Package config holds the resolved configuration schema for devlogd.
// Reading a config file or parsing CLI flags is out of scope for this
// package; callers (cmd/devlogd) build a Config and hand it to the
// core packages. The yaml tags exist so an external loader can
// populate the struct from a file the same way the original config
// loader does.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type StoreConfig struct {
	Path              string        `yaml:"path"`
	BatchSize         int           `yaml:"batch_size"`
	BatchTimeout      time.Duration `yaml:"batch_timeout"`
	MaxDays           int           `yaml:"max_days"`
	MaxSizeMB         int64         `yaml:"max_size_mb"`
	VacuumEvery       time.Duration `yaml:"vacuum_every"`
	EnableCompression bool          `yaml:"enable_compression"`
}

type AnalyzerConfig struct {
	ErrorSpikeThreshold int           `yaml:"error_spike_threshold"`
	ErrorSpikeWindow    time.Duration `yaml:"error_spike_window"`
	SlowResponseFactor  float64       `yaml:"slow_response_factor"`
	SlowResponseMinN    int           `yaml:"slow_response_min_samples"`
	SlowResponseWindow  int           `yaml:"slow_response_window"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	CORSEnabled     bool          `yaml:"cors_enabled"`
	AuthToken       string        `yaml:"auth_token"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxConnections  int           `yaml:"max_connections"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type CollectorConfig struct {
	BufferSize  int           `yaml:"buffer_size"`
	FlushEvery  time.Duration `yaml:"flush_every"`
	RetryCount  int           `yaml:"retry_count"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	CompressMin int           `yaml:"compress_min"`
}

type AlertingConfig struct {
	Channels     []string `yaml:"channels"`
	WebhookURL   string   `yaml:"webhook_url"`
	SlackToken   string   `yaml:"slack_token"`
	SlackChannel string   `yaml:"slack_channel"`
}

type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Server    ServerConfig    `yaml:"server"`
	Collector CollectorConfig `yaml:"collector"`
	Alerting  AlertingConfig  `yaml:"alerting"`
}

// Default returns the configuration schema's documented defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path:              "./logs/dev_logs.db",
			BatchSize:         100,
			BatchTimeout:      time.Second,
			MaxDays:           7,
			MaxSizeMB:         500,
			VacuumEvery:       3600 * time.Second,
			EnableCompression: true,
		},
		Analyzer: AnalyzerConfig{
			ErrorSpikeThreshold: 10,
			ErrorSpikeWindow:    60 * time.Second,
			SlowResponseFactor:  3.0,
			SlowResponseMinN:    10,
			SlowResponseWindow:  100,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8888,
			CORSEnabled:     true,
			RequestTimeout:  30 * time.Second,
			MaxConnections:  1000,
			RateLimitRPS:    10,
			RateLimitBurst:  20,
			ShutdownTimeout: 5 * time.Second,
		},
		Collector: CollectorConfig{
			BufferSize:  100,
			FlushEvery:  time.Second,
			RetryCount:  3,
			RetryDelay:  500 * time.Millisecond,
			CompressMin: 50,
		},
		Alerting: AlertingConfig{
			Channels: []string{"console"},
		},
	}
}

// ApplyEnv overlays LOG_COLLECTOR_* environment variables onto cfg,
// mirroring the teacher's getEnvInt/getEnvInt64-style env override
// closures in main.go.
func ApplyEnv(cfg *Config) {
	if v := getEnvInt("LOG_COLLECTOR_PORT", 0); v != 0 {
		cfg.Server.Port = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_COLLECTOR_HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_COLLECTOR_AUTH_TOKEN")); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_COLLECTOR_DB_PATH")); v != "" {
		cfg.Store.Path = v
	}
	if v := getEnvInt64("LOG_COLLECTOR_MAX_SIZE_MB", 0); v != 0 {
		cfg.Store.MaxSizeMB = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_COLLECTOR_WEBHOOK_URL")); v != "" {
		cfg.Alerting.WebhookURL = v
		cfg.Alerting.Channels = appendUnique(cfg.Alerting.Channels, "webhook")
	}
	if v := strings.TrimSpace(os.Getenv("LOG_COLLECTOR_SLACK_TOKEN")); v != "" {
		cfg.Alerting.SlackToken = v
		cfg.Alerting.Channels = appendUnique(cfg.Alerting.Channels, "slack")
	}
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
