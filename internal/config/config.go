package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerURL string `yaml:"server_url"`
	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`

	UploadTimeoutSeconds   int `yaml:"upload_timeout_seconds"`
	ChatTimeoutSeconds     int `yaml:"chat_timeout_seconds"`
	ContentTimeoutSeconds  int `yaml:"content_timeout_seconds"`
	DownloadTimeoutSeconds int `yaml:"download_timeout_seconds"`

	HealthCheckSeconds      int `yaml:"health_check_seconds"`
	ReconnectBackoffSeconds int `yaml:"reconnect_backoff_seconds"`

	ChatRateLimitRPS   float64 `yaml:"chat_rate_limit_rps"`
	ChatRateLimitBurst int     `yaml:"chat_rate_limit_burst"`

	ContentCacheTTLSeconds int `yaml:"content_cache_ttl_seconds"`

	GenerateReport bool `yaml:"generate_report"`
	WebSearch      bool `yaml:"web_search"`

	RetryMaxAttempts          int     `yaml:"retry_max_attempts"`
	RetryInitialBackoffMS     int     `yaml:"retry_initial_backoff_ms"`
	RetryMaxBackoffMS         int     `yaml:"retry_max_backoff_ms"`
	BreakerEnabled            bool    `yaml:"breaker_enabled"`
	BreakerMinRequests        int     `yaml:"breaker_min_requests"`
	BreakerFailureRatio       float64 `yaml:"breaker_failure_ratio"`
	BreakerOpenTimeoutSeconds int     `yaml:"breaker_open_timeout_seconds"`

	MetricsPort string `yaml:"metrics_port"`

	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`

	DownloadDir string `yaml:"download_dir"`
	ExportDir   string `yaml:"export_dir"`
}

func Defaults() Config {
	return Config{
		ServerURL: "http://localhost:5000",
		LogLevel:  "info",

		UploadTimeoutSeconds:   120,
		ChatTimeoutSeconds:     90,
		ContentTimeoutSeconds:  30,
		DownloadTimeoutSeconds: 300,

		HealthCheckSeconds:      10,
		ReconnectBackoffSeconds: 5,

		ChatRateLimitRPS:   1,
		ChatRateLimitBurst: 2,

		ContentCacheTTLSeconds: 600,

		RetryMaxAttempts:          3,
		RetryInitialBackoffMS:     250,
		RetryMaxBackoffMS:         2000,
		BreakerEnabled:            true,
		BreakerMinRequests:        5,
		BreakerFailureRatio:       0.6,
		BreakerOpenTimeoutSeconds: 20,

		NATSSubject: "cv.results",
		DownloadDir: ".",
	}
}

// Load reads the file named by CVCLIENT_CONFIG, if any, and then the environment.
func Load() (Config, error) {
	return LoadFile(os.Getenv("CVCLIENT_CONFIG"))
}

// LoadFile overlays defaults with the YAML file at path (optional) and then the environment.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.ServerURL = mustEnv("CVCLIENT_SERVER_URL", cfg.ServerURL)
	cfg.LogLevel = mustEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = mustEnv("LOG_FILE", cfg.LogFile)

	cfg.UploadTimeoutSeconds = mustEnvInt("CVCLIENT_UPLOAD_TIMEOUT_SECONDS", cfg.UploadTimeoutSeconds)
	cfg.ChatTimeoutSeconds = mustEnvInt("CVCLIENT_CHAT_TIMEOUT_SECONDS", cfg.ChatTimeoutSeconds)
	cfg.ContentTimeoutSeconds = mustEnvInt("CVCLIENT_CONTENT_TIMEOUT_SECONDS", cfg.ContentTimeoutSeconds)
	cfg.DownloadTimeoutSeconds = mustEnvInt("CVCLIENT_DOWNLOAD_TIMEOUT_SECONDS", cfg.DownloadTimeoutSeconds)

	cfg.HealthCheckSeconds = mustEnvInt("CVCLIENT_HEALTH_CHECK_SECONDS", cfg.HealthCheckSeconds)
	cfg.ReconnectBackoffSeconds = mustEnvInt("CVCLIENT_RECONNECT_BACKOFF_SECONDS", cfg.ReconnectBackoffSeconds)

	cfg.ChatRateLimitRPS = mustEnvFloat("CVCLIENT_CHAT_RATE_LIMIT_RPS", cfg.ChatRateLimitRPS)
	cfg.ChatRateLimitBurst = mustEnvInt("CVCLIENT_CHAT_RATE_LIMIT_BURST", cfg.ChatRateLimitBurst)

	cfg.ContentCacheTTLSeconds = mustEnvInt("CVCLIENT_CONTENT_CACHE_TTL_SECONDS", cfg.ContentCacheTTLSeconds)

	cfg.GenerateReport = mustEnvBool("CVCLIENT_GENERATE_REPORT", cfg.GenerateReport)
	cfg.WebSearch = mustEnvBool("CVCLIENT_WEB_SEARCH", cfg.WebSearch)

	cfg.RetryMaxAttempts = mustEnvInt("CVCLIENT_RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts)
	cfg.RetryInitialBackoffMS = mustEnvInt("CVCLIENT_RETRY_INITIAL_BACKOFF_MS", cfg.RetryInitialBackoffMS)
	cfg.RetryMaxBackoffMS = mustEnvInt("CVCLIENT_RETRY_MAX_BACKOFF_MS", cfg.RetryMaxBackoffMS)
	cfg.BreakerEnabled = mustEnvBool("CVCLIENT_BREAKER_ENABLED", cfg.BreakerEnabled)
	cfg.BreakerMinRequests = mustEnvInt("CVCLIENT_BREAKER_MIN_REQUESTS", cfg.BreakerMinRequests)
	cfg.BreakerFailureRatio = mustEnvFloat("CVCLIENT_BREAKER_FAILURE_RATIO", cfg.BreakerFailureRatio)
	cfg.BreakerOpenTimeoutSeconds = mustEnvInt("CVCLIENT_BREAKER_OPEN_TIMEOUT_SECONDS", cfg.BreakerOpenTimeoutSeconds)

	cfg.MetricsPort = mustEnv("CVCLIENT_METRICS_PORT", cfg.MetricsPort)

	cfg.NATSURL = mustEnv("NATS_URL", cfg.NATSURL)
	cfg.NATSSubject = mustEnv("NATS_SUBJECT", cfg.NATSSubject)

	cfg.DownloadDir = mustEnv("CVCLIENT_DOWNLOAD_DIR", cfg.DownloadDir)
	cfg.ExportDir = mustEnv("CVCLIENT_EXPORT_DIR", cfg.ExportDir)
}

func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.ServerURL))
	if err != nil {
		return fmt.Errorf("invalid server url %q: %w", c.ServerURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server url %q: expected http(s)://host[:port]", c.ServerURL)
	}
	if c.ChatRateLimitRPS < 0 || c.ChatRateLimitBurst < 0 {
		return fmt.Errorf("chat rate limit must not be negative")
	}
	return nil
}

func (c Config) UploadTimeout() time.Duration       { return seconds(c.UploadTimeoutSeconds) }
func (c Config) ChatTimeout() time.Duration         { return seconds(c.ChatTimeoutSeconds) }
func (c Config) ContentTimeout() time.Duration      { return seconds(c.ContentTimeoutSeconds) }
func (c Config) DownloadTimeout() time.Duration     { return seconds(c.DownloadTimeoutSeconds) }
func (c Config) HealthCheckInterval() time.Duration { return seconds(c.HealthCheckSeconds) }
func (c Config) ReconnectBackoff() time.Duration    { return seconds(c.ReconnectBackoffSeconds) }
func (c Config) ContentCacheTTL() time.Duration     { return seconds(c.ContentCacheTTLSeconds) }

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}
