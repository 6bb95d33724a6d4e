package config

import (
	"taskpush/internal/model"
)

// Config is the process configuration file.
//
// All durations are Go duration strings ("500ms", "10s", "1m"). Empty or
// "0s" selects the default documented on each field.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Server    ServerConfig    `json:"server"`
	TaskAPI   TaskAPIConfig   `json:"task_api"`
	Storage   StorageConfig   `json:"storage"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Reminder  ReminderConfig  `json:"reminder"`
	Digest    DigestConfig    `json:"digest"`
	History   HistoryConfig   `json:"history"`
	Providers ProvidersConfig `json:"providers"`
	Debug     DebugConfig     `json:"debug"`

	// Users are seeded into storage when no config exists for them yet.
	Users []model.UserNotificationConfig `json:"users,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ServerConfig controls the inbound HTTP surface.
//
// Defaults:
//   - addr: ":8080"
//   - read_timeout: "10s", write_timeout: "30s"
//   - ingress_rate_per_sec: 0 (unlimited)
type ServerConfig struct {
	Addr string `json:"addr,omitempty"`
	// WebhookSecret enables HMAC-SHA256 verification of inbound calls (do not log).
	WebhookSecret     string   `json:"webhook_secret,omitempty"`
	ReadTimeout       string   `json:"read_timeout,omitempty"`
	WriteTimeout      string   `json:"write_timeout,omitempty"`
	IngressRatePerSec float64  `json:"ingress_rate_per_sec,omitempty"`
	IngressBurst      int      `json:"ingress_burst,omitempty"`
	AllowedOrigins    []string `json:"allowed_origins,omitempty"`
}

type TaskAPIConfig struct {
	BaseURL     string  `json:"base_url"`
	Token       string  `json:"token"` // do not log
	FrontendURL string  `json:"frontend_url,omitempty"`
	Timeout     string  `json:"timeout,omitempty"` // default "10s"
	RatePerSec  float64 `json:"rate_per_sec,omitempty"`
	PerPage     int     `json:"per_page,omitempty"`
}

// StorageConfig selects the user config backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/taskpush.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	Table       string `json:"table,omitempty"`        // dynamodb
	Region      string `json:"region,omitempty"`       // dynamodb
	Endpoint    string `json:"endpoint,omitempty"`     // dynamodb, local emulators
}

// DispatchConfig controls provider retries and per-type rate limits.
//
// Defaults: max_attempts 3, retry_base "1s", retry_max_delay "30s",
// send_timeout "10s", rate_per_sec 5, burst 5.
type DispatchConfig struct {
	MaxAttempts   int     `json:"max_attempts,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	SendTimeout   string  `json:"send_timeout,omitempty"`
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	Burst         int     `json:"burst,omitempty"`
}

// ReminderConfig controls the reminder engine.
//
// Enabled is a pointer so an omitted section stays enabled.
//
// Defaults: scan_interval "10s", window "5m", cleanup_interval "1h",
// retention "2h", max_sent_keys 10000.
type ReminderConfig struct {
	Enabled         *bool  `json:"enabled,omitempty"`
	ScanInterval    string `json:"scan_interval,omitempty"`
	Window          string `json:"window,omitempty"`
	CleanupInterval string `json:"cleanup_interval,omitempty"`
	Retention       string `json:"retention,omitempty"`
	MaxSentKeys     int    `json:"max_sent_keys,omitempty"`
}

// DigestConfig controls the digest check. Schedule is a cron spec; the
// check itself compares each digest's push_time against the local minute.
type DigestConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"` // default "* * * * *"
	Timezone string `json:"timezone,omitempty"`
}

// HistoryConfig sizes the in-memory history buffers (default 100 each).
type HistoryConfig struct {
	PushSize     int `json:"push_size,omitempty"`
	ReminderSize int `json:"reminder_size,omitempty"`
	DigestSize   int `json:"digest_size,omitempty"`
}

type ProvidersConfig struct {
	PushDeerURL    string   `json:"pushdeer_url,omitempty"`
	BarkURL        string   `json:"bark_url,omitempty"`
	TelegramToken  string   `json:"telegram_token,omitempty"` // do not log
	TelegramAPIURL string   `json:"telegram_api_url,omitempty"`
	HTTPTimeout    string   `json:"http_timeout,omitempty"`
	Disabled       []string `json:"disabled,omitempty"`
}

// DebugConfig enables the profiling listener when pprof_addr is set. A
// non-loopback addr needs pprof_token or pprof_allow_insecure.
type DebugConfig struct {
	PprofAddr          string `json:"pprof_addr,omitempty"`
	PprofToken         string `json:"pprof_token,omitempty"` // do not log
	PprofAllowInsecure bool   `json:"pprof_allow_insecure,omitempty"`
}

func (c ReminderConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

func (c DigestConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }
