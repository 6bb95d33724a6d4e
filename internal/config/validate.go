package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var validate = validator.New()

// Validate rejects configs that would fail at wiring time, so a bad hot
// reload never replaces a working config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	durations := map[string]string{
		"server.read_timeout":       cfg.Server.ReadTimeout,
		"server.write_timeout":      cfg.Server.WriteTimeout,
		"task_api.timeout":          cfg.TaskAPI.Timeout,
		"storage.busy_timeout":      cfg.Storage.BusyTimeout,
		"dispatch.retry_base":       cfg.Dispatch.RetryBase,
		"dispatch.retry_max_delay":  cfg.Dispatch.RetryMaxDelay,
		"dispatch.send_timeout":     cfg.Dispatch.SendTimeout,
		"reminder.scan_interval":    cfg.Reminder.ScanInterval,
		"reminder.window":           cfg.Reminder.Window,
		"reminder.cleanup_interval": cfg.Reminder.CleanupInterval,
		"reminder.retention":        cfg.Reminder.Retention,
		"providers.http_timeout":    cfg.Providers.HTTPTimeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	ints := map[string]int{
		"dispatch.max_attempts":  cfg.Dispatch.MaxAttempts,
		"dispatch.burst":         cfg.Dispatch.Burst,
		"reminder.max_sent_keys": cfg.Reminder.MaxSentKeys,
		"history.push_size":      cfg.History.PushSize,
		"history.reminder_size":  cfg.History.ReminderSize,
		"history.digest_size":    cfg.History.DigestSize,
		"task_api.per_page":      cfg.TaskAPI.PerPage,
		"server.ingress_burst":   cfg.Server.IngressBurst,
	}
	for path, v := range ints {
		if v < 0 {
			return fmt.Errorf("%s must be >= 0", path)
		}
	}
	if cfg.Dispatch.RatePerSec < 0 || cfg.TaskAPI.RatePerSec < 0 || cfg.Server.IngressRatePerSec < 0 {
		return errors.New("rate_per_sec values must be >= 0")
	}

	if raw := strings.TrimSpace(cfg.TaskAPI.BaseURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("task_api.base_url: invalid %q", raw)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory", "mem":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for driver %q", cfg.Storage.Driver)
		}
	case "dynamodb", "dynamo":
		if strings.TrimSpace(cfg.Storage.Table) == "" {
			return errors.New("storage.table is required for dynamodb")
		}
	default:
		return fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver)
	}

	if tz := strings.TrimSpace(cfg.Digest.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("digest.timezone: invalid %q: %w", tz, err)
		}
	}
	if spec := strings.TrimSpace(cfg.Digest.Schedule); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("digest.schedule: %w", err)
		}
	}

	seen := map[string]bool{}
	for i, u := range cfg.Users {
		if err := validate.Struct(u); err != nil {
			var ve validator.ValidationErrors
			if errors.As(err, &ve) && len(ve) > 0 {
				return fmt.Errorf("users[%d]: field '%s' failed '%s'", i, ve[0].Namespace(), ve[0].Tag())
			}
			return fmt.Errorf("users[%d]: %w", i, err)
		}
		if seen[u.UserID] {
			return fmt.Errorf("users[%d]: duplicate user_id %q", i, u.UserID)
		}
		seen[u.UserID] = true
	}
	return nil
}
