package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"taskpush/internal/model"
)

var (
	ErrClosed   = errors.New("storage closed")
	ErrNoUserID = errors.New("user_id is required")
)

// ConfigStore persists per-user notification configs.
//
// A missing or unreadable record is never an error for readers: LoadConfig
// hands back model.DefaultUserConfig and LoadAllConfigs skips it.
type ConfigStore interface {
	LoadAllConfigs(ctx context.Context) ([]model.UserNotificationConfig, error)
	LoadConfig(ctx context.Context, userID string) (model.UserNotificationConfig, error)
	SaveConfig(ctx context.Context, cfg model.UserNotificationConfig) error
	DeleteConfig(ctx context.Context, userID string) error
	Close() error
}

// Config selects and configures the backend.
//
// Driver values:
//   - "memory" or "": process-local, lost on restart
//   - "file": one JSON document per user under Path (a directory)
//   - "sqlite": SQLite database file at Path
//   - "dynamodb": table Table in Region (Endpoint for local emulators)
type Config struct {
	Driver      string        `json:"driver"`
	Path        string        `json:"path,omitempty"`
	BusyTimeout time.Duration `json:"-"`
	Table       string        `json:"table,omitempty"`
	Region      string        `json:"region,omitempty"`
	Endpoint    string        `json:"endpoint,omitempty"`
	// Seed configs are written on open when the user has none yet.
	Seed []model.UserNotificationConfig `json:"-"`
}

// validate is a package-level singleton; validator caches struct metadata.
var validate = validator.New()

// Validate checks a config before it is written.
func Validate(cfg model.UserNotificationConfig) error {
	if strings.TrimSpace(cfg.UserID) == "" {
		return ErrNoUserID
	}
	if err := validate.Struct(cfg); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return err
		}
		msgs := make([]string, 0, len(ve))
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("invalid config for %s: %s", cfg.UserID, strings.Join(msgs, "; "))
	}
	return nil
}

func cloneConfig(cfg model.UserNotificationConfig) model.UserNotificationConfig {
	out := cfg
	out.Providers = make([]model.ProviderConfig, len(cfg.Providers))
	for i, p := range cfg.Providers {
		out.Providers[i] = p
		if p.Settings != nil {
			s := make(map[string]string, len(p.Settings))
			for k, v := range p.Settings {
				s[k] = v
			}
			out.Providers[i].Settings = s
		}
	}
	out.DefaultProviders = append([]string(nil), cfg.DefaultProviders...)
	if cfg.Templates != nil {
		out.Templates = make(map[string]model.NotificationTemplate, len(cfg.Templates))
		for k, v := range cfg.Templates {
			out.Templates[k] = v
		}
	}
	out.Reminder.LabelIDs = append([]int64(nil), cfg.Reminder.LabelIDs...)
	out.Reminder.Providers = append([]string(nil), cfg.Reminder.Providers...)
	if cfg.Reminder.Templates != nil {
		out.Reminder.Templates = make(map[string]model.NotificationTemplate, len(cfg.Reminder.Templates))
		for k, v := range cfg.Reminder.Templates {
			out.Reminder.Templates[k] = v
		}
	}
	out.Digests = append([]model.ScheduledDigestConfig(nil), cfg.Digests...)
	return out
}
