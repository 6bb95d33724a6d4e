package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskpush/internal/model"
	"taskpush/pkg/logx"
)

// Open initializes the configured store and applies any seed configs.
func Open(ctx context.Context, cfg Config, log logx.Logger) (ConfigStore, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"))

	var (
		st  ConfigStore
		err error
	)
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory", "mem":
		st = NewMemory()
	case "file":
		st, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		st, err = openSQLite(ctx, cfg, log)
	case "dynamodb", "dynamo":
		st, err = openDynamo(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	if err := seed(ctx, st, cfg.Seed, log); err != nil {
		_ = st.Close()
		return nil, err
	}
	log.Info("config store ready", logx.String("driver", driver))
	return st, nil
}

// seed writes configs for users that do not have one stored yet.
func seed(ctx context.Context, st ConfigStore, cfgs []model.UserNotificationConfig, log logx.Logger) error {
	if len(cfgs) == 0 {
		return nil
	}
	existing, err := st.LoadAllConfigs(ctx)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c.UserID] = true
	}
	for _, c := range cfgs {
		if have[c.UserID] {
			continue
		}
		if err := st.SaveConfig(ctx, c); err != nil {
			return fmt.Errorf("seed %s: %w", c.UserID, err)
		}
		log.Info("seeded user config", logx.String("user", c.UserID))
	}
	return nil
}
