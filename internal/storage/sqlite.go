package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"taskpush/internal/model"
	"taskpush/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps each config as a JSON body keyed by user id.
type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

type configRow struct {
	UserID    string `db:"user_id"`
	Body      string `db:"body"`
	UpdatedAt string `db:"updated_at"`
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (ConfigStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) LoadAllConfigs(ctx context.Context) ([]model.UserNotificationConfig, error) {
	var rows []configRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT user_id, body, updated_at FROM user_configs ORDER BY user_id`); err != nil {
		return nil, err
	}
	out := make([]model.UserNotificationConfig, 0, len(rows))
	for _, r := range rows {
		cfg, ok := s.decode(r)
		if !ok {
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (s *sqliteStore) LoadConfig(ctx context.Context, userID string) (model.UserNotificationConfig, error) {
	var r configRow
	err := s.db.GetContext(ctx, &r, `SELECT user_id, body, updated_at FROM user_configs WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultUserConfig(userID), nil
	}
	if err != nil {
		return model.UserNotificationConfig{}, err
	}
	if cfg, ok := s.decode(r); ok {
		return cfg, nil
	}
	return model.DefaultUserConfig(userID), nil
}

func (s *sqliteStore) decode(r configRow) (model.UserNotificationConfig, bool) {
	var cfg model.UserNotificationConfig
	if err := json.Unmarshal([]byte(r.Body), &cfg); err != nil {
		s.log.Warn("corrupt user config row", logx.String("user", r.UserID), logx.Err(err))
		return model.UserNotificationConfig{}, false
	}
	cfg.UserID = r.UserID
	return cfg, true
}

func (s *sqliteStore) SaveConfig(ctx context.Context, cfg model.UserNotificationConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	body, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO user_configs(user_id, body, updated_at) VALUES(:user_id, :body, :updated_at)
		 ON CONFLICT(user_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		configRow{UserID: cfg.UserID, Body: string(body), UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano)},
	)
	return err
}

func (s *sqliteStore) DeleteConfig(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_configs WHERE user_id = ?`, userID)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
