package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"taskpush/internal/model"
	"taskpush/pkg/logx"
)

// fileStore keeps one <userID>.json per user in a directory. Writes go to a
// temp file in the same directory and are renamed over the target, so a
// reader never sees a half-written document.
type fileStore struct {
	dir string
	log logx.Logger

	mu     sync.Mutex // serializes writers
	closed bool
}

func openFile(cfg Config, log logx.Logger) (ConfigStore, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{dir: dir, log: log}, nil
}

// userFile escapes the id so it cannot walk out of dir.
func (s *fileStore) userFile(userID string) string {
	return filepath.Join(s.dir, url.PathEscape(userID)+".json")
}

func (s *fileStore) LoadAllConfigs(ctx context.Context) ([]model.UserNotificationConfig, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	out := make([]model.UserNotificationConfig, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, err := url.PathUnescape(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		cfg, ok := s.read(id)
		if !ok {
			continue
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *fileStore) LoadConfig(ctx context.Context, userID string) (model.UserNotificationConfig, error) {
	if cfg, ok := s.read(userID); ok {
		return cfg, nil
	}
	return model.DefaultUserConfig(userID), nil
}

// read reports false for a missing or corrupt document; corruption is logged.
func (s *fileStore) read(userID string) (model.UserNotificationConfig, bool) {
	path := s.userFile(userID)
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("read user config failed", logx.String("path", path), logx.Err(err))
		}
		return model.UserNotificationConfig{}, false
	}
	var cfg model.UserNotificationConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		s.log.Warn("corrupt user config, using default", logx.String("path", path), logx.Err(err))
		return model.UserNotificationConfig{}, false
	}
	if cfg.UserID == "" {
		cfg.UserID = userID
	}
	return cfg, true
}

func (s *fileStore) SaveConfig(ctx context.Context, cfg model.UserNotificationConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return writeFileAtomic(s.userFile(cfg.UserID), b)
}

func (s *fileStore) DeleteConfig(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.userFile(userID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
