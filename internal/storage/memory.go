package storage

import (
	"context"
	"sort"
	"sync"

	"taskpush/internal/model"
)

// Memory keeps configs in process memory. Readers get deep copies.
type Memory struct {
	mu     sync.RWMutex
	cfgs   map[string]model.UserNotificationConfig
	closed bool
}

func NewMemory() *Memory {
	return &Memory{cfgs: map[string]model.UserNotificationConfig{}}
}

func (m *Memory) LoadAllConfigs(ctx context.Context) ([]model.UserNotificationConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]model.UserNotificationConfig, 0, len(m.cfgs))
	for _, c := range m.cfgs {
		out = append(out, cloneConfig(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *Memory) LoadConfig(ctx context.Context, userID string) (model.UserNotificationConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return model.UserNotificationConfig{}, ErrClosed
	}
	c, ok := m.cfgs[userID]
	if !ok {
		return model.DefaultUserConfig(userID), nil
	}
	return cloneConfig(c), nil
}

func (m *Memory) SaveConfig(ctx context.Context, cfg model.UserNotificationConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.cfgs[cfg.UserID] = cloneConfig(cfg)
	return nil
}

func (m *Memory) DeleteConfig(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.cfgs, userID)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.cfgs = map[string]model.UserNotificationConfig{}
	m.mu.Unlock()
	return nil
}
