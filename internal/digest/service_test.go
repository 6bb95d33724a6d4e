package digest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpush/internal/model"
	"taskpush/internal/provider"
	"taskpush/pkg/logx"
)

type memConfigs struct {
	mu    sync.Mutex
	cfgs  []model.UserNotificationConfig
	saves int
}

func (m *memConfigs) LoadAllConfigs(context.Context) ([]model.UserNotificationConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.UserNotificationConfig(nil), m.cfgs...), nil
}

func (m *memConfigs) LoadConfig(_ context.Context, userID string) (model.UserNotificationConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cfgs {
		if c.UserID == userID {
			c.Digests = append([]model.ScheduledDigestConfig(nil), c.Digests...)
			return c, nil
		}
	}
	return model.DefaultUserConfig(userID), nil
}

func (m *memConfigs) SaveConfig(_ context.Context, cfg model.UserNotificationConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	for i := range m.cfgs {
		if m.cfgs[i].UserID == cfg.UserID {
			m.cfgs[i] = cfg
		}
	}
	return nil
}

type staticTasks struct {
	tasks []model.Task
	calls atomic.Int32
}

func (s *staticTasks) ListUndoneTasks(context.Context) ([]model.Task, error) {
	s.calls.Add(1)
	return s.tasks, nil
}

// flakyTasks fails while fail is set.
type flakyTasks struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (f *flakyTasks) ListUndoneTasks(context.Context) ([]model.Task, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, errors.New("task api down")
	}
	return []model.Task{{ID: 1, Title: "Ship it", Priority: 3}}, nil
}

// editingSender runs onSend before delivering, standing in for a user
// editing their config while the digest is in flight.
type editingSender struct {
	okSender
	onSend func()
}

func (s *editingSender) Send(ctx context.Context, typ string, settings map[string]string, msg provider.Message) model.ProviderResult {
	if s.onSend != nil {
		s.onSend()
	}
	return s.okSender.Send(ctx, typ, settings, msg)
}

type okSender struct {
	mu   sync.Mutex
	msgs []provider.Message
}

func (s *okSender) Send(_ context.Context, typ string, _ map[string]string, msg provider.Message) model.ProviderResult {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	return model.ProviderResult{ProviderType: typ, Success: true}
}

func digestUser(id, pushTime string) model.UserNotificationConfig {
	return model.UserNotificationConfig{
		UserID:    id,
		Providers: []model.ProviderConfig{{ProviderType: "bark", Settings: map[string]string{"deviceKey": "d"}}},
		Digests: []model.ScheduledDigestConfig{{
			ID: "morning", UserID: id, Enabled: true, PushTime: pushTime,
			Providers: []string{"bark"},
		}},
	}
}

func TestFilterByMinPriority(t *testing.T) {
	t.Parallel()
	var tasks []model.Task
	for i, p := range []int{1, 3, 4, 2, 5} {
		tasks = append(tasks, model.Task{ID: int64(i + 1), Priority: p})
	}

	got := Filter(tasks, 3, nil)

	require.Len(t, got, 3)
	assert.Equal(t, []int{5, 4, 3}, []int{got[0].Priority, got[1].Priority, got[2].Priority})
}

func TestFilterORSemantics(t *testing.T) {
	t.Parallel()
	tasks := []model.Task{
		{ID: 1, Priority: 1, Labels: []model.Label{{ID: 9}}},
		{ID: 2, Priority: 4},
		{ID: 3, Priority: 1},
		{ID: 4, Priority: 5, Done: true},
	}
	assert.Len(t, Filter(tasks, 0, nil), 3)
	assert.Len(t, Filter(tasks, 0, []int64{9}), 1)

	got := Filter(tasks, 4, []int64{9})
	require.Len(t, got, 2)
	assert.EqualValues(t, 2, got[0].ID)
	assert.EqualValues(t, 1, got[1].ID)
}

func TestCheckSendsOncePerDay(t *testing.T) {
	t.Parallel()
	loc := time.UTC
	now := time.Date(2026, 7, 1, 8, 30, 10, 0, loc)
	clock := func() time.Time { return now }
	store := &memConfigs{cfgs: []model.UserNotificationConfig{digestUser("u1", "8:30")}}
	tasks := &staticTasks{tasks: []model.Task{{ID: 1, Title: "Ship it", Priority: 5}}}
	sender := &okSender{}

	s := New(Deps{Configs: store, Tasks: tasks, Sender: sender, Now: clock, Location: loc}, logx.Nop())

	assert.Equal(t, 1, s.Check(context.Background()))
	assert.Zero(t, s.Check(context.Background()), "same minute, same day")

	now = now.Add(24 * time.Hour)
	assert.Equal(t, 1, s.Check(context.Background()), "next day")

	recs := s.History().Recent(0)
	require.Len(t, recs, 2)
	assert.Equal(t, "morning", recs[0].DigestID)
	assert.Equal(t, 1, recs[0].TaskCount)
	assert.Contains(t, recs[0].Body, "🔴 Ship it")
	assert.Equal(t, 2, store.saves)
	assert.Equal(t, now, store.cfgs[0].Digests[0].LastPushTime)
}

func TestCheckRespectsPersistedLastPush(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	cfg := digestUser("u1", "09:00")
	cfg.Digests[0].LastPushTime = now.Add(-2 * time.Hour)
	store := &memConfigs{cfgs: []model.UserNotificationConfig{cfg}}

	s := New(Deps{Configs: store, Tasks: &staticTasks{}, Sender: &okSender{}, Now: func() time.Time { return now }, Location: time.UTC}, logx.Nop())
	assert.Zero(t, s.Check(context.Background()))
}

func TestCheckOnlyAtPushTime(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 7, 1, 9, 1, 0, 0, time.UTC)
	tasks := &staticTasks{}
	store := &memConfigs{cfgs: []model.UserNotificationConfig{digestUser("u1", "09:00")}}

	s := New(Deps{Configs: store, Tasks: tasks, Sender: &okSender{}, Now: func() time.Time { return now }, Location: time.UTC}, logx.Nop())
	assert.Zero(t, s.Check(context.Background()))
	assert.Zero(t, tasks.calls.Load())
}

func TestCheckEmptyDigestStillSends(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 7, 1, 7, 0, 0, 0, time.UTC)
	cfg := digestUser("u1", "07:00")
	cfg.Digests[0].MinPriority = 5
	store := &memConfigs{cfgs: []model.UserNotificationConfig{cfg}}
	sender := &okSender{}

	s := New(Deps{
		Configs:  store,
		Tasks:    &staticTasks{tasks: []model.Task{{ID: 1, Priority: 1}}},
		Sender:   sender,
		Now:      func() time.Time { return now },
		Location: time.UTC,
	}, logx.Nop())

	assert.Equal(t, 1, s.Check(context.Background()))
	rec := s.History().Recent(1)[0]
	assert.Zero(t, rec.TaskCount)
	assert.Equal(t, "📋 Daily digest 2026-07-01", rec.Title)
	assert.Equal(t, emptyBody, rec.Body)
	assert.Zero(t, s.Check(context.Background()))
}

func TestCheckUnconfiguredProviderFails(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 7, 1, 7, 0, 0, 0, time.UTC)
	cfg := digestUser("u1", "07:00")
	cfg.Digests[0].Providers = []string{"bark", "telegram"}
	store := &memConfigs{cfgs: []model.UserNotificationConfig{cfg, digestUser("u2", "07:00")}}
	tasks := &staticTasks{}

	s := New(Deps{Configs: store, Tasks: tasks, Sender: &okSender{}, Now: func() time.Time { return now }, Location: time.UTC}, logx.Nop())

	assert.Equal(t, 2, s.Check(context.Background()))
	assert.EqualValues(t, 1, tasks.calls.Load(), "tasks fetched once per tick")

	for _, rec := range s.History().Recent(0) {
		if rec.UserID != "u1" {
			continue
		}
		require.Len(t, rec.Results, 2)
		assert.True(t, rec.Results[0].Success)
		assert.Equal(t, "telegram", rec.Results[1].ProviderType)
		assert.False(t, rec.Results[1].Success)
	}
}

func TestCheckUsesLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+7", 7*3600)
	now := time.Date(2026, 7, 1, 1, 0, 0, 0, time.UTC) // 08:00 local
	store := &memConfigs{cfgs: []model.UserNotificationConfig{digestUser("u1", "08:00")}}

	s := New(Deps{Configs: store, Tasks: &staticTasks{}, Sender: &okSender{}, Now: func() time.Time { return now }, Location: loc}, logx.Nop())
	assert.Equal(t, 1, s.Check(context.Background()))
}

func TestFormatTasksAnnotations(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	got := FormatTasks([]model.Task{
		{Title: "late", Priority: 4, DueDate: now.Add(-time.Hour)},
		{Title: "today", Priority: 3, DueDate: now.Add(2 * time.Hour)},
		{Title: "soon", Priority: 0, DueDate: now.Add(48 * time.Hour), Labels: []model.Label{{Title: "ops"}, {Title: "infra"}}},
		{Title: "later", Priority: 1, DueDate: now.Add(10 * 24 * time.Hour)},
	}, now)

	assert.Equal(t,
		"🟠 late (⚠️ overdue)\n"+
			"🟡 today (📅 due today 14:00)\n"+
			"▫️ soon (⏳ due Fri 12:00) [ops, infra]\n"+
			"⚪ later",
		got)
}

func TestNormalizeHHMM(t *testing.T) {
	t.Parallel()
	tests := map[string]string{"8:05": "08:05", "23:59": "23:59", " 07:00 ": "07:00"}
	for in, want := range tests {
		got, err := NormalizeHHMM(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"24:00", "7", "07:5", "ab:cd", "07:60"} {
		_, err := NormalizeHHMM(bad)
		assert.Error(t, err, bad)
	}
}

func TestCheckRetriesFailedFetchSameDay(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 7, 1, 8, 30, 0, 0, time.UTC)
	store := &memConfigs{cfgs: []model.UserNotificationConfig{digestUser("u1", "08:30")}}
	tasks := &flakyTasks{}
	tasks.fail.Store(true)

	s := New(Deps{Configs: store, Tasks: tasks, Sender: &okSender{}, Now: func() time.Time { return now }, Location: time.UTC}, logx.Nop())

	assert.Zero(t, s.Check(context.Background()))
	assert.Zero(t, store.saves)

	now = now.Add(time.Minute)
	assert.Zero(t, s.Check(context.Background()), "still failing")

	tasks.fail.Store(false)
	now = now.Add(time.Minute)
	assert.Equal(t, 1, s.Check(context.Background()), "caught up later the same day")
	assert.Equal(t, now, store.cfgs[0].Digests[0].LastPushTime)

	now = now.Add(time.Minute)
	assert.Zero(t, s.Check(context.Background()))
}

func TestCheckOwedSendExpiresAtMidnight(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 7, 1, 23, 59, 0, 0, time.UTC)
	store := &memConfigs{cfgs: []model.UserNotificationConfig{digestUser("u1", "23:59")}}
	tasks := &flakyTasks{}
	tasks.fail.Store(true)

	s := New(Deps{Configs: store, Tasks: tasks, Sender: &okSender{}, Now: func() time.Time { return now }, Location: time.UTC}, logx.Nop())
	assert.Zero(t, s.Check(context.Background()))

	tasks.fail.Store(false)
	now = now.Add(time.Minute)
	assert.Zero(t, s.Check(context.Background()), "a new day waits for its own push time")
	assert.EqualValues(t, 1, tasks.calls.Load())
}

func TestCheckKeepsConcurrentConfigEdits(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 7, 1, 8, 30, 0, 0, time.UTC)
	store := &memConfigs{cfgs: []model.UserNotificationConfig{digestUser("u1", "08:30")}}
	sender := &editingSender{}
	sender.onSend = func() {
		store.mu.Lock()
		defer store.mu.Unlock()
		c := &store.cfgs[0]
		c.Providers = []model.ProviderConfig{{ProviderType: "bark", Settings: map[string]string{"deviceKey": "rotated"}}}
		c.Digests = append(append([]model.ScheduledDigestConfig(nil), c.Digests...),
			model.ScheduledDigestConfig{ID: "evening", UserID: "u1", Enabled: true, PushTime: "18:00"})
	}

	s := New(Deps{Configs: store, Tasks: &staticTasks{}, Sender: sender, Now: func() time.Time { return now }, Location: time.UTC}, logx.Nop())
	require.Equal(t, 1, s.Check(context.Background()))

	got := store.cfgs[0]
	assert.Equal(t, "rotated", got.Providers[0].Settings["deviceKey"])
	require.Len(t, got.Digests, 2)
	assert.Equal(t, now, got.Digests[0].LastPushTime)
	assert.True(t, got.Digests[1].LastPushTime.IsZero())
}
