package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpush/internal/config"
	"taskpush/internal/model"
	"taskpush/internal/runtime/supervisor"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestMapPolicyDefaultsAndOverrides(t *testing.T) {
	t.Parallel()
	p, err := mapPolicy(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Zero(t, p.MaxAttempts, "left for the dispatcher to default")

	p, err = mapPolicy(&config.Config{Dispatch: config.DispatchConfig{MaxAttempts: 5, RetryBase: "200ms", SendTimeout: "3s"}})
	require.NoError(t, err)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 3*time.Second, p.SendTimeout)
}

func TestMapReminderDefaults(t *testing.T) {
	t.Parallel()
	rs, err := mapReminder(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, defaultScanInterval, rs.ScanInterval)
	assert.Equal(t, defaultCleanupInterval, rs.CleanupInterval)

	_, err = mapReminder(&config.Config{Reminder: config.ReminderConfig{Window: "soon"}})
	assert.ErrorContains(t, err, "reminder.window")
}

func TestMapServer(t *testing.T) {
	t.Parallel()
	srv, opts, err := mapServer(&config.Config{Server: config.ServerConfig{
		WebhookSecret:  "s",
		ReadTimeout:    "2s",
		AllowedOrigins: []string{"https://ui.example"},
	}})
	require.NoError(t, err)
	assert.Equal(t, defaultAddr, srv.Addr)
	assert.Equal(t, 2*time.Second, srv.ReadTimeout)
	assert.Equal(t, 30*time.Second, srv.WriteTimeout)
	assert.Equal(t, "s", opts.Secret)
	assert.Equal(t, []string{"https://ui.example"}, opts.AllowedOrigins)
}

func TestMapStorageCarriesSeed(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Storage: config.StorageConfig{Driver: " sqlite ", Path: "x.db"},
		Users:   []model.UserNotificationConfig{{UserID: "u1"}},
	}
	sc, err := mapStorage(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, 5*time.Second, sc.BusyTimeout)
	require.Len(t, sc.Seed, 1)
	assert.Equal(t, "u1", sc.Seed[0].UserID)
}

func TestHistorySizeAndSchedule(t *testing.T) {
	t.Parallel()
	assert.Equal(t, defaultHistorySize, historySize(0))
	assert.Equal(t, 7, historySize(7))
	assert.Equal(t, defaultDigestSchedule, digestSchedule(&config.Config{}))
	assert.Equal(t, "*/5 * * * *", digestSchedule(&config.Config{Digest: config.DigestConfig{Schedule: "*/5 * * * *"}}))
}

func TestNewWiresHTTPSurface(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{
		"logging": {"level": "error"},
		"task_api": {"base_url": "http://127.0.0.1:1/api/v1", "token": "t"},
		"storage": {"driver": "memory"},
		"users": [{"user_id": "u1", "providers": [{"provider_type": "bark", "settings": {"deviceKey": "k"}}]}]
	}`)

	a, err := New(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background(), StopAppStop) })

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/u1/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deviceKey":"k"`)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"digest.check"`)
	assert.Contains(t, rec.Body.String(), `"reminder.scan"`)
	assert.Contains(t, rec.Body.String(), `"bark"`)
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{"task_api": {"base_url": "http://x/api/v1"}, "dispatch": {"retry_base": "nope"}}`)
	_, err := New(context.Background(), path)
	assert.ErrorContains(t, err, "dispatch.retry_base")
}

func TestMapPprofRejectsOpenBind(t *testing.T) {
	t.Parallel()
	_, err := mapPprof(&config.Config{Debug: config.DebugConfig{PprofAddr: ":6060"}})
	assert.Error(t, err)

	pc, err := mapPprof(&config.Config{Debug: config.DebugConfig{PprofAddr: ":6060", PprofToken: "t"}})
	require.NoError(t, err)
	assert.True(t, pc.Enabled())

	pc, err = mapPprof(&config.Config{})
	require.NoError(t, err)
	assert.False(t, pc.Enabled())
}

// fakeTaskAPI serves one project with one undone task and 404s the rest.
func fakeTaskAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/projects":
			_, _ = w.Write([]byte(`[{"id": 7, "title": "Work"}]`))
		case "/api/v1/tasks/all":
			_, _ = w.Write([]byte(`[{"id": 99, "title": "Review", "project_id": 7, "done": false, "due_date": "2099-01-01T10:00:00Z"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

const taskCreatedEvent = `{
	"event_name": "task.created",
	"time": "2026-07-01T08:59:00Z",
	"data": {"task": {"id": 42, "title": "Ship", "project_id": 7, "due_date": "2099-07-01T10:00:00Z"}}
}`

func pendingIDs(t *testing.T, a *App) []int64 {
	t.Helper()
	var ids []int64
	for _, p := range a.reminders.Pending() {
		ids = append(ids, p.TaskID)
	}
	return ids
}

func TestReloadEnablingRemindersFeedsIndex(t *testing.T) {
	t.Parallel()
	api := fakeTaskAPI(t)
	path := writeConfig(t, `{
		"logging": {"level": "error"},
		"task_api": {"base_url": "`+api.URL+`/api/v1"},
		"storage": {"driver": "memory"},
		"reminder": {"enabled": false}
	}`)

	a, err := New(context.Background(), path)
	require.NoError(t, err)
	a.sup = supervisor.New(context.Background())
	t.Cleanup(func() { _ = a.Stop(context.Background(), StopAppStop) })

	post := func() {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(taskCreatedEvent)))
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}

	post()
	assert.Empty(t, a.reminders.Pending(), "disabled reminders ignore lifecycle events")
	assert.NotContains(t, jobNames(a), jobReminderScan)

	oldCfg := a.cfgm.Get()
	next := *oldCfg
	on := true
	next.Reminder.Enabled = &on
	a.applyConfig(oldCfg, &next)

	assert.Contains(t, jobNames(a), jobReminderScan)
	assert.Eventually(t, func() bool {
		ids := pendingIDs(t, a)
		return len(ids) == 1 && ids[0] == 99
	}, 5*time.Second, 20*time.Millisecond, "startup population runs after enabling")

	post()
	assert.ElementsMatch(t, []int64{42, 99}, pendingIDs(t, a))

	off := false
	last := next
	last.Reminder.Enabled = &off
	a.applyConfig(&next, &last)
	assert.Empty(t, a.reminders.Pending())
	assert.NotContains(t, jobNames(a), jobReminderScan)
}

func jobNames(a *App) []string {
	var names []string
	for _, s := range a.sched.Snapshot().Schedules {
		names = append(names, s.Name)
	}
	return names
}
