package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpush/internal/history"
	"taskpush/internal/model"
	"taskpush/internal/storage"
	"taskpush/pkg/logx"
)

type fakeRouter struct {
	mu     sync.Mutex
	events []model.WebhookEvent
	ctxErr error
	hist   *history.Store[model.PushRecord]
}

func (f *fakeRouter) Route(ctx context.Context, ev model.WebhookEvent) []model.PushRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	f.ctxErr = ctx.Err()
	rec := model.PushRecord{ID: "r1", EventType: ev.EventType}
	f.hist.Add(rec)
	return []model.PushRecord{rec}
}

func (f *fakeRouter) History() *history.Store[model.PushRecord] { return f.hist }

type fakeReminders struct {
	mu      sync.Mutex
	upserts []int64
	deletes []int64
	hist    *history.Store[model.ReminderRecord]
}

func (f *fakeReminders) OnTaskCreated(t model.Task, _ *model.Project) {
	f.mu.Lock()
	f.upserts = append(f.upserts, t.ID)
	f.mu.Unlock()
}

func (f *fakeReminders) OnTaskUpdated(t model.Task, p *model.Project) { f.OnTaskCreated(t, p) }

func (f *fakeReminders) OnTaskDeleted(id int64) {
	f.mu.Lock()
	f.deletes = append(f.deletes, id)
	f.mu.Unlock()
}

func (f *fakeReminders) Pending() []model.PendingTaskReminder {
	return []model.PendingTaskReminder{{TaskID: 1, Title: "a"}}
}

func (f *fakeReminders) History() *history.Store[model.ReminderRecord] { return f.hist }

type fakeTester struct{ ok bool }

func (f fakeTester) ValidateConfig(_ context.Context, cfg model.ProviderConfig) model.ProviderResult {
	return model.ProviderResult{ProviderType: cfg.ProviderType, Success: f.ok}
}

type fixture struct {
	srv       *Server
	router    *fakeRouter
	reminders *fakeReminders
	store     *storage.Memory
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		router:    &fakeRouter{hist: history.New[model.PushRecord](10)},
		reminders: &fakeReminders{hist: history.New[model.ReminderRecord](10)},
		store:     storage.NewMemory(),
	}
	f.srv = New(Deps{
		Router:    f.router,
		Reminders: f.reminders,
		Configs:   f.store,
		Tester:    fakeTester{ok: true},
		Status:    func() any { return map[string]int{"jobs": 3} },
		Now:       func() time.Time { return time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC) },
	}, opts, logx.Nop())
	return f
}

func (f *fixture) do(method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

const createdBody = `{
	"event_name": "task.created",
	"time": "2026-07-01T08:59:00Z",
	"data": {
		"task": {"id": 42, "title": "Ship", "project_id": 7, "due_date": "2026-07-01T10:00:00Z",
			"reminders": [{"reminder": "2026-07-01T09:30:00Z", "relative_period": 0, "relative_to": ""}]},
		"doer": {"id": 1, "username": "ann"}
	}
}`

func TestWebhookRoutesAndFeedsReminders(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	rec := f.do(http.MethodPost, "/webhook", createdBody, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		Event   string `json:"event"`
		Records int    `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "task.created", resp.Event)
	assert.Equal(t, 1, resp.Records)

	require.Len(t, f.router.events, 1)
	ev := f.router.events[0]
	assert.EqualValues(t, 42, ev.TaskID)
	assert.EqualValues(t, 7, ev.ProjectID)
	assert.Equal(t, "ann", ev.Doer.Username)
	require.Len(t, ev.Task.Reminders, 1)
	assert.NoError(t, f.router.ctxErr)
	assert.Equal(t, []int64{42}, f.reminders.upserts)

	rec = f.do(http.MethodPost, "/webhook", `{"event_name":"task.deleted","data":{"task":{"id":42}}}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []int64{42}, f.reminders.deletes)
}

func TestWebhookRoutePropagatesRequestCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{RouteTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(createdBody)).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	f.router.mu.Lock()
	defer f.router.mu.Unlock()
	assert.ErrorIs(t, f.router.ctxErr, context.Canceled)
}

func TestWebhookRejectsBadPayload(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/webhook", `{"data":{}}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/webhook", `not json`, nil).Code)
	assert.Empty(t, f.router.events)
}

func TestWebhookSignature(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{Secret: "s3cret"})

	rec := f.do(http.MethodPost, "/webhook", createdBody, map[string]string{SignatureHeader: "deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/webhook", createdBody, map[string]string{SignatureHeader: Sign("s3cret", []byte(createdBody))})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestWebhookRateLimit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{IngressRatePerSec: 0.001, IngressBurst: 1})
	assert.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/webhook", createdBody, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodPost, "/webhook", createdBody, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "", nil).Code, "ops routes are not limited")
}

func TestHistoryEndpoints(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	for range 3 {
		f.do(http.MethodPost, "/webhook", createdBody, nil)
	}

	rec := f.do(http.MethodGet, "/api/history/push?n=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pageResp historyPage[model.PushRecord]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pageResp))
	assert.EqualValues(t, 3, pageResp.Total)
	assert.Len(t, pageResp.Records, 2)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/history/push?n=x", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/history/nope", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/history/digests", "", nil).Code, "no digest service wired")

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/history/push", "", nil).Code)
	assert.Zero(t, f.router.hist.Len())
	assert.Zero(t, f.router.hist.TotalCount())
}

func TestPendingAndStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	rec := f.do(http.MethodGet, "/api/reminders/pending", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"task_id":1`)

	rec = f.do(http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jobs":3}`, rec.Body.String())
}

func TestUserConfigLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	rec := f.do(http.MethodGet, "/api/users/u1/config", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user_id":"u1"`)

	body := `{
		"providers": [{"provider_type": "bark", "settings": {"deviceKey": "k"}}],
		"reminder": {"enabled": true},
		"digests": [{"id": "am", "enabled": true, "push_time": "7:30", "min_priority": 2}]
	}`
	rec = f.do(http.MethodPut, "/api/users/u1/config", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	saved, err := f.store.LoadConfig(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, saved.Digests, 1)
	assert.Equal(t, "07:30", saved.Digests[0].PushTime)
	assert.Equal(t, "u1", saved.Digests[0].UserID)

	rec = f.do(http.MethodPost, "/api/users/u1/providers/bark/test", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodPost, "/api/users/u1/providers/telegram/test", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/users/u1/config", "", nil).Code)
	all, err := f.store.LoadAllConfigs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPutConfigValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	tests := map[string]string{
		"mismatched id": `{"user_id": "u2"}`,
		"bad push time": `{"digests": [{"id": "a", "push_time": "25:00"}]}`,
		"dup digest":    `{"digests": [{"id": "a", "push_time": "07:00"}, {"id": "a", "push_time": "08:00"}]}`,
		"bad priority":  `{"digests": [{"id": "a", "push_time": "07:00", "min_priority": 9}]}`,
		"no provider":   `{"providers": [{"settings": {}}]}`,
		"unknown field": `{"nope": 1}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := f.do(http.MethodPut, "/api/users/u1/config", body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}
