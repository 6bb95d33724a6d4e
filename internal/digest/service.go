// Package digest sends each user's once-a-day summary of open tasks.
package digest

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"taskpush/internal/eventbus"
	"taskpush/internal/history"
	"taskpush/internal/model"
	"taskpush/internal/provider"
	"taskpush/internal/template"
	"taskpush/pkg/logx"
)

const (
	defaultTitle = "📋 Daily digest {{date}}: {{count}} open tasks"
	defaultBody  = "{{tasks}}"
	emptyTitle   = "📋 Daily digest {{date}}"
	emptyBody    = "Nothing due. Enjoy your day! 🎉"
	dateLayout   = "2006-01-02"
	soonWindow   = 72 * time.Hour
)

type ConfigStore interface {
	LoadAllConfigs(ctx context.Context) ([]model.UserNotificationConfig, error)
	LoadConfig(ctx context.Context, userID string) (model.UserNotificationConfig, error)
	SaveConfig(ctx context.Context, cfg model.UserNotificationConfig) error
}

type TaskSource interface {
	ListUndoneTasks(ctx context.Context) ([]model.Task, error)
}

type Sender interface {
	Send(ctx context.Context, providerType string, settings map[string]string, msg provider.Message) model.ProviderResult
}

type Deps struct {
	Configs  ConfigStore
	Tasks    TaskSource
	Sender   Sender
	Renderer *template.Engine
	History  *history.Store[model.DigestRecord]
	Bus      eventbus.Bus
	Now      func() time.Time
	Location *time.Location
}

type Service struct {
	deps Deps
	log  logx.Logger

	mu       sync.Mutex
	lastSent map[string]string // user/digest id -> local date
	owed     map[string]string // user/digest id -> local date of a failed send
}

func New(deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Renderer == nil {
		deps.Renderer = template.New(log, template.WithLocation(deps.Location))
	}
	if deps.History == nil {
		deps.History = history.New[model.DigestRecord](history.DefaultCapacity)
	}
	return &Service{deps: deps, log: log.With(logx.String("comp", "digest")), lastSent: map[string]string{}, owed: map[string]string{}}
}

func (s *Service) History() *history.Store[model.DigestRecord] { return s.deps.History }

// Check sends every enabled digest scheduled for the current local minute
// that has not gone out today. It returns the number of digests sent.
func (s *Service) Check(ctx context.Context) int {
	now := s.deps.Now().In(s.deps.Location)
	hhmm := now.Format("15:04")
	today := now.Format(dateLayout)

	cfgs, err := s.deps.Configs.LoadAllConfigs(ctx)
	if err != nil {
		s.log.Error("load user configs failed", logx.Err(err))
		return 0
	}

	tasks := &taskFetch{src: s.deps.Tasks}
	sent := 0
	for _, cfg := range cfgs {
		sent += s.checkUser(ctx, cfg, now, hhmm, today, tasks)
	}
	return sent
}

func (s *Service) checkUser(ctx context.Context, cfg model.UserNotificationConfig, now time.Time, hhmm, today string, tasks *taskFetch) (sent int) {
	log := s.log.With(logx.String("user", cfg.UserID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("digest pipeline panic",
				logx.String("panic", fmt.Sprint(r)),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	sentAt := map[string]time.Time{}
	for _, d := range cfg.Digests {
		if !d.Enabled {
			continue
		}
		at, err := NormalizeHHMM(d.PushTime)
		if err != nil {
			log.Warn("invalid digest push_time", logx.String("digest", d.ID), logx.String("push_time", d.PushTime))
			continue
		}
		if at != hhmm && !s.isOwed(cfg.UserID, d.ID, today) {
			continue
		}
		if s.sentToday(cfg.UserID, d, today) {
			continue
		}

		all, err := tasks.get(ctx)
		if err != nil {
			// Push time only matches one minute; keep retrying for the rest of the day.
			s.markOwed(cfg.UserID, d.ID, today)
			log.Error("list undone tasks failed, digest retried next tick",
				logx.String("digest", d.ID),
				logx.Err(err),
			)
			continue
		}
		rec := s.send(context.WithoutCancel(ctx), cfg, d, Filter(all, d.MinPriority, d.LabelIDs), now)
		s.deps.History.Add(rec)
		s.markSent(cfg.UserID, d.ID, today)
		sentAt[d.ID] = now
		sent++
		if s.deps.Bus != nil {
			s.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeDigestSent, Data: map[string]any{
				"user_id": cfg.UserID, "digest_id": d.ID, "task_count": rec.TaskCount,
			}})
		}
		log.Info("digest sent",
			logx.String("digest", d.ID),
			logx.Int("tasks", rec.TaskCount),
			logx.Bool("delivered", model.AnySucceeded(rec.Results)),
		)
	}
	if len(sentAt) > 0 {
		s.persistLastPush(ctx, cfg.UserID, sentAt, log)
	}
	return sent
}

// persistLastPush re-reads the user's config so edits made while the digest
// was sending survive, and only stamps last_push_time on the sent digests.
func (s *Service) persistLastPush(ctx context.Context, userID string, sentAt map[string]time.Time, log logx.Logger) {
	fresh, err := s.deps.Configs.LoadConfig(ctx, userID)
	if err != nil {
		log.Warn("reload config for last_push_time failed", logx.Err(err))
		return
	}
	fresh.Digests = append([]model.ScheduledDigestConfig(nil), fresh.Digests...)
	matched := false
	for i := range fresh.Digests {
		if at, ok := sentAt[fresh.Digests[i].ID]; ok {
			fresh.Digests[i].LastPushTime = at
			matched = true
		}
	}
	if !matched {
		return
	}
	if err := s.deps.Configs.SaveConfig(ctx, fresh); err != nil {
		log.Warn("persist digest last_push_time failed", logx.Err(err))
	}
}

func (s *Service) sentToday(userID string, d model.ScheduledDigestConfig, today string) bool {
	if !d.LastPushTime.IsZero() && d.LastPushTime.In(s.deps.Location).Format(dateLayout) == today {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSent[userID+"/"+d.ID] == today
}

func (s *Service) markSent(userID, digestID, today string) {
	s.mu.Lock()
	s.lastSent[userID+"/"+digestID] = today
	delete(s.owed, userID+"/"+digestID)
	s.mu.Unlock()
}

func (s *Service) markOwed(userID, digestID, today string) {
	s.mu.Lock()
	s.owed[userID+"/"+digestID] = today
	s.mu.Unlock()
}

// isOwed reports a send that failed earlier today. Entries from past days
// are dropped.
func (s *Service) isOwed(userID, digestID, today string) bool {
	key := userID + "/" + digestID
	s.mu.Lock()
	defer s.mu.Unlock()
	day, ok := s.owed[key]
	if ok && day != today {
		delete(s.owed, key)
		return false
	}
	return ok
}

func (s *Service) send(ctx context.Context, cfg model.UserNotificationConfig, d model.ScheduledDigestConfig, tasks []model.Task, now time.Time) model.DigestRecord {
	titleT, bodyT := d.TitleTemplate, d.BodyTemplate
	tasksBlock := FormatTasks(tasks, now)
	if len(tasks) == 0 {
		if titleT == "" {
			titleT = emptyTitle
		}
		if bodyT == "" || bodyT == defaultBody {
			bodyT = emptyBody
		}
		tasksBlock = emptyBody
	}
	if titleT == "" {
		titleT = defaultTitle
	}
	if bodyT == "" {
		bodyT = defaultBody
	}

	tctx := &model.TemplateContext{Event: model.EventData{Type: "digest", Timestamp: now}}
	vars := map[string]string{
		"count": fmt.Sprint(len(tasks)),
		"date":  now.Format(dateLayout),
		"tasks": tasksBlock,
	}
	// Placeholders first, then the flat vars, so task titles are never expanded.
	title := template.RenderVars(s.deps.Renderer.Render(titleT, tctx), vars)
	body := template.RenderVars(s.deps.Renderer.Render(bodyT, tctx), vars)
	msg := provider.Message{Title: title, Body: body, Format: "text"}

	targets := s.targets(cfg, d)
	results := make([]model.ProviderResult, len(targets))
	var wg sync.WaitGroup
	for i, tg := range targets {
		if !tg.configured {
			results[i] = model.ProviderResult{
				ProviderType: tg.cfg.ProviderType,
				Message:      "Provider not configured for user",
				Timestamp:    s.deps.Now(),
			}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.deps.Sender.Send(ctx, tg.cfg.ProviderType, tg.cfg.Settings, msg)
		}()
	}
	wg.Wait()

	return model.DigestRecord{
		ID:        model.NewID(),
		Timestamp: s.deps.Now(),
		UserID:    cfg.UserID,
		DigestID:  d.ID,
		TaskCount: len(tasks),
		Title:     title,
		Body:      body,
		Results:   results,
	}
}

type target struct {
	cfg        model.ProviderConfig
	configured bool
}

// targets looks the digest's provider names up in the user's configuration.
// With no names it falls back to the user's defaults, then all providers.
func (s *Service) targets(cfg model.UserNotificationConfig, d model.ScheduledDigestConfig) []target {
	if len(d.Providers) == 0 {
		pcs, _ := cfg.ResolveProviders(nil)
		out := make([]target, 0, len(pcs))
		for _, pc := range pcs {
			out = append(out, target{cfg: pc, configured: true})
		}
		return out
	}
	out := make([]target, 0, len(d.Providers))
	for _, name := range d.Providers {
		pc, ok := cfg.Provider(name)
		if !ok {
			pc = model.ProviderConfig{ProviderType: name}
		}
		out = append(out, target{cfg: pc, configured: ok})
	}
	return out
}

// taskFetch loads undone tasks at most once per tick.
type taskFetch struct {
	src   TaskSource
	done  bool
	tasks []model.Task
	err   error
}

func (f *taskFetch) get(ctx context.Context) ([]model.Task, error) {
	if f.done {
		return f.tasks, f.err
	}
	f.done = true
	if f.src == nil {
		return nil, nil
	}
	f.tasks, f.err = f.src.ListUndoneTasks(ctx)
	return f.tasks, f.err
}
