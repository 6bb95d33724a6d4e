// Package reminder keeps a live index of undone tasks and pushes reminders
// shortly before their start, due, end and explicit reminder times.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"taskpush/internal/eventbus"
	"taskpush/internal/history"
	"taskpush/internal/model"
	"taskpush/internal/provider"
	"taskpush/internal/template"
	"taskpush/pkg/logx"
)

var ErrNoTaskSource = errors.New("reminder: no task source configured")

type Config struct {
	Window      time.Duration
	Retention   time.Duration
	MaxSentKeys int
}

func DefaultConfig() Config {
	return Config{
		Window:      5 * time.Minute,
		Retention:   2 * time.Hour,
		MaxSentKeys: 10000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	if c.MaxSentKeys <= 0 {
		c.MaxSentKeys = def.MaxSentKeys
	}
	return c
}

type ConfigLoader interface {
	LoadAllConfigs(ctx context.Context) ([]model.UserNotificationConfig, error)
}

// TaskSource is only needed to populate the index at startup.
type TaskSource interface {
	ListProjects(ctx context.Context) ([]model.Project, error)
	ListTasks(ctx context.Context, projectID int64) ([]model.Task, error)
}

type Sender interface {
	Send(ctx context.Context, providerType string, settings map[string]string, msg provider.Message) model.ProviderResult
}

type Links interface {
	TaskURL(id int64) string
}

type Deps struct {
	Configs     ConfigLoader
	Tasks       TaskSource
	Sender      Sender
	Renderer    *template.Engine
	Pending     *PendingStore
	Sent        *SentKeys
	History     *history.Store[model.ReminderRecord]
	PushHistory *history.Store[model.PushRecord]
	Links       Links
	Bus         eventbus.Bus
	Now         func() time.Time
}

type Engine struct {
	deps Deps
	log  logx.Logger

	mu  sync.RWMutex
	cfg Config

	inactive atomic.Bool
}

func New(cfg Config, deps Deps, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Pending == nil {
		deps.Pending = NewPendingStore()
	}
	if deps.Sent == nil {
		deps.Sent = NewSentKeys()
	}
	if deps.Renderer == nil {
		deps.Renderer = template.New(log)
	}
	if deps.History == nil {
		deps.History = history.New[model.ReminderRecord](history.DefaultCapacity)
	}
	return &Engine{deps: deps, cfg: cfg.withDefaults(), log: log.With(logx.String("comp", "reminder"))}
}

func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

// SetActive switches index feeding on or off. An inactive engine ignores
// task events and Initialize is a no-op.
func (e *Engine) SetActive(on bool) { e.inactive.Store(!on) }

func (e *Engine) Active() bool { return !e.inactive.Load() }

func (e *Engine) config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func (e *Engine) History() *history.Store[model.ReminderRecord] { return e.deps.History }

// Initialize walks every project's tasks and indexes the undone ones.
// Calling it again just upserts again. A failing project is logged and skipped.
func (e *Engine) Initialize(ctx context.Context) (int, error) {
	if !e.Active() {
		return 0, nil
	}
	if e.deps.Tasks == nil {
		return 0, ErrNoTaskSource
	}
	projects, err := e.deps.Tasks.ListProjects(ctx)
	if err != nil {
		return 0, fmt.Errorf("list projects: %w", err)
	}
	indexed := 0
	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		tasks, err := e.deps.Tasks.ListTasks(ctx, p.ID)
		if err != nil {
			e.log.Warn("list project tasks failed", logx.Int64("project", p.ID), logx.Err(err))
			continue
		}
		for _, t := range tasks {
			if t.Done {
				continue
			}
			e.deps.Pending.Upsert(pendingFrom(t, &p))
			indexed++
		}
	}
	e.log.Info("reminder index initialized",
		logx.Int("projects", len(projects)),
		logx.Int("pending", e.deps.Pending.Len()),
	)
	return indexed, nil
}

func (e *Engine) OnTaskCreated(task model.Task, project *model.Project) {
	e.OnTaskUpdated(task, project)
}

// OnTaskUpdated re-indexes an undone task or drops a completed one.
func (e *Engine) OnTaskUpdated(task model.Task, project *model.Project) {
	if task.ID <= 0 || !e.Active() {
		return
	}
	if task.Done {
		if e.deps.Pending.Remove(task.ID) {
			e.log.Debug("task done, removed from index", logx.Int64("task", task.ID))
		}
		return
	}
	if project == nil {
		if prev, ok := e.deps.Pending.Get(task.ID); ok && prev.ProjectID == task.ProjectID {
			project = &model.Project{ID: prev.ProjectID, Title: prev.ProjectTitle}
		}
	}
	e.deps.Pending.Upsert(pendingFrom(task, project))
}

func (e *Engine) OnTaskDeleted(taskID int64) {
	if !e.Active() {
		return
	}
	e.deps.Pending.Remove(taskID)
}

func (e *Engine) Pending() []model.PendingTaskReminder { return e.deps.Pending.Snapshot() }

func (e *Engine) SentKeyCount() int { return e.deps.Sent.Len() }

// Close drops all in-memory state. In-flight sends are not waited for.
func (e *Engine) Close() {
	e.deps.Pending.Clear()
	e.deps.Sent.Clear()
}

func pendingFrom(t model.Task, p *model.Project) model.PendingTaskReminder {
	out := model.PendingTaskReminder{
		TaskID:    t.ID,
		Title:     t.Title,
		ProjectID: t.ProjectID,
		StartDate: t.StartDate,
		DueDate:   t.DueDate,
		EndDate:   t.EndDate,
		Reminders: append([]time.Time(nil), t.Reminders...),
		LabelIDs:  t.LabelIDs(),
		Priority:  t.Priority,
	}
	if p != nil {
		if out.ProjectID == 0 {
			out.ProjectID = p.ID
		}
		out.ProjectTitle = p.Title
	}
	return out
}

// Scan fires every trigger due within the window and returns how many fired.
// Keys are only marked once the user configs are in hand, so a failed load
// leaves the triggers eligible for the next scan.
func (e *Engine) Scan(ctx context.Context) int {
	cfg := e.config()
	now := e.deps.Now()

	var candidates []dueTrigger
	for _, p := range e.deps.Pending.Snapshot() {
		for _, tr := range p.Triggers() {
			d := tr.At.Sub(now)
			if d < 0 || d > cfg.Window {
				continue
			}
			key := model.NewSentReminderKey(p.TaskID, tr.Kind, tr.At)
			if e.deps.Sent.Has(key) {
				continue
			}
			candidates = append(candidates, dueTrigger{task: p, trigger: tr, key: key})
		}
	}
	if len(candidates) == 0 {
		return 0
	}

	cfgs, err := e.deps.Configs.LoadAllConfigs(ctx)
	if err != nil {
		e.log.Error("load user configs failed, retrying next scan",
			logx.Int("due", len(candidates)),
			logx.Err(err),
		)
		return 0
	}

	due := candidates[:0]
	for _, dt := range candidates {
		if e.deps.Sent.MarkIfAbsent(dt.key, now) {
			due = append(due, dt)
		}
	}
	// Nobody is waiting on these sends.
	sendCtx := context.WithoutCancel(ctx)
	for _, dt := range due {
		e.fire(sendCtx, dt, cfgs)
	}
	return len(due)
}

type dueTrigger struct {
	task    model.PendingTaskReminder
	trigger model.Trigger
	key     model.SentReminderKey
}

func (e *Engine) fire(ctx context.Context, dt dueTrigger, cfgs []model.UserNotificationConfig) {
	log := e.log.With(
		logx.Int64("task", dt.task.TaskID),
		logx.String("kind", dt.trigger.Kind),
		logx.Time("at", dt.trigger.At),
	)
	if e.deps.Bus != nil {
		e.deps.Bus.Publish(eventbus.Event{
			Type: eventbus.TypeReminderFired,
			Data: map[string]any{"task_id": dt.task.TaskID, "kind": dt.trigger.Kind},
		})
	}

	var wg sync.WaitGroup
	for _, cfg := range cfgs {
		if !cfg.Reminder.Enabled || !cfg.Reminder.MatchesLabels(dt.task.LabelIDs) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error("reminder pipeline panic",
						logx.String("user", cfg.UserID),
						logx.String("panic", fmt.Sprint(r)),
						logx.String("stack", string(debug.Stack())),
					)
				}
			}()
			e.notifyUser(ctx, dt, cfg, log.With(logx.String("user", cfg.UserID)))
		}()
	}
	wg.Wait()
}

func (e *Engine) notifyUser(ctx context.Context, dt dueTrigger, cfg model.UserNotificationConfig, log logx.Logger) {
	targets, ok := cfg.ResolveProviders(cfg.Reminder.Providers)
	if !ok {
		log.Warn("no matching reminder providers, skipping user")
		return
	}

	tmpl := template.ReminderTemplate(cfg.Reminder, dt.trigger.Kind)
	tctx := e.templateContext(dt, tmpl.EventType)
	title := e.deps.Renderer.Render(tmpl.TitleTemplate, tctx)
	body := e.deps.Renderer.Render(tmpl.BodyTemplate, tctx)
	msg := provider.Message{Title: title, Body: body, Format: tmpl.Format, URL: tctx.Event.URL}

	results := make([]model.ProviderResult, len(targets))
	var wg sync.WaitGroup
	for i, pc := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = e.deps.Sender.Send(ctx, pc.ProviderType, pc.Settings, msg)
		}()
	}
	wg.Wait()

	now := e.deps.Now()
	e.deps.History.Add(model.ReminderRecord{
		ID:           model.NewID(),
		Timestamp:    now,
		UserID:       cfg.UserID,
		TaskID:       dt.task.TaskID,
		ReminderType: dt.trigger.Kind,
		Title:        title,
		Body:         body,
		Results:      results,
	})
	if e.deps.PushHistory != nil {
		e.deps.PushHistory.Add(model.PushRecord{
			ID:        model.NewID(),
			Timestamp: now,
			UserID:    cfg.UserID,
			EventType: tmpl.EventType,
			Title:     title,
			Body:      body,
			Format:    tmpl.Format,
			Results:   results,
		})
	}
	log.Info("reminder dispatched",
		logx.Int("providers", len(results)),
		logx.Bool("delivered", model.AnySucceeded(results)),
	)
}

func (e *Engine) templateContext(dt dueTrigger, eventType string) *model.TemplateContext {
	p := dt.task
	tctx := &model.TemplateContext{
		Task: &model.Task{
			ID:        p.TaskID,
			Title:     p.Title,
			ProjectID: p.ProjectID,
			StartDate: p.StartDate,
			DueDate:   p.DueDate,
			EndDate:   p.EndDate,
			Reminders: p.Reminders,
			Priority:  p.Priority,
		},
		Event: model.EventData{Type: eventType, Timestamp: dt.trigger.At},
	}
	if p.ProjectID > 0 || p.ProjectTitle != "" {
		tctx.Project = &model.Project{ID: p.ProjectID, Title: p.ProjectTitle}
	}
	if e.deps.Links != nil {
		tctx.Event.URL = e.deps.Links.TaskURL(p.TaskID)
	}
	return tctx
}

// Cleanup forgets sent keys past retention, then enforces the hard cap by
// evicting the oldest. It returns the total number of keys dropped.
func (e *Engine) Cleanup() int {
	cfg := e.config()
	now := e.deps.Now()
	expired := e.deps.Sent.Expire(now.Add(-cfg.Retention))
	evicted := e.deps.Sent.EvictOldest(cfg.MaxSentKeys)
	if evicted > 0 {
		e.log.Warn("sent reminder keys over cap, evicted oldest",
			logx.Int("evicted", evicted),
			logx.Int("cap", cfg.MaxSentKeys),
		)
	}
	if expired > 0 || evicted > 0 {
		e.log.Debug("sent reminder keys cleaned",
			logx.Int("expired", expired),
			logx.Int("remaining", e.deps.Sent.Len()),
		)
	}
	return expired + evicted
}
