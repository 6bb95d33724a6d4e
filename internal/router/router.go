// Package router turns inbound task-service events into per-user pushes.
package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"taskpush/internal/history"
	"taskpush/internal/model"
	"taskpush/internal/provider"
	"taskpush/internal/template"
	"taskpush/pkg/logx"
)

type ConfigLoader interface {
	LoadAllConfigs(ctx context.Context) ([]model.UserNotificationConfig, error)
}

// Enricher fetches entity detail. Any call may fail; the router treats a
// failure as "absent".
type Enricher interface {
	GetProject(ctx context.Context, id int64) (*model.Project, error)
	GetTask(ctx context.Context, id int64) (*model.Task, error)
	GetTaskAssignees(ctx context.Context, id int64) ([]string, error)
	GetTaskLabels(ctx context.Context, id int64) ([]string, error)
}

type Sender interface {
	Send(ctx context.Context, providerType string, settings map[string]string, msg provider.Message) model.ProviderResult
}

// Links builds frontend URLs for rendered messages.
type Links interface {
	TaskURL(id int64) string
	ProjectURL(id int64) string
}

type Deps struct {
	Configs  ConfigLoader
	Enricher Enricher
	Sender   Sender
	Renderer *template.Engine
	History  *history.Store[model.PushRecord]
	Links    Links
	Now      func() time.Time
}

type Router struct {
	deps Deps
	log  logx.Logger
}

func New(deps Deps, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Renderer == nil {
		deps.Renderer = template.New(log)
	}
	if deps.History == nil {
		deps.History = history.New[model.PushRecord](history.DefaultCapacity)
	}
	return &Router{deps: deps, log: log.With(logx.String("comp", "router"))}
}

func (r *Router) History() *history.Store[model.PushRecord] { return r.deps.History }

// Route runs one isolated pipeline per configured user and waits for all of
// them. It returns the records appended to the push history.
func (r *Router) Route(ctx context.Context, ev model.WebhookEvent) []model.PushRecord {
	log := r.log.With(logx.String("event", ev.EventType))

	cfgs, err := r.deps.Configs.LoadAllConfigs(ctx)
	if err != nil {
		log.Error("load user configs failed", logx.Err(err))
		return nil
	}
	if len(cfgs) == 0 {
		log.Debug("no user configs, nothing to route")
		return nil
	}

	enr := &enrichment{router: r, ev: ev}

	var (
		mu      sync.Mutex
		records []model.PushRecord
		wg      sync.WaitGroup
	)
	for _, cfg := range cfgs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("user pipeline panic",
						logx.String("user", cfg.UserID),
						logx.String("panic", fmt.Sprint(rec)),
						logx.String("stack", string(debug.Stack())),
					)
				}
			}()
			if rec, ok := r.routeUser(ctx, cfg, enr, log); ok {
				mu.Lock()
				records = append(records, rec)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return records
}

func (r *Router) routeUser(ctx context.Context, cfg model.UserNotificationConfig, enr *enrichment, log logx.Logger) (model.PushRecord, bool) {
	log = log.With(logx.String("user", cfg.UserID))

	tctx := enr.context(ctx)
	tmpl := template.Select(cfg, enr.ev.EventType)
	title := r.deps.Renderer.Render(tmpl.TitleTemplate, tctx)
	body := r.deps.Renderer.Render(tmpl.BodyTemplate, tctx)

	targets, ok := cfg.ResolveProviders(tmpl.Providers)
	if !ok {
		log.Warn("no matching providers, skipping user",
			logx.Strings("requested", tmpl.Providers),
			logx.Strings("defaults", cfg.DefaultProviders),
		)
		return model.PushRecord{}, false
	}

	msg := provider.Message{Title: title, Body: body, Format: tmpl.Format, URL: tctx.Event.URL}
	results := make([]model.ProviderResult, len(targets))
	var wg sync.WaitGroup
	for i, pc := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("provider send panic",
						logx.String("provider", pc.ProviderType),
						logx.String("panic", fmt.Sprint(rec)),
					)
					results[i] = model.ProviderResult{
						ProviderType: pc.ProviderType,
						Message:      fmt.Sprintf("panic: %v", rec),
						Timestamp:    r.deps.Now(),
					}
				}
			}()
			results[i] = r.deps.Sender.Send(ctx, pc.ProviderType, pc.Settings, msg)
		}()
	}
	wg.Wait()

	rec := model.PushRecord{
		ID:        model.NewID(),
		Timestamp: r.deps.Now(),
		UserID:    cfg.UserID,
		EventType: enr.ev.EventType,
		Title:     title,
		Body:      body,
		Format:    tmpl.Format,
		Results:   results,
	}
	r.deps.History.Add(rec)
	log.Info("push dispatched",
		logx.Int("providers", len(results)),
		logx.Bool("delivered", model.AnySucceeded(results)),
	)
	return rec, true
}
