package router

import (
	"context"
	"sync"

	"taskpush/internal/model"
	"taskpush/pkg/logx"
)

// enrichment builds the template context of one event at most once, no
// matter how many user pipelines ask for it. Each caller gets its own copy.
type enrichment struct {
	router *Router
	ev     model.WebhookEvent

	once sync.Once
	base model.TemplateContext
}

func (e *enrichment) context(ctx context.Context) *model.TemplateContext {
	e.once.Do(func() { e.base = e.build(ctx) })
	cp := e.base
	cp.Assignees = append([]string(nil), e.base.Assignees...)
	cp.Labels = append([]string(nil), e.base.Labels...)
	return &cp
}

func (e *enrichment) build(ctx context.Context) model.TemplateContext {
	ev := e.ev
	log := e.router.log.With(logx.String("event", ev.EventType))
	out := model.TemplateContext{
		Event:      model.EventData{Type: ev.EventType, Timestamp: ev.Timestamp},
		User:       ev.Doer,
		Team:       ev.Team,
		Label:      ev.Label,
		Comment:    ev.Comment,
		Attachment: ev.Attachment,
		Relation:   ev.Relation,
	}
	enr := e.router.deps.Enricher

	if ev.HasTask() {
		var task *model.Task
		if enr != nil {
			t, err := enr.GetTask(ctx, ev.TaskID)
			if err != nil {
				log.Debug("enrich task failed", logx.Int64("task", ev.TaskID), logx.Err(err))
			} else {
				task = t
			}
		}
		if task == nil {
			task = ev.Task
		}
		out.Task = task

		if enr != nil {
			if names, err := enr.GetTaskAssignees(ctx, ev.TaskID); err != nil {
				log.Debug("enrich assignees failed", logx.Int64("task", ev.TaskID), logx.Err(err))
			} else {
				out.Assignees = names
			}
			if names, err := enr.GetTaskLabels(ctx, ev.TaskID); err != nil {
				log.Debug("enrich labels failed", logx.Int64("task", ev.TaskID), logx.Err(err))
			} else {
				out.Labels = names
			}
		}
		if out.Assignees == nil && task != nil {
			for _, u := range task.Assignees {
				out.Assignees = append(out.Assignees, u.DisplayName())
			}
		}
		if out.Labels == nil && task != nil {
			for _, l := range task.Labels {
				out.Labels = append(out.Labels, l.Title)
			}
		}
	}

	projectID := ev.ProjectID
	if projectID <= 0 && out.Task != nil {
		projectID = out.Task.ProjectID
	}
	if projectID > 0 && enr != nil {
		p, err := enr.GetProject(ctx, projectID)
		if err != nil {
			log.Debug("enrich project failed", logx.Int64("project", projectID), logx.Err(err))
		} else {
			out.Project = p
		}
	}
	if out.Project == nil && ev.Project != nil {
		out.Project = ev.Project
	}

	if links := e.router.deps.Links; links != nil {
		switch {
		case out.Task != nil && out.Task.ID > 0:
			out.Event.URL = links.TaskURL(out.Task.ID)
		case ev.TaskID > 0:
			out.Event.URL = links.TaskURL(ev.TaskID)
		case projectID > 0:
			out.Event.URL = links.ProjectURL(projectID)
		}
	}
	return out
}
