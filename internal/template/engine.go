// Package template renders {{category.property}} placeholders against a
// model.TemplateContext.
package template

import (
	"fmt"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"taskpush/internal/model"
	"taskpush/pkg/logx"
)

const timeLayout = "2006-01-02 15:04"

var placeholderRe = regexp.MustCompile(
	`\{\{\s*(task|project|user|event|assignees|assignee|labels|label|team|comment|attachment|relation)\.([A-Za-z_]+)\s*\}\}`,
)

type Engine struct {
	log logx.Logger
	loc *time.Location
	// resolve maps one placeholder to its text; replaceable in tests.
	resolve func(ctx *model.TemplateContext, category, prop string) string
}

type Option func(*Engine)

// WithLocation sets the zone dates are printed in. Default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func New(log logx.Logger, opts ...Option) *Engine {
	e := &Engine{log: log.With(logx.String("comp", "template")), loc: time.UTC}
	e.resolve = e.lookup
	for _, o := range opts {
		o(e)
	}
	return e
}

// Render replaces every known placeholder in a single pass. Unknown
// properties and absent sub-records render as "". If a lookup panics the
// template is returned unchanged.
func (e *Engine) Render(tmpl string, ctx *model.TemplateContext) (out string) {
	if tmpl == "" || !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	if ctx == nil {
		ctx = &model.TemplateContext{}
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("template render panic",
				logx.String("panic", fmt.Sprint(r)),
				logx.String("stack", string(debug.Stack())),
			)
			out = tmpl
		}
	}()
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		return e.resolve(ctx, sub[1], sub[2])
	})
}

// RenderVars replaces flat {{name}} tokens from vars. Tokens not in vars are
// left alone so a later Render pass can still see them.
func RenderVars(tmpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func (e *Engine) lookup(ctx *model.TemplateContext, category, prop string) string {
	switch category {
	case "task":
		return e.taskProp(ctx.Task, prop)
	case "project":
		return e.projectProp(ctx.Project, prop)
	case "user":
		return userProp(ctx.User, prop)
	case "event":
		return e.eventProp(ctx.Event, prop)
	case "assignees", "assignee":
		return listProp(ctx.Assignees, prop)
	case "labels", "label":
		if category == "label" && ctx.Label != nil {
			if v, ok := labelProp(ctx.Label, prop); ok {
				return v
			}
		}
		return listProp(ctx.Labels, prop)
	case "team":
		return teamProp(ctx.Team, prop)
	case "comment":
		return e.commentProp(ctx.Comment, prop)
	case "attachment":
		return e.attachmentProp(ctx.Attachment, prop)
	case "relation":
		return relationProp(ctx.Relation, prop)
	}
	return ""
}

func (e *Engine) formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(e.loc).Format(timeLayout)
}

func (e *Engine) taskProp(t *model.Task, prop string) string {
	if t == nil {
		return ""
	}
	switch prop {
	case "id":
		return strconv.FormatInt(t.ID, 10)
	case "title":
		return t.Title
	case "description":
		return t.Description
	case "done":
		return strconv.FormatBool(t.Done)
	case "due_date", "dueDate":
		return e.formatTime(t.DueDate)
	case "start_date", "startDate":
		return e.formatTime(t.StartDate)
	case "end_date", "endDate":
		return e.formatTime(t.EndDate)
	case "done_at", "doneAt":
		return e.formatTime(t.DoneAt)
	case "priority":
		return strconv.Itoa(t.Priority)
	case "percent_done", "percentDone":
		return strconv.Itoa(int(t.PercentDone*100)) + "%"
	case "identifier":
		return t.Identifier
	case "index":
		return strconv.FormatInt(t.Index, 10)
	case "project_id", "projectId":
		return strconv.FormatInt(t.ProjectID, 10)
	case "hex_color", "hexColor":
		return t.HexColor
	case "created":
		return e.formatTime(t.Created)
	case "updated":
		return e.formatTime(t.Updated)
	case "created_by", "createdBy":
		if t.CreatedBy == nil {
			return ""
		}
		return t.CreatedBy.DisplayName()
	}
	return ""
}

func (e *Engine) projectProp(p *model.Project, prop string) string {
	if p == nil {
		return ""
	}
	switch prop {
	case "id":
		return strconv.FormatInt(p.ID, 10)
	case "title", "name":
		return p.Title
	case "description":
		return p.Description
	case "identifier":
		return p.Identifier
	case "hex_color", "hexColor":
		return p.HexColor
	case "archived", "is_archived":
		return strconv.FormatBool(p.IsArchived)
	case "owner":
		if p.Owner == nil {
			return ""
		}
		return p.Owner.DisplayName()
	case "created":
		return e.formatTime(p.Created)
	case "updated":
		return e.formatTime(p.Updated)
	}
	return ""
}

func userProp(u *model.User, prop string) string {
	if u == nil {
		return ""
	}
	switch prop {
	case "id":
		return strconv.FormatInt(u.ID, 10)
	case "username":
		return u.Username
	case "name", "display_name", "displayName":
		return u.DisplayName()
	case "email":
		return u.Email
	}
	return ""
}

func (e *Engine) eventProp(ev model.EventData, prop string) string {
	switch prop {
	case "type", "name":
		return ev.Type
	case "timestamp", "time":
		return e.formatTime(ev.Timestamp)
	case "url", "link":
		return ev.URL
	}
	return ""
}

func listProp(items []string, prop string) string {
	switch prop {
	case "list", "names", "all":
		return strings.Join(items, ", ")
	case "count":
		return strconv.Itoa(len(items))
	case "first", "name", "title":
		if len(items) == 0 {
			return ""
		}
		return items[0]
	}
	return ""
}

func labelProp(l *model.Label, prop string) (string, bool) {
	switch prop {
	case "id":
		return strconv.FormatInt(l.ID, 10), true
	case "title", "name":
		return l.Title, true
	case "description":
		return l.Description, true
	case "hex_color", "hexColor":
		return l.HexColor, true
	}
	return "", false
}

func teamProp(t *model.Team, prop string) string {
	if t == nil {
		return ""
	}
	switch prop {
	case "id":
		return strconv.FormatInt(t.ID, 10)
	case "name", "title":
		return t.Name
	case "description":
		return t.Description
	}
	return ""
}

func (e *Engine) commentProp(c *model.Comment, prop string) string {
	if c == nil {
		return ""
	}
	switch prop {
	case "id":
		return strconv.FormatInt(c.ID, 10)
	case "comment", "text", "body":
		return c.Comment
	case "author":
		if c.Author == nil {
			return ""
		}
		return c.Author.DisplayName()
	case "created":
		return e.formatTime(c.Created)
	}
	return ""
}

func (e *Engine) attachmentProp(a *model.Attachment, prop string) string {
	if a == nil {
		return ""
	}
	switch prop {
	case "id":
		return strconv.FormatInt(a.ID, 10)
	case "file_name", "fileName", "name":
		return a.FileName
	case "size":
		return strconv.FormatInt(a.Size, 10)
	case "created_by", "createdBy":
		if a.CreatedBy == nil {
			return ""
		}
		return a.CreatedBy.DisplayName()
	case "created":
		return e.formatTime(a.Created)
	}
	return ""
}

func relationProp(r *model.Relation, prop string) string {
	if r == nil {
		return ""
	}
	switch prop {
	case "task_id", "taskId":
		return strconv.FormatInt(r.TaskID, 10)
	case "other_task_id", "otherTaskId":
		return strconv.FormatInt(r.OtherTaskID, 10)
	case "kind", "relation_kind", "relationKind":
		return r.RelationKind
	}
	return ""
}
