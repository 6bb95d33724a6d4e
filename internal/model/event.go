package model

import (
	"strings"
	"time"
)

// WebhookEvent is created per inbound call and never mutated.
type WebhookEvent struct {
	EventType string
	Timestamp time.Time
	ProjectID int64
	TaskID    int64

	// Inline snapshots from the payload. Used only when enrichment fails.
	Task       *Task
	Project    *Project
	Doer       *User
	Team       *Team
	Comment    *Comment
	Attachment *Attachment
	Relation   *Relation
	Label      *Label
}

func (e WebhookEvent) HasTask() bool { return e.TaskID > 0 }

// IsTaskLifecycle reports whether the event changes a task's pending state.
func (e WebhookEvent) IsTaskLifecycle() bool {
	switch e.EventType {
	case EventTaskCreated, EventTaskUpdated, EventTaskDeleted:
		return true
	}
	return false
}

// Category is the event-type prefix ("task", "project", "team").
func (e WebhookEvent) Category() string {
	cat, _, _ := strings.Cut(e.EventType, ".")
	return cat
}

const (
	EventTaskCreated           = "task.created"
	EventTaskUpdated           = "task.updated"
	EventTaskDeleted           = "task.deleted"
	EventTaskAssigneeCreated   = "task.assignee.created"
	EventTaskCommentCreated    = "task.comment.created"
	EventTaskAttachmentCreated = "task.attachment.created"
	EventTaskRelationCreated   = "task.relation.created"
	EventProjectCreated        = "project.created"
	EventProjectUpdated        = "project.updated"
	EventProjectDeleted        = "project.deleted"
	EventTeamCreated           = "team.created"
	EventTeamDeleted           = "team.deleted"
	EventTeamMemberAdded       = "team.member.added"
)

type EventData struct {
	Type      string
	Timestamp time.Time
	URL       string
}

// TemplateContext is built fresh for each render. Event is always set.
type TemplateContext struct {
	Task       *Task
	Project    *Project
	User       *User
	Team       *Team
	Label      *Label
	Comment    *Comment
	Attachment *Attachment
	Relation   *Relation

	Event     EventData
	Assignees []string
	Labels    []string
}
