package template

import (
	"strings"

	"taskpush/internal/model"
)

// Fallback is used when neither the user nor the registry has a template.
var Fallback = model.NotificationTemplate{
	TitleTemplate: "{{event.type}}",
	BodyTemplate:  "Event occurred at {{event.timestamp}}",
	Format:        "text",
}

var defaults = map[string]model.NotificationTemplate{
	model.EventTaskCreated: {
		TitleTemplate: "New task: {{task.title}}",
		BodyTemplate:  "Project: {{project.title}}\nDue: {{task.due_date}}\nAssignees: {{assignees.list}}\n{{event.url}}",
	},
	model.EventTaskUpdated: {
		TitleTemplate: "Task updated: {{task.title}}",
		BodyTemplate:  "Project: {{project.title}}\nDone: {{task.done}}\nDue: {{task.due_date}}\n{{event.url}}",
	},
	model.EventTaskDeleted: {
		TitleTemplate: "Task deleted: {{task.title}}",
		BodyTemplate:  "Task #{{task.id}} was removed from {{project.title}}",
	},
	model.EventTaskAssigneeCreated: {
		TitleTemplate: "Task assigned: {{task.title}}",
		BodyTemplate:  "Assignees: {{assignees.list}}\n{{event.url}}",
	},
	model.EventTaskCommentCreated: {
		TitleTemplate: "New comment on {{task.title}}",
		BodyTemplate:  "{{comment.author}}: {{comment.comment}}\n{{event.url}}",
	},
	model.EventTaskAttachmentCreated: {
		TitleTemplate: "New attachment on {{task.title}}",
		BodyTemplate:  "{{attachment.file_name}} added by {{attachment.created_by}}",
	},
	model.EventTaskRelationCreated: {
		TitleTemplate: "Task relation added: {{task.title}}",
		BodyTemplate:  "#{{relation.task_id}} {{relation.kind}} #{{relation.other_task_id}}",
	},
	model.EventProjectCreated: {
		TitleTemplate: "New project: {{project.title}}",
		BodyTemplate:  "{{project.description}}\n{{event.url}}",
	},
	model.EventProjectUpdated: {
		TitleTemplate: "Project updated: {{project.title}}",
		BodyTemplate:  "{{project.description}}\n{{event.url}}",
	},
	model.EventProjectDeleted: {
		TitleTemplate: "Project deleted: {{project.title}}",
		BodyTemplate:  "Project #{{project.id}} was deleted",
	},
	model.EventTeamCreated: {
		TitleTemplate: "New team: {{team.name}}",
		BodyTemplate:  "{{team.description}}",
	},
	model.EventTeamDeleted: {
		TitleTemplate: "Team deleted: {{team.name}}",
		BodyTemplate:  "Team #{{team.id}} was deleted",
	},
	model.EventTeamMemberAdded: {
		TitleTemplate: "New member in {{team.name}}",
		BodyTemplate:  "{{user.name}} joined {{team.name}}",
	},
}

var reminderDefaults = map[string]model.NotificationTemplate{
	model.ReminderStart: {
		TitleTemplate: "⏰ Starting soon: {{task.title}}",
		BodyTemplate:  "Project: {{project.title}}\nStarts: {{task.start_date}}\n{{event.url}}",
	},
	model.ReminderDue: {
		TitleTemplate: "⏰ Due soon: {{task.title}}",
		BodyTemplate:  "Project: {{project.title}}\nDue: {{task.due_date}}\n{{event.url}}",
	},
	model.ReminderEnd: {
		TitleTemplate: "⏰ Ending soon: {{task.title}}",
		BodyTemplate:  "Project: {{project.title}}\nEnds: {{task.end_date}}\n{{event.url}}",
	},
	model.ReminderExplicit: {
		TitleTemplate: "🔔 Reminder: {{task.title}}",
		BodyTemplate:  "Project: {{project.title}}\nAt: {{event.timestamp}}\n{{event.url}}",
	},
}

// Default returns the built-in template for an event type.
func Default(eventType string) (model.NotificationTemplate, bool) {
	t, ok := defaults[eventType]
	if ok {
		t.EventType = eventType
		if t.Format == "" {
			t.Format = "text"
		}
	}
	return t, ok
}

// Select picks the user override, then the registry, then Fallback.
func Select(cfg model.UserNotificationConfig, eventType string) model.NotificationTemplate {
	if t, ok := cfg.Template(eventType); ok && (t.TitleTemplate != "" || t.BodyTemplate != "") {
		return t
	}
	if t, ok := Default(eventType); ok {
		return t
	}
	t := Fallback
	t.EventType = eventType
	return t
}

// ReminderTemplate picks the user's kind-specific template or the built-in one.
func ReminderTemplate(settings model.ReminderSettings, kind string) model.NotificationTemplate {
	if t, ok := settings.Templates[kind]; ok && (t.TitleTemplate != "" || t.BodyTemplate != "") {
		return t
	}
	t, ok := reminderDefaults[kind]
	if !ok {
		t = reminderDefaults[model.ReminderExplicit]
	}
	t.EventType = "reminder." + kind
	t.Format = "text"
	return t
}

var (
	commonPlaceholders  = []string{"event.type", "event.timestamp", "event.url", "user.name", "user.username"}
	taskPlaceholders    = []string{"task.id", "task.title", "task.description", "task.done", "task.due_date", "task.start_date", "task.end_date", "task.priority", "task.percent_done", "task.identifier", "task.created_by", "project.id", "project.title", "assignees.list", "assignees.count", "assignee.first", "labels.list", "labels.count", "comment.comment", "comment.author", "attachment.file_name", "relation.kind"}
	projectPlaceholders = []string{"project.id", "project.title", "project.description", "project.identifier", "project.owner", "project.archived"}
	teamPlaceholders    = []string{"team.id", "team.name", "team.description"}
)

// AvailablePlaceholders lists the placeholders meaningful for an event type.
// It is documentation only; Render accepts any known category.
func AvailablePlaceholders(eventType string) []string {
	out := append([]string(nil), commonPlaceholders...)
	switch {
	case strings.HasPrefix(eventType, "task."):
		out = append(out, taskPlaceholders...)
	case strings.HasPrefix(eventType, "project."):
		out = append(out, projectPlaceholders...)
	case strings.HasPrefix(eventType, "team."):
		out = append(out, teamPlaceholders...)
	}
	return out
}
