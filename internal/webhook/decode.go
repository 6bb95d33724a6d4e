package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskpush/internal/model"
	"taskpush/internal/taskapi"
)

var ErrNoEventName = errors.New("webhook: event_name is required")

type envelope struct {
	EventName string          `json:"event_name"`
	Time      time.Time       `json:"time"`
	Data      json.RawMessage `json:"data"`
}

// payload lists the entities the task service may attach to an event.
type payload struct {
	ProjectID  int64             `json:"project_id"`
	TaskID     int64             `json:"task_id"`
	Project    json.RawMessage   `json:"project"`
	Task       json.RawMessage   `json:"task"`
	Doer       *model.User       `json:"doer"`
	Team       *model.Team       `json:"team"`
	Comment    *model.Comment    `json:"comment"`
	Attachment *model.Attachment `json:"attachment"`
	Relation   *model.Relation   `json:"relation"`
	Label      *model.Label      `json:"label"`
}

// DecodeEvent maps an inbound webhook body onto a WebhookEvent. now fills
// in a missing timestamp.
func DecodeEvent(body []byte, now time.Time) (model.WebhookEvent, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return model.WebhookEvent{}, fmt.Errorf("decode webhook: %w", err)
	}
	ev := model.WebhookEvent{
		EventType: strings.TrimSpace(env.EventName),
		Timestamp: env.Time,
	}
	if ev.EventType == "" {
		return model.WebhookEvent{}, ErrNoEventName
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	if len(env.Data) == 0 {
		return ev, nil
	}

	var p payload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return model.WebhookEvent{}, fmt.Errorf("decode webhook data: %w", err)
	}
	task, err := taskapi.DecodeTask(p.Task)
	if err != nil {
		return model.WebhookEvent{}, err
	}
	project, err := taskapi.DecodeProject(p.Project)
	if err != nil {
		return model.WebhookEvent{}, err
	}

	ev.Task, ev.Project = task, project
	ev.Doer, ev.Team, ev.Comment = p.Doer, p.Team, p.Comment
	ev.Attachment, ev.Relation, ev.Label = p.Attachment, p.Relation, p.Label

	switch {
	case p.ProjectID > 0:
		ev.ProjectID = p.ProjectID
	case project != nil && project.ID > 0:
		ev.ProjectID = project.ID
	case task != nil:
		ev.ProjectID = task.ProjectID
	}
	switch {
	case task != nil && task.ID > 0:
		ev.TaskID = task.ID
	case p.TaskID > 0:
		ev.TaskID = p.TaskID
	case p.Attachment != nil:
		ev.TaskID = p.Attachment.TaskID
	case p.Relation != nil:
		ev.TaskID = p.Relation.TaskID
	}
	return ev, nil
}
