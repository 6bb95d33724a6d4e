package taskapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"taskpush/internal/model"
)

// wireReminder accepts both the legacy form (a bare timestamp) and the
// object form. Relative reminders carry an absolute "reminder" as well, so
// relative_period and relative_to are not read.
type wireReminder struct {
	At time.Time
}

func (r *wireReminder) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &r.At)
	}
	var obj struct {
		Reminder *time.Time `json:"reminder"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Reminder != nil {
		r.At = *obj.Reminder
	}
	return nil
}

type wireTask struct {
	model.Task
	Reminders []wireReminder `json:"reminders"`
}

func (w wireTask) toModel() model.Task {
	t := w.Task
	t.Reminders = nil
	for _, r := range w.Reminders {
		if !r.At.IsZero() {
			t.Reminders = append(t.Reminders, r.At)
		}
	}
	return t
}

// DecodeTask maps a task document from the API or a webhook payload.
func DecodeTask(raw json.RawMessage) (*model.Task, error) {
	if isNull(raw) {
		return nil, nil
	}
	var w wireTask
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	t := w.toModel()
	return &t, nil
}

func DecodeProject(raw json.RawMessage) (*model.Project, error) {
	if isNull(raw) {
		return nil, nil
	}
	var p model.Project
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}
	return &p, nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
