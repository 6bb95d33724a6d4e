package model

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Reminder trigger kinds.
const (
	ReminderStart    = "start"
	ReminderDue      = "due"
	ReminderEnd      = "end"
	ReminderExplicit = "reminder"
)

var ReminderKinds = []string{ReminderStart, ReminderDue, ReminderEnd, ReminderExplicit}

type ProviderResult struct {
	ProviderType string    `json:"provider_type"`
	Success      bool      `json:"success"`
	Message      string    `json:"message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Records are appended to a bounded history and never mutated afterwards.

type PushRecord struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	UserID    string           `json:"user_id"`
	EventType string           `json:"event_type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Format    string           `json:"format,omitempty"`
	Results   []ProviderResult `json:"results"`
}

type ReminderRecord struct {
	ID           string           `json:"id"`
	Timestamp    time.Time        `json:"timestamp"`
	UserID       string           `json:"user_id"`
	TaskID       int64            `json:"task_id"`
	ReminderType string           `json:"reminder_type"`
	Title        string           `json:"title"`
	Body         string           `json:"body"`
	Results      []ProviderResult `json:"results"`
}

type DigestRecord struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	UserID    string           `json:"user_id"`
	DigestID  string           `json:"digest_id"`
	TaskCount int              `json:"task_count"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Results   []ProviderResult `json:"results"`
}

// AnySucceeded reports whether at least one provider accepted the message.
func AnySucceeded(results []ProviderResult) bool {
	for _, r := range results {
		if r.Success {
			return true
		}
	}
	return false
}

// NewID returns a lexicographically sortable record id.
func NewID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// PendingTaskReminder is the live index entry of an undone task.
type PendingTaskReminder struct {
	TaskID       int64              `json:"task_id"`
	Title        string             `json:"title"`
	ProjectID    int64              `json:"project_id"`
	ProjectTitle string             `json:"project_title,omitempty"`
	StartDate    time.Time          `json:"start_date,omitzero"`
	DueDate      time.Time          `json:"due_date,omitzero"`
	EndDate      time.Time          `json:"end_date,omitzero"`
	Reminders    []time.Time        `json:"reminders,omitempty"`
	LabelIDs     map[int64]struct{} `json:"-"`
	Priority     int                `json:"priority"`
}

// Trigger is one temporal point of a pending task.
type Trigger struct {
	Kind string
	At   time.Time
}

// Triggers lists every set temporal field, explicit reminders last.
func (p PendingTaskReminder) Triggers() []Trigger {
	out := make([]Trigger, 0, 3+len(p.Reminders))
	if !p.StartDate.IsZero() {
		out = append(out, Trigger{Kind: ReminderStart, At: p.StartDate})
	}
	if !p.DueDate.IsZero() {
		out = append(out, Trigger{Kind: ReminderDue, At: p.DueDate})
	}
	if !p.EndDate.IsZero() {
		out = append(out, Trigger{Kind: ReminderEnd, At: p.EndDate})
	}
	for _, r := range p.Reminders {
		if !r.IsZero() {
			out = append(out, Trigger{Kind: ReminderExplicit, At: r})
		}
	}
	return out
}

// SentReminderKey identifies one (task, trigger kind, minute) dispatch.
type SentReminderKey struct {
	TaskID int64
	Kind   string
	Minute int64 // unix minutes of the trigger time
}

func NewSentReminderKey(taskID int64, kind string, at time.Time) SentReminderKey {
	return SentReminderKey{TaskID: taskID, Kind: kind, Minute: at.Unix() / 60}
}
