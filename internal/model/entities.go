package model

import "time"

// Entities mirror the subset of the task service's data that templates and
// engines read. Zero times mean "unset".

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// DisplayName prefers the full name and falls back to the username.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

type Label struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	HexColor    string `json:"hex_color,omitempty"`
}

type Project struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Identifier  string    `json:"identifier,omitempty"`
	HexColor    string    `json:"hex_color,omitempty"`
	IsArchived  bool      `json:"is_archived,omitempty"`
	Owner       *User     `json:"owner,omitempty"`
	Created     time.Time `json:"created,omitzero"`
	Updated     time.Time `json:"updated,omitzero"`
}

type Task struct {
	ID          int64       `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Done        bool        `json:"done"`
	DoneAt      time.Time   `json:"done_at,omitzero"`
	DueDate     time.Time   `json:"due_date,omitzero"`
	StartDate   time.Time   `json:"start_date,omitzero"`
	EndDate     time.Time   `json:"end_date,omitzero"`
	Reminders   []time.Time `json:"reminders,omitempty"`
	Priority    int         `json:"priority"`
	PercentDone float64     `json:"percent_done,omitempty"`
	ProjectID   int64       `json:"project_id"`
	Identifier  string      `json:"identifier,omitempty"`
	Index       int64       `json:"index,omitempty"`
	HexColor    string      `json:"hex_color,omitempty"`
	Labels      []Label     `json:"labels,omitempty"`
	Assignees   []User      `json:"assignees,omitempty"`
	CreatedBy   *User       `json:"created_by,omitempty"`
	Created     time.Time   `json:"created,omitzero"`
	Updated     time.Time   `json:"updated,omitzero"`
}

func (t Task) LabelIDs() map[int64]struct{} {
	out := make(map[int64]struct{}, len(t.Labels))
	for _, l := range t.Labels {
		out[l.ID] = struct{}{}
	}
	return out
}

type Team struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Comment struct {
	ID      int64     `json:"id"`
	Comment string    `json:"comment"`
	Author  *User     `json:"author,omitempty"`
	Created time.Time `json:"created,omitzero"`
}

type Attachment struct {
	ID        int64     `json:"id"`
	TaskID    int64     `json:"task_id"`
	FileName  string    `json:"file_name"`
	Size      int64     `json:"size,omitempty"`
	CreatedBy *User     `json:"created_by,omitempty"`
	Created   time.Time `json:"created,omitzero"`
}

type Relation struct {
	TaskID       int64  `json:"task_id"`
	OtherTaskID  int64  `json:"other_task_id"`
	RelationKind string `json:"relation_kind"`
	CreatedBy    *User  `json:"created_by,omitempty"`
}
