package digest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"taskpush/internal/model"
	"taskpush/internal/scheduler"
)

var priorityEmoji = map[int]string{
	5: "🔴",
	4: "🟠",
	3: "🟡",
	2: "🔵",
	1: "⚪",
}

func emojiFor(priority int) string {
	if e, ok := priorityEmoji[priority]; ok {
		return e
	}
	if priority > 5 {
		return priorityEmoji[5]
	}
	return "▫️"
}

// Filter keeps undone tasks matching either criterion: priority at least
// minPriority (when minPriority > 0) or any label in labelIDs. With neither
// criterion set every task passes. The result is sorted by priority, highest
// first, then by due date.
func Filter(tasks []model.Task, minPriority int, labelIDs []int64) []model.Task {
	wanted := make(map[int64]struct{}, len(labelIDs))
	for _, id := range labelIDs {
		wanted[id] = struct{}{}
	}
	noFilter := minPriority <= 0 && len(wanted) == 0

	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Done {
			continue
		}
		if noFilter || (minPriority > 0 && t.Priority >= minPriority) || hasLabel(t, wanted) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.DueDate.IsZero() != b.DueDate.IsZero() {
			return !a.DueDate.IsZero()
		}
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		return a.ID < b.ID
	})
	return out
}

func hasLabel(t model.Task, wanted map[int64]struct{}) bool {
	if len(wanted) == 0 {
		return false
	}
	for _, l := range t.Labels {
		if _, ok := wanted[l.ID]; ok {
			return true
		}
	}
	return false
}

// FormatTasks renders one line per task, grouped by priority as sorted by Filter.
func FormatTasks(tasks []model.Task, now time.Time) string {
	var b strings.Builder
	for i, t := range tasks {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(emojiFor(t.Priority))
		b.WriteByte(' ')
		b.WriteString(t.Title)
		if note := dueNote(t.DueDate, now); note != "" {
			b.WriteString(" (")
			b.WriteString(note)
			b.WriteByte(')')
		}
		if len(t.Labels) > 0 {
			names := make([]string, 0, len(t.Labels))
			for _, l := range t.Labels {
				names = append(names, l.Title)
			}
			b.WriteString(" [")
			b.WriteString(strings.Join(names, ", "))
			b.WriteByte(']')
		}
	}
	return b.String()
}

func dueNote(due, now time.Time) string {
	if due.IsZero() {
		return ""
	}
	local := due.In(now.Location())
	switch {
	case local.Before(now):
		return "⚠️ overdue"
	case sameDay(local, now):
		return "📅 due today " + local.Format("15:04")
	case local.Sub(now) <= soonWindow:
		return "⏳ due " + local.Format("Mon 15:04")
	}
	return ""
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// NormalizeHHMM accepts "H:MM" or "HH:MM" and returns "HH:MM".
func NormalizeHHMM(s string) (string, error) {
	h, m, err := scheduler.ParseHHMM(s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}
