package reminder

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"taskpush/internal/model"
)

// PendingStore is the live index of undone tasks keyed by task id.
// Upsert and Remove are atomic per key; Snapshot tolerates concurrent writes.
type PendingStore struct {
	m sync.Map // int64 -> model.PendingTaskReminder
	n atomic.Int64
}

func NewPendingStore() *PendingStore { return &PendingStore{} }

// Upsert replaces any previous entry for the task wholesale.
func (s *PendingStore) Upsert(p model.PendingTaskReminder) {
	if _, loaded := s.m.Swap(p.TaskID, p); !loaded {
		s.n.Add(1)
	}
}

func (s *PendingStore) Remove(taskID int64) bool {
	if _, loaded := s.m.LoadAndDelete(taskID); loaded {
		s.n.Add(-1)
		return true
	}
	return false
}

func (s *PendingStore) Get(taskID int64) (model.PendingTaskReminder, bool) {
	v, ok := s.m.Load(taskID)
	if !ok {
		return model.PendingTaskReminder{}, false
	}
	return v.(model.PendingTaskReminder), true
}

func (s *PendingStore) Len() int { return int(s.n.Load()) }

// Snapshot returns the entries sorted by task id.
func (s *PendingStore) Snapshot() []model.PendingTaskReminder {
	out := make([]model.PendingTaskReminder, 0, s.Len())
	s.m.Range(func(_, v any) bool {
		out = append(out, v.(model.PendingTaskReminder))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

func (s *PendingStore) Clear() {
	s.m.Range(func(k, _ any) bool {
		if _, loaded := s.m.LoadAndDelete(k); loaded {
			s.n.Add(-1)
		}
		return true
	})
}

// SentKeys remembers which triggers were already dispatched and when.
type SentKeys struct {
	m sync.Map // model.SentReminderKey -> time.Time
	n atomic.Int64
}

func NewSentKeys() *SentKeys { return &SentKeys{} }

// MarkIfAbsent records key at time at. It reports false when the key was
// already present, in which case nothing changes.
func (s *SentKeys) MarkIfAbsent(key model.SentReminderKey, at time.Time) bool {
	if _, loaded := s.m.LoadOrStore(key, at); loaded {
		return false
	}
	s.n.Add(1)
	return true
}

func (s *SentKeys) Has(key model.SentReminderKey) bool {
	_, ok := s.m.Load(key)
	return ok
}

func (s *SentKeys) Len() int { return int(s.n.Load()) }

// Expire drops keys marked before cutoff and returns how many went.
func (s *SentKeys) Expire(cutoff time.Time) int {
	removed := 0
	s.m.Range(func(k, v any) bool {
		if v.(time.Time).Before(cutoff) {
			if s.m.CompareAndDelete(k, v) {
				s.n.Add(-1)
				removed++
			}
		}
		return true
	})
	return removed
}

// EvictOldest drops the oldest keys until at most limit remain.
func (s *SentKeys) EvictOldest(limit int) int {
	if limit < 0 {
		limit = 0
	}
	if s.Len() <= limit {
		return 0
	}
	type entry struct {
		key model.SentReminderKey
		at  time.Time
	}
	all := make([]entry, 0, s.Len())
	s.m.Range(func(k, v any) bool {
		all = append(all, entry{key: k.(model.SentReminderKey), at: v.(time.Time)})
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	evicted := 0
	for _, e := range all {
		if s.Len() <= limit {
			break
		}
		if _, loaded := s.m.LoadAndDelete(e.key); loaded {
			s.n.Add(-1)
			evicted++
		}
	}
	return evicted
}

func (s *SentKeys) Clear() {
	s.m.Range(func(k, _ any) bool {
		if _, loaded := s.m.LoadAndDelete(k); loaded {
			s.n.Add(-1)
		}
		return true
	})
}
