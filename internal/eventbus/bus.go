// Package eventbus is an in-process fanout for dispatch outcomes.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"taskpush/pkg/logx"
)

const (
	TypeDispatchSent   = "dispatch.sent"
	TypeDispatchFailed = "dispatch.failed"
	TypeReminderFired  = "reminder.fired"
	TypeDigestSent     = "digest.sent"
)

// Event is a small in-memory signal. Publish never blocks: subscribers get
// buffered channels and a slow one simply misses events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Dispatch is the payload of dispatch.* events.
type Dispatch struct {
	ProviderType string
	Attempts     int
	Error        string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Removing under the write lock means no Publish holds ch anymore.
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// LogEvents writes every event to log at debug level until ctx is done.
func LogEvents(ctx context.Context, bus Bus, log logx.Logger) error {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			fields := []logx.Field{logx.String("type", e.Type), logx.Time("at", e.Time)}
			if d, ok := e.Data.(Dispatch); ok {
				fields = append(fields,
					logx.String("provider", d.ProviderType),
					logx.Int("attempts", d.Attempts),
				)
				if d.Error != "" {
					fields = append(fields, logx.String("error", d.Error))
				}
			} else if e.Data != nil {
				fields = append(fields, logx.Any("data", e.Data))
			}
			log.Debug("event", fields...)
		}
	}
}
