package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"taskpush/internal/history"
	"taskpush/pkg/logx"
)

// Job is one periodic unit of work. The context carries the per-run timeout
// and is canceled on Stop.
type Job func(ctx context.Context) error

type Config struct {
	Timezone string // IANA name; empty means time.Local
	// JobTimeout bounds each run; zero leaves runs unbounded.
	JobTimeout time.Duration
	// Spread delays the first run of interval jobs by a random fraction of
	// their period so they do not all fire together at startup.
	Spread bool
	// RunHistory sizes the run log (default history.DefaultCapacity).
	RunHistory int
}

type scheduleDef struct {
	name    string
	spec    string // cron spec or "@every <d>"
	job     Job
	entryID cron.EntryID
	running *atomic.Bool
}

// Run is one finished execution.
type Run struct {
	Name    string        `json:"name"`
	Started time.Time     `json:"started"`
	Took    time.Duration `json:"took"`
	Error   string        `json:"error,omitempty"`
}

type ScheduleInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next,omitzero"`
	Prev time.Time `json:"prev,omitzero"`
}

type Snapshot struct {
	Running   bool           `json:"running"`
	Timezone  string         `json:"timezone"`
	Skipped   uint64         `json:"skipped"`
	Schedules []ScheduleInfo `json:"schedules"`
}

// Service triggers named jobs from cron specs or fixed intervals. A job
// whose previous run is still in flight is skipped.
type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef

	runCtx    context.Context
	runCancel context.CancelFunc

	runs    *history.Store[Run]
	skipped atomic.Uint64
}
