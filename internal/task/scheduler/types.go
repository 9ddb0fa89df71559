package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"adventbot/internal/eventbus"
	logx "adventbot/pkg/logx"
)

// EventJobFinished is published after every job run with a HistoryItem as Data.
const EventJobFinished = "scheduler.job_finished"

const historySize = 32

type Config struct {
	Enabled  bool
	Timezone string // IANA name, e.g. "Europe/Moscow"; empty means Local
}

type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// base is the parent context of job runs; canceled by Stop.
	base       context.Context
	cancelBase context.CancelFunc

	hmu     sync.Mutex
	history []HistoryItem
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

// HistoryItem describes one finished job run.
type HistoryItem struct {
	Name      string
	StartedAt time.Time
	Duration  time.Duration
	Err       string
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
	History   []HistoryItem // newest first
}
