package storage

import (
	"context"
	"errors"
	"time"

	"adventbot/internal/advent"
)

var (
	// ErrCorrupt means persisted data exists but cannot be decoded. Stores
	// never silently replace corrupt data with an empty collection.
	ErrCorrupt = errors.New("storage: corrupt data")
	ErrClosed  = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "file" (default): Path is a directory
//   - "sqlite": Path is the database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records an admin action.
type AuditEntry struct {
	At            time.Time `json:"at" db:"at"`
	ActorID       int64     `json:"actor_id" db:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty" db:"actor_username"`
	ChatID        int64     `json:"chat_id" db:"chat_id"`
	Action        string    `json:"action" db:"action"`
	Target        string    `json:"target,omitempty" db:"target"`
	OK            int       `json:"ok" db:"ok"`
	Fail          int       `json:"fail" db:"fail"`
	Error         string    `json:"error,omitempty" db:"err"`
	TookMS        int64     `json:"took_ms" db:"took_ms"`
}

// Store is the persistence API used by the engine and the command handlers.
type Store interface {
	advent.ContentStore
	advent.SubscriberStore

	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to limit entries, newest first.
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)

	Driver() string
	Close() error
}
