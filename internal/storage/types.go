package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports a value that was never written.
	ErrNotFound = errors.New("storage: not found")
	// ErrCorrupt reports persisted data that could not be decoded.
	ErrCorrupt = errors.New("storage: corrupt data")
	ErrClosed  = errors.New("storage: closed")
)

// Store persists the seen-posts ledger, operator settings and the audit trail.
//
// Settings values are JSON encoded; GetSetting decodes into out.
type Store interface {
	LoadSeen(ctx context.Context) ([]string, error)
	// SaveSeen replaces the whole ledger, most recent last.
	SaveSeen(ctx context.Context, ids []string) error

	GetSetting(ctx context.Context, key string, out any) error
	SetSetting(ctx context.Context, key string, v any) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file": JSON files under Path (a directory)
//   - "sqlite": SQLite database; Path is a directory or a *.db file
//   - "memory": process-local, for tests and dry runs
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records an operator action.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ReqID         string    `json:"req_id,omitempty"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	Action        string    `json:"action"`
	Target        string    `json:"target,omitempty"`
	OK            bool      `json:"ok"`
	Error         string    `json:"err,omitempty"`
	TookMS        int64     `json:"took_ms"`
}
