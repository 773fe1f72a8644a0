// Package audit is the coordinator's append-only security event log
// (spec.md §3 "Audit entry"), backed by the audit_log table in store.
// Ring-bounded: callers configure a max row count and Log prunes the
// oldest rows past it on every write, the durable analog of the teacher's
// in-memory bounded buffers.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/c3po-dev/c3po/internal/coordinator/store"
)

// DefaultMaxEntries bounds the audit_log table; each write is followed by a
// separate statement that prunes the oldest rows past this bound.
const DefaultMaxEntries = 10_000

// ActorType distinguishes who performed the audited action.
type ActorType string

const (
	ActorAgent ActorType = "agent"
	ActorProxy ActorType = "proxy"
	ActorAdmin ActorType = "admin"
	ActorAnon  ActorType = "anonymous"
)

// Entry is a single audited event, mirroring spec.md's audit entry shape.
type Entry struct {
	Seq       int64     `db:"seq" json:"seq"`
	At        string    `db:"at" json:"at"`
	ActorType ActorType `db:"actor_type" json:"actor_type"`
	ActorID   string    `db:"actor_id" json:"actor_id"`
	Action    string    `db:"action" json:"action"`
	Resource  string    `db:"resource" json:"resource"`
	Outcome   string    `db:"outcome" json:"outcome"`
	Detail    string    `db:"detail" json:"detail"`
}

// Log is the coordinator's audit sink.
type Log struct {
	db         *store.DB
	maxEntries int
	logger     *slog.Logger
}

// New builds a Log against db, pruning to maxEntries on every write. A
// maxEntries of 0 uses DefaultMaxEntries.
func New(db *store.DB, maxEntries int, logger *slog.Logger) *Log {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{db: db, maxEntries: maxEntries, logger: logger}
}

// Record appends an audit entry. Store failures are logged but never
// propagated: auditing is best-effort and must not block the operation it
// is observing, matching "fail-open with audit warning" elsewhere in the
// coordinator's failure policy (spec.md §4.4).
func (l *Log) Record(ctx context.Context, actorType ActorType, actorID, action, resource, outcome, detail string) {
	err := store.RetryBusy(ctx, func() error {
		_, err := l.db.ExecContext(ctx, `
			INSERT INTO audit_log (at, actor_type, actor_id, action, resource, outcome, detail)
			VALUES (datetime('now'), ?, ?, ?, ?, ?, ?)
		`, actorType, actorID, action, resource, outcome, detail)
		if err != nil {
			return err
		}
		_, err = l.db.ExecContext(ctx, `
			DELETE FROM audit_log WHERE seq NOT IN (
				SELECT seq FROM audit_log ORDER BY seq DESC LIMIT ?
			)
		`, l.maxEntries)
		return err
	})
	if err != nil {
		l.logger.Warn("audit: failed to record entry", "action", action, "error", err)
	}
}

// List returns the most recent audit entries, newest-first, up to limit.
func (l *Log) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > l.maxEntries {
		limit = l.maxEntries
	}
	var entries []Entry
	err := l.db.SelectContext(ctx, &entries, `
		SELECT seq, at, actor_type, actor_id, action, resource, outcome, detail
		FROM audit_log ORDER BY seq DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// MarshalDetail renders a structured detail payload as a JSON string for
// storage in Entry.Detail. Falls back to a best-effort string on marshal
// failure rather than dropping the audit write entirely.
func MarshalDetail(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "<unmarshalable detail>"
	}
	return string(b)
}
