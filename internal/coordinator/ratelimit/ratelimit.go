// Package ratelimit implements the sliding-window counter of spec.md §4.4:
// a per-(operation, identity) window, pruned on read, denying once the
// configured threshold is crossed within the window.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/c3po-dev/c3po/internal/coordinator/store"
)

// Policy is the (limit, window) pair for one operation.
type Policy struct {
	Limit  int
	Window time.Duration
}

// DefaultPolicies mirrors spec.md §4.4's default policy table.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		"send_message":  {Limit: 10, Window: 60 * time.Second},
		"list_agents":   {Limit: 30, Window: 60 * time.Second},
		"rest_register": {Limit: 5, Window: 60 * time.Second},
		"register_key":  {Limit: 5, Window: 60 * time.Second},
	}
}

// DefaultPolicy applies to any operation absent from the policy table.
var DefaultPolicy = Policy{Limit: 60, Window: 60 * time.Second}

// Limiter enforces Policy per (operation, identity) against the
// rate_limit_hits table, which plays the role of spec.md's
// `rate:{op}:{identity}` sorted set (score = wall-clock tick, pruned on
// read).
type Limiter struct {
	db       *store.DB
	policies map[string]Policy
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a Limiter. A nil policies map uses DefaultPolicies.
func New(db *store.DB, policies map[string]Policy, logger *slog.Logger) *Limiter {
	if policies == nil {
		policies = DefaultPolicies()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{db: db, policies: policies, logger: logger, now: time.Now}
}

func (l *Limiter) policyFor(operation string) Policy {
	if p, ok := l.policies[operation]; ok {
		return p
	}
	return DefaultPolicy
}

// Check prunes hits for (operation, identity) older than the policy window,
// then admits the current call if the remaining count is under the limit.
// On store failure it fails open (per spec.md §4.4's "fail-open with audit
// warning" policy) and logs a warning rather than denying the caller.
func (l *Limiter) Check(ctx context.Context, operation, identity string) bool {
	policy := l.policyFor(operation)
	now := l.now()
	windowStart := now.Add(-policy.Window).UnixMilli()

	var count int
	err := store.RetryBusy(ctx, func() error {
		if _, err := l.db.ExecContext(ctx, `
			DELETE FROM rate_limit_hits WHERE operation = ? AND identity = ? AND at_ms < ?
		`, operation, identity, windowStart); err != nil {
			return err
		}
		return l.db.GetContext(ctx, &count, `
			SELECT count(*) FROM rate_limit_hits WHERE operation = ? AND identity = ?
		`, operation, identity)
	})
	if err != nil {
		l.logger.Warn("ratelimit: store failure, failing open", "operation", operation, "identity", identity, "error", err)
		return true
	}

	if count >= policy.Limit {
		return false
	}

	err = store.RetryBusy(ctx, func() error {
		_, err := l.db.ExecContext(ctx, `
			INSERT INTO rate_limit_hits (operation, identity, at_ms) VALUES (?, ?, ?)
		`, operation, identity, now.UnixMilli())
		return err
	})
	if err != nil {
		l.logger.Warn("ratelimit: failed to record hit, failing open", "operation", operation, "identity", identity, "error", err)
	}
	return true
}
