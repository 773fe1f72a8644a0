// Package messaging implements the MessageEngine of spec.md §4.2: per-agent
// FIFO inboxes with peek/acknowledge semantics, long-poll blocking waits
// woken by store.Notifier, at-least-once delivery, and zstd compression
// (via msgcodec) of every stored body and context.
package messaging

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/c3po-dev/c3po/internal/coordinator/apierr"
	"github.com/c3po-dev/c3po/internal/coordinator/id"
	"github.com/c3po-dev/c3po/internal/coordinator/msgcodec"
	"github.com/c3po-dev/c3po/internal/coordinator/store"
	"github.com/c3po-dev/c3po/internal/coordinator/validate"
	"github.com/c3po-dev/c3po/internal/util/timefmt"
)

// Type distinguishes an initiating message from a reply.
type Type string

const (
	Message Type = "message"
	Reply   Type = "reply"
)

// MessageStatus is a message's delivery state.
type MessageStatus string

const (
	Pending MessageStatus = "pending"
	Acked   MessageStatus = "acked"
)

// AgentExistsFunc reports whether an agent id is currently registered. The
// engine takes this as a dependency rather than importing registry
// directly, so the two packages don't form an import cycle when
// coordinator.NewServer wires both against the same store.
type AgentExistsFunc func(ctx context.Context, agentID string) (bool, error)

// RegisterOfflineFunc creates an offline placeholder agent record for
// deliver_offline sends to an unregistered recipient.
type RegisterOfflineFunc func(ctx context.Context, agentID string) error

// Envelope is a message as returned to callers.
type Envelope struct {
	ID        string        `json:"id"`
	From      string        `json:"from_agent"`
	To        string        `json:"to_agent"`
	Type      Type          `json:"type"`
	Body      string        `json:"message"`
	Context   string        `json:"context,omitempty"`
	ReplyTo   string        `json:"reply_to,omitempty"`
	Timestamp string        `json:"timestamp"`
	Status    MessageStatus `json:"status"`
}

type row struct {
	Seq                int64          `db:"seq"`
	ID                 string         `db:"id"`
	ToAgent            string         `db:"to_agent"`
	FromAgent          string         `db:"from_agent"`
	Type               string         `db:"type"`
	Body               []byte         `db:"body"`
	BodyCompression    string         `db:"body_compression"`
	Context            sql.NullString `db:"context"`
	ContextCompression string         `db:"context_compression"`
	ReplyTo            sql.NullString `db:"reply_to"`
	Status             string         `db:"status"`
	CreatedAt          string         `db:"created_at"`
	ExpiresAt          string         `db:"expires_at"`
}

// Engine is the coordinator's MessageEngine.
type Engine struct {
	db         *store.DB
	notifier   *store.Notifier
	messageTTL time.Duration
	now        func() time.Time

	agentExists     AgentExistsFunc
	registerOffline RegisterOfflineFunc
}

// New builds an Engine. messageTTL is the inbox entry TTL (spec.md §4.2,
// default 24h).
func New(db *store.DB, notifier *store.Notifier, messageTTL time.Duration, agentExists AgentExistsFunc, registerOffline RegisterOfflineFunc) *Engine {
	return &Engine{
		db:              db,
		notifier:        notifier,
		messageTTL:      messageTTL,
		now:             time.Now,
		agentExists:     agentExists,
		registerOffline: registerOffline,
	}
}

func (e *Engine) messageID(from, to string) string {
	return fmt.Sprintf("%s::%s::%s", from, to, id.MessageSuffix())
}

// Send enqueues a message for `to`, pushes exactly one notify token, and
// wakes a blocked waiter if any. When the recipient is unregistered it
// either fails with AGENT_NOT_FOUND (default) or creates an offline
// placeholder and queues anyway, if deliverOffline is set.
func (e *Engine) Send(ctx context.Context, from, to, body, msgContext string, typ Type, replyTo string, deliverOffline bool) (*Envelope, error) {
	if body == "" {
		return nil, apierr.Invalid("message body must not be empty")
	}
	if err := validate.BodySize("message", body); err != nil {
		return nil, apierr.Invalid(err.Error())
	}
	if msgContext != "" {
		if err := validate.BodySize("context", msgContext); err != nil {
			return nil, apierr.Invalid(err.Error())
		}
	}
	if typ == Reply {
		if replyTo == "" {
			return nil, apierr.Invalid("reply_to is required for a reply")
		}
		if !replyRecipientMatches(replyTo, from) {
			return nil, apierr.Invalid("reply_to does not name this agent as recipient")
		}
	}

	exists, err := e.agentExists(ctx, to)
	if err != nil {
		return nil, apierr.StoreFailure(err)
	}
	if !exists {
		if !deliverOffline {
			return nil, apierr.New(apierr.AgentNotFound, fmt.Sprintf("agent %q is not registered", to), "list agents, retry")
		}
		if err := e.registerOffline(ctx, to); err != nil {
			return nil, apierr.StoreFailure(err)
		}
	}

	now := e.now()
	env := &Envelope{
		ID:        e.messageID(from, to),
		From:      from,
		To:        to,
		Type:      typ,
		Body:      body,
		Context:   msgContext,
		ReplyTo:   replyTo,
		Timestamp: timefmt.Format(now),
		Status:    Pending,
	}

	bodyCompressed, bodyComp := msgcodec.Compress([]byte(body))
	var ctxCompressed []byte
	ctxComp := msgcodec.None
	if msgContext != "" {
		ctxCompressed, ctxComp = msgcodec.Compress([]byte(msgContext))
	}
	expiresAt := timefmt.Format(now.Add(e.messageTTL))

	err = store.RetryBusy(ctx, func() error {
		// Inbox append before notify push, per spec.md §4.2's ordering
		// requirement: a failed send must never leave a notify without its
		// message.
		_, err := e.db.ExecContext(ctx, `
			INSERT INTO inbox_messages
				(id, to_agent, from_agent, type, body, body_compression, context, context_compression, reply_to, status, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)
		`, env.ID, to, from, string(typ), bodyCompressed, string(bodyComp), nullableBytes(ctxCompressed), string(ctxComp), nullableString(replyTo), env.Timestamp, expiresAt)
		if err != nil {
			return err
		}
		_, err = e.db.ExecContext(ctx, `
			INSERT INTO notify_tokens (agent_id, created_at) VALUES (?, ?)
		`, to, env.Timestamp)
		return err
	})
	if err != nil {
		return nil, apierr.StoreFailure(err)
	}

	e.notifier.Wake(to)
	return env, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func replyRecipientMatches(replyToID, from string) bool {
	// reply_to is itself a message id of shape {from}::{to}::{suffix}; the
	// reply is valid only if its original recipient (segment 2) is the
	// caller replying now.
	parts := strings.Split(replyToID, "::")
	return len(parts) == 3 && parts[1] == from
}

func (e *Engine) decode(r row) (*Envelope, error) {
	body, err := msgcodec.Decompress(r.Body, msgcodec.Compression(r.BodyCompression))
	if err != nil {
		return nil, err
	}
	var ctxStr string
	if r.Context.Valid {
		ctxBytes, err := msgcodec.Decompress([]byte(r.Context.String), msgcodec.Compression(r.ContextCompression))
		if err != nil {
			return nil, err
		}
		ctxStr = string(ctxBytes)
	}
	return &Envelope{
		ID:        r.ID,
		From:      r.FromAgent,
		To:        r.ToAgent,
		Type:      Type(r.Type),
		Body:      string(body),
		Context:   ctxStr,
		ReplyTo:   r.ReplyTo.String,
		Timestamp: r.CreatedAt,
		Status:    MessageStatus(r.Status),
	}, nil
}

// Get returns a non-destructive snapshot of recipient's entire inbox,
// oldest-first (spec.md says "newest-last", i.e. insertion order).
func (e *Engine) Get(ctx context.Context, recipient string) ([]Envelope, error) {
	return e.snapshot(ctx, recipient)
}

func (e *Engine) snapshot(ctx context.Context, recipient string) ([]Envelope, error) {
	var rows []row
	err := e.db.SelectContext(ctx, &rows, `
		SELECT seq, id, to_agent, from_agent, type, body, body_compression, context, context_compression, reply_to, status, created_at, expires_at
		FROM inbox_messages WHERE to_agent = ? AND status = 'pending' ORDER BY seq
	`, recipient)
	if err != nil {
		return nil, apierr.StoreFailure(err)
	}
	out := make([]Envelope, 0, len(rows))
	for _, r := range rows {
		env, err := e.decode(r)
		if err != nil {
			return nil, apierr.StoreFailure(err)
		}
		out = append(out, *env)
	}
	return out, nil
}

// Ack removes each listed id from recipient's inbox. Absent ids are
// silently tolerated (idempotent).
func (e *Engine) Ack(ctx context.Context, recipient string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return store.RetryBusy(ctx, func() error {
		query, args, err := sqlx.In(`DELETE FROM inbox_messages WHERE to_agent = ? AND id IN (?)`, recipient, ids)
		if err != nil {
			return err
		}
		_, err = e.db.ExecContext(ctx, e.db.Rebind(query), args...)
		return err
	})
}

// WaitResult is WaitAny/WaitFor's outcome.
type WaitResult struct {
	Messages []Envelope
	TimedOut bool
}

// WaitAny blocks until recipient's inbox is non-empty or timeout elapses.
// Returns immediately on any wake (spec.md §9 Open Question 1: no internal
// spurious-wake loop) — callers that need retry-until-timeout semantics
// loop at the transport layer.
func (e *Engine) WaitAny(ctx context.Context, recipient string, timeout time.Duration) (WaitResult, error) {
	// Register before reading the inbox so a Send that lands between the
	// read and the wait still wakes this waiter.
	ch, cancel := e.notifier.Wait(recipient)
	defer cancel()

	snap, err := e.snapshot(ctx, recipient)
	if err != nil {
		return WaitResult{}, err
	}
	if len(snap) > 0 {
		e.consumeOneToken(ctx, recipient)
		return WaitResult{Messages: snap}, nil
	}

	select {
	case <-ch:
		snap, err := e.snapshot(ctx, recipient)
		if err != nil {
			return WaitResult{}, err
		}
		e.consumeOneToken(ctx, recipient)
		return WaitResult{Messages: snap}, nil
	case <-time.After(timeout):
		return WaitResult{TimedOut: true}, nil
	case <-ctx.Done():
		return WaitResult{TimedOut: true}, nil
	}
}

// WaitFor specializes WaitAny to filter for a reply whose reply_to matches
// replyToID, re-arming its own wait loop (bounded by timeout) when a wake
// produces no matching reply yet.
func (e *Engine) WaitFor(ctx context.Context, recipient, replyToID string, timeout time.Duration) (WaitResult, error) {
	deadline := e.now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return WaitResult{TimedOut: true}, nil
		}
		res, err := e.WaitAny(ctx, recipient, remaining)
		if err != nil {
			return WaitResult{}, err
		}
		if res.TimedOut {
			return res, nil
		}
		for _, m := range res.Messages {
			if m.Type == Reply && m.ReplyTo == replyToID {
				return WaitResult{Messages: []Envelope{m}}, nil
			}
		}
		// Spurious wake or non-matching message: loop until the deadline.
	}
}

func (e *Engine) consumeOneToken(ctx context.Context, agentID string) {
	_ = store.RetryBusy(ctx, func() error {
		res, err := e.db.ExecContext(ctx, `
			DELETE FROM notify_tokens WHERE seq = (
				SELECT seq FROM notify_tokens WHERE agent_id = ? AND consumed = 0 ORDER BY seq LIMIT 1
			)
		`, agentID)
		if err != nil {
			return err
		}
		_, _ = res.RowsAffected()
		return nil
	})
}

// PendingCount returns the number of unacknowledged messages for agentID.
func (e *Engine) PendingCount(ctx context.Context, agentID string) (int, error) {
	var count int
	err := e.db.GetContext(ctx, &count, `
		SELECT count(*) FROM inbox_messages WHERE to_agent = ? AND status = 'pending'
	`, agentID)
	if err != nil {
		return 0, apierr.StoreFailure(err)
	}
	return count, nil
}

// SweepExpired deletes inbox entries past their TTL. Run periodically by
// the registry's TTL scavenger alongside agent record cleanup (spec.md §5).
func (e *Engine) SweepExpired(ctx context.Context) error {
	return store.RetryBusy(ctx, func() error {
		_, err := e.db.ExecContext(ctx, `DELETE FROM inbox_messages WHERE expires_at < ?`, timefmt.Format(e.now()))
		if err != nil {
			return err
		}
		_, err = e.db.ExecContext(ctx, `
			DELETE FROM notify_tokens WHERE created_at < ?
		`, timefmt.Format(e.now().Add(-e.messageTTL)))
		return err
	})
}
