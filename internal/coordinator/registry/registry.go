// Package registry implements the AgentRegistry of spec.md §4.1: identity
// allocation with collision resolution, heartbeat-based liveness derived
// from last_seen the way the teacher's worker_connector_service tracks
// UpdateWorkerLastSeen on every heartbeat, and explicit or TTL-driven
// lifecycle.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/c3po-dev/c3po/internal/coordinator/apierr"
	"github.com/c3po-dev/c3po/internal/coordinator/store"
	"github.com/c3po-dev/c3po/internal/coordinator/validate"
	"github.com/c3po-dev/c3po/internal/util/timefmt"
)

// MaxCollisionSuffix bounds Register's probing, per spec.md §4.1
// "Collision probing has a hard cap (e.g. 99 suffixes)".
const MaxCollisionSuffix = 99

// Outcome classifies how Register resolved a requested id.
type Outcome string

const (
	Created     Outcome = "created"
	Reconnected Outcome = "reconnected"
	TookOver    Outcome = "took_over"
	Suffixed    Outcome = "suffixed"
)

// Status is the derived liveness of an agent record.
type Status string

const (
	Online  Status = "online"
	Offline Status = "offline"
)

// Record is an agent's registry entry.
type Record struct {
	ID           string   `db:"id" json:"id"`
	DisplayName  string   `db:"display_name" json:"display_name,omitempty"`
	Description  string   `db:"description" json:"description,omitempty"`
	Capabilities []string `db:"-" json:"capabilities"`
	CapsJSON     string   `db:"capabilities" json:"-"`
	SessionID    string   `db:"session_id" json:"-"`
	RegisteredAt string   `db:"registered_at" json:"registered_at"`
	LastSeen     string   `db:"last_seen" json:"last_seen"`
}

// WithStatus pairs a Record with its derived Status for listing.
type WithStatus struct {
	Record
	Status Status `json:"status"`
}

// Registry is the coordinator's AgentRegistry.
type Registry struct {
	db           *store.DB
	notifier     *store.Notifier
	heartbeatTTL time.Duration
	now          func() time.Time
}

// New builds a Registry. heartbeatTTL is how long after last_seen an agent
// is still considered online.
func New(db *store.DB, notifier *store.Notifier, heartbeatTTL time.Duration) *Registry {
	return &Registry{db: db, notifier: notifier, heartbeatTTL: heartbeatTTL, now: time.Now}
}

func (r *Registry) statusOf(lastSeen string) Status {
	t, err := time.Parse(timefmt.ISO8601, lastSeen)
	if err != nil {
		return Offline
	}
	if r.now().Sub(t) <= r.heartbeatTTL {
		return Online
	}
	return Offline
}

func marshalCaps(caps []string) string {
	if caps == nil {
		caps = []string{}
	}
	b, _ := json.Marshal(caps)
	return string(b)
}

func unmarshalCaps(rec *Record) {
	if rec.CapsJSON == "" {
		rec.Capabilities = []string{}
		return
	}
	_ = json.Unmarshal([]byte(rec.CapsJSON), &rec.Capabilities)
}

func (r *Registry) lookup(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := r.db.GetContext(ctx, &rec, `
		SELECT id, display_name, description, capabilities, session_id, registered_at, last_seen
		FROM agents WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	unmarshalCaps(&rec)
	return &rec, nil
}

// Register allocates a canonical agent id for (requestedID, sessionID),
// resolving collisions per spec.md §4.1's five-step algorithm.
func (r *Registry) Register(ctx context.Context, requestedID, sessionID string) (*Record, Outcome, error) {
	if err := validate.AgentID(requestedID); err != nil {
		return nil, "", apierr.Invalid(err.Error())
	}

	var result *Record
	var outcome Outcome

	err := store.RetryBusy(ctx, func() error {
		now := timefmt.Format(r.now())

		for n := 1; n <= MaxCollisionSuffix; n++ {
			candidate := validate.Suffixed(requestedID, n)
			existing, err := r.lookup(ctx, candidate)
			if err != nil {
				return err
			}

			if existing == nil {
				rec := Record{
					ID:           candidate,
					SessionID:    sessionID,
					RegisteredAt: now,
					LastSeen:     now,
					Capabilities: []string{},
				}
				if _, err := r.db.ExecContext(ctx, `
					INSERT INTO agents (id, display_name, description, capabilities, session_id, registered_at, last_seen)
					VALUES (?, '', '', ?, ?, ?, ?)
				`, rec.ID, marshalCaps(nil), rec.SessionID, rec.RegisteredAt, rec.LastSeen); err != nil {
					return err
				}
				result, outcome = &rec, Created
				if n > 1 {
					outcome = Suffixed
				}
				return nil
			}

			if existing.SessionID == sessionID {
				if _, err := r.db.ExecContext(ctx, `UPDATE agents SET last_seen = ? WHERE id = ?`, now, candidate); err != nil {
					return err
				}
				existing.LastSeen = now
				result, outcome = existing, Reconnected
				return nil
			}

			if r.statusOf(existing.LastSeen) == Offline {
				if _, err := r.db.ExecContext(ctx, `
					UPDATE agents SET session_id = ?, registered_at = ?, last_seen = ? WHERE id = ?
				`, sessionID, now, now, candidate); err != nil {
					return err
				}
				existing.SessionID, existing.RegisteredAt, existing.LastSeen = sessionID, now, now
				result, outcome = existing, TookOver
				return nil
			}

			// Live collision: try the next suffix.
		}
		return errCollisionExhausted
	})
	if err != nil {
		if errors.Is(err, errCollisionExhausted) {
			return nil, "", apierr.New(apierr.RegistrationExhausted,
				fmt.Sprintf("no free slot for %q within %d suffixes", requestedID, MaxCollisionSuffix),
				"rename machine/project")
		}
		return nil, "", apierr.StoreFailure(err)
	}
	return result, outcome, nil
}

var errCollisionExhausted = errors.New("registration exhausted")

// Heartbeat updates last_seen for agentID. Idempotent; a no-op if the
// record doesn't exist.
func (r *Registry) Heartbeat(ctx context.Context, agentID string) error {
	return store.RetryBusy(ctx, func() error {
		_, err := r.db.ExecContext(ctx, `UPDATE agents SET last_seen = ? WHERE id = ?`, timefmt.Format(r.now()), agentID)
		return err
	})
}

// SetDescription updates an agent's description, sanitizing it as a
// free-text field (spec.md §3 agent record). display_name is set by
// UpdateProfile.
func (r *Registry) SetDescription(ctx context.Context, agentID, description string) error {
	clean := validate.SanitizeDescription(description, validate.MaxBodyBytes)
	return store.RetryBusy(ctx, func() error {
		_, err := r.db.ExecContext(ctx, `UPDATE agents SET description = ? WHERE id = ?`, clean, agentID)
		return err
	})
}

// UpdateProfile sets an agent's display_name and capabilities at
// registration time (spec.md §6 register_agent's optional `name` and
// `capabilities` arguments). Either may be left zero-valued to leave the
// existing field unchanged; capabilities, when non-nil, replaces the set
// wholesale rather than merging, matching set_description's
// replace-not-merge semantics for the sibling description field.
func (r *Registry) UpdateProfile(ctx context.Context, agentID, displayName string, capabilities []string) error {
	clean := validate.SanitizeDescription(displayName, validate.MaxBodyBytes)
	return store.RetryBusy(ctx, func() error {
		if displayName != "" {
			if _, err := r.db.ExecContext(ctx, `UPDATE agents SET display_name = ? WHERE id = ?`, clean, agentID); err != nil {
				return err
			}
		}
		if capabilities != nil {
			if _, err := r.db.ExecContext(ctx, `UPDATE agents SET capabilities = ? WHERE id = ?`, marshalCaps(capabilities), agentID); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns every known agent record with derived status.
func (r *Registry) List(ctx context.Context) ([]WithStatus, error) {
	var recs []Record
	err := r.db.SelectContext(ctx, &recs, `
		SELECT id, display_name, description, capabilities, session_id, registered_at, last_seen
		FROM agents ORDER BY id
	`)
	if err != nil {
		return nil, apierr.StoreFailure(err)
	}
	out := make([]WithStatus, 0, len(recs))
	for i := range recs {
		unmarshalCaps(&recs[i])
		out = append(out, WithStatus{Record: recs[i], Status: r.statusOf(recs[i].LastSeen)})
	}
	return out, nil
}

// Get fetches a single record by id, or nil if absent.
func (r *Registry) Get(ctx context.Context, agentID string) (*Record, error) {
	rec, err := r.lookup(ctx, agentID)
	if err != nil {
		return nil, apierr.StoreFailure(err)
	}
	return rec, nil
}

// Exists reports whether agentID has a registry record, live or offline.
// Wired into messaging.Engine as an AgentExistsFunc so Send can reject a
// target that was never registered (spec.md §4.2 send_message without
// deliver_offline).
func (r *Registry) Exists(ctx context.Context, agentID string) (bool, error) {
	rec, err := r.lookup(ctx, agentID)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// RegisterOffline creates an offline placeholder record for agentID if one
// doesn't already exist, so a deliver_offline send has somewhere to queue
// into before the recipient ever calls register_agent itself (spec.md
// §4.2's deliver_offline option). Wired into messaging.Engine as a
// RegisterOfflineFunc.
func (r *Registry) RegisterOffline(ctx context.Context, agentID string) error {
	return store.RetryBusy(ctx, func() error {
		existing, err := r.lookup(ctx, agentID)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		epoch := timefmt.Format(time.Unix(0, 0).UTC())
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO agents (id, display_name, description, capabilities, session_id, registered_at, last_seen)
			VALUES (?, '', '', ?, '', ?, ?)
		`, agentID, marshalCaps(nil), epoch, epoch)
		return err
	})
}

// SweepStale deletes agent records that have been offline for longer than
// staleAfter and carry no pending inbox entries. This is the scavenger
// spec.md §5 calls for: an unregister that deletes a record can race a
// concurrent heartbeat that re-materializes it (a "zombie"), and the
// invariant spec.md guarantees is only that no two *live* agents share an
// id, not that every record is reachable from a live session. staleAfter
// should be well beyond heartbeatTTL so a merely-offline-but-reconnectable
// agent is never swept out from under it.
func (r *Registry) SweepStale(ctx context.Context, staleAfter time.Duration) error {
	return store.RetryBusy(ctx, func() error {
		cutoff := timefmt.Format(r.now().Add(-staleAfter))
		_, err := r.db.ExecContext(ctx, `
			DELETE FROM agents WHERE last_seen < ? AND id NOT IN (
				SELECT DISTINCT to_agent FROM inbox_messages WHERE status = 'pending'
			)
		`, cutoff)
		return err
	})
}

// Unregister implements spec.md §4.1's three unregister behaviors.
// keepIfPending forces offline-retention even with an empty inbox, for the
// external-watcher REST caller that never wants a hard delete.
func (r *Registry) Unregister(ctx context.Context, agentID string, keepIfPending bool) error {
	return store.RetryBusy(ctx, func() error {
		var pending int
		if err := r.db.GetContext(ctx, &pending, `
			SELECT count(*) FROM inbox_messages WHERE to_agent = ? AND status = 'pending'
		`, agentID); err != nil {
			return err
		}

		if pending == 0 && !keepIfPending {
			if _, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, agentID); err != nil {
				return err
			}
			if _, err := r.db.ExecContext(ctx, `DELETE FROM notify_tokens WHERE agent_id = ?`, agentID); err != nil {
				return err
			}
			return nil
		}

		// Mark offline by rewinding last_seen to the epoch; the record and
		// any queued messages are retained so a future Register can inherit
		// the pending queue.
		_, err := r.db.ExecContext(ctx, `UPDATE agents SET last_seen = ? WHERE id = ?`, timefmt.Format(time.Unix(0, 0).UTC()), agentID)
		return err
	})
}
