// Package identity implements the Identity Middleware of spec.md §4.5:
// deriving the canonical agent_id from an explicit parameter or from
// X-Machine-Name/X-Project-Name headers (or REST body fields), enforcing
// the authenticated principal's scope, auto-registering on first contact,
// and updating the heartbeat.
package identity

import (
	"context"

	"github.com/c3po-dev/c3po/internal/coordinator/apierr"
	"github.com/c3po-dev/c3po/internal/coordinator/auth"
	"github.com/c3po-dev/c3po/internal/coordinator/registry"
)

// Source is a resolved, not-yet-registered agent identity plus its
// arbitration session id.
type Source struct {
	AgentID   string
	SessionID string
}

// Registrar is the subset of registry.Registry the middleware needs,
// narrowed to ease testing with a fake. The package still imports registry
// for its Record and Outcome types.
type Registrar interface {
	Get(ctx context.Context, agentID string) (*registry.Record, error)
	Register(ctx context.Context, requestedID, sessionID string) (*registry.Record, registry.Outcome, error)
	Heartbeat(ctx context.Context, agentID string) error
}

// Resolve derives the canonical agent id for a request: validates the
// requested id against the principal's scope, auto-registers it on first
// contact, updates its heartbeat unless skipHeartbeat is set (the REST
// wait endpoint's "external watcher" exemption, spec.md §4.6's "critical
// transport invariant"), and returns the canonical (possibly
// collision-suffixed) id.
//
// Already-registered ids take the cheap Get+Heartbeat path rather than
// re-running collision resolution on every call; collision probing only
// applies the first time an id is seen.
func Resolve(ctx context.Context, reg Registrar, p *auth.Principal, src Source, skipHeartbeat bool) (string, error) {
	if err := auth.CheckScope(p, src.AgentID); err != nil {
		return "", err
	}

	existing, err := reg.Get(ctx, src.AgentID)
	if err != nil {
		return "", err
	}

	var canonicalID string
	if existing != nil {
		canonicalID = existing.ID
	} else {
		rec, _, err := reg.Register(ctx, src.AgentID, src.SessionID)
		if err != nil {
			return "", err
		}
		canonicalID = rec.ID
	}

	if !skipHeartbeat {
		if err := reg.Heartbeat(ctx, canonicalID); err != nil {
			return "", apierr.StoreFailure(err)
		}
	}

	return canonicalID, nil
}
