package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/c3po-dev/c3po/internal/coordinator/apierr"
	"github.com/c3po-dev/c3po/internal/coordinator/audit"
	"github.com/c3po-dev/c3po/internal/coordinator/auth"
	"github.com/c3po-dev/c3po/internal/coordinator/identity"
	"github.com/c3po-dev/c3po/internal/metrics"
)

// errorBody is the JSON shape every non-2xx response carries (spec.md §7:
// "a structured body with code, message, and suggestion").
type errorBody struct {
	Code       apierr.Kind `json:"code"`
	Message    string      `json:"message"`
	Suggestion string      `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates a component-level error into the HTTP status +
// structured body spec.md §7 prescribes. Anything that isn't already an
// *apierr.Error is treated as an unclassified exception: logged and
// reported as STORE_UNAVAILABLE, per spec.md §7's propagation policy — no
// unhandled exception may cross a request boundary.
func (d *Deps) writeError(w http.ResponseWriter, err error) {
	e := apierr.As(err)
	writeJSON(w, e.Kind.HTTPStatus(), errorBody{Code: e.Kind, Message: e.Message, Suggestion: e.Suggestion})
}

// decodeJSON reads and decodes a JSON request body, or returns an
// INVALID_REQUEST apierr.Error for malformed JSON. An empty body decodes
// into the zero value of v without error (every RPC tool's arguments are
// optional per spec.md §6).
func decodeJSON(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apierr.Invalid("malformed JSON body: " + err.Error())
	}
	return nil
}

// remoteIdentity resolves the rate-limit identity for an anonymous/unknown
// caller, honoring forwarded headers when the coordinator sits behind a
// reverse proxy (spec.md §4.6 "Behind-proxy awareness").
func remoteIdentity(r *http.Request, behindProxy bool) string {
	if behindProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			return strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
		if real := r.Header.Get("X-Real-IP"); real != "" {
			return real
		}
	}
	return r.RemoteAddr
}

// authenticate validates the Authorization header for domain and, on
// success, checks the per-(operation, identity) rate limit before
// returning the principal. On failure it writes the response itself and
// returns ok=false.
func (d *Deps) authenticate(w http.ResponseWriter, r *http.Request, domain auth.Domain, operation string) (p *auth.Principal, ok bool) {
	principal, err := d.Auth.Authenticate(r.Context(), domain, r.Header.Get("Authorization"))
	if err != nil {
		metrics.AuthFailuresTotal.WithLabelValues(string(domain)).Inc()
		d.Audit.Record(r.Context(), actorTypeFor(domain), "", "authenticate", string(domain), "denied", apierr.As(err).Message)
		d.writeError(w, err)
		return nil, false
	}

	rlIdentity := principal.ID
	if rlIdentity == "" || principal.Domain == auth.DomainAnonymous {
		rlIdentity = remoteIdentity(r, d.BehindProxy)
	}
	if !d.RateLimit.Check(r.Context(), operation, rlIdentity) {
		metrics.RateLimitDenialsTotal.WithLabelValues(operation).Inc()
		d.writeError(w, apierr.New(apierr.RateLimited, "rate limit exceeded for "+operation, "back off"))
		return nil, false
	}

	return principal, true
}

func actorTypeFor(domain auth.Domain) audit.ActorType {
	switch domain {
	case auth.DomainAgent:
		return audit.ActorAgent
	case auth.DomainOAuth:
		return audit.ActorProxy
	case auth.DomainAdmin:
		return audit.ActorAdmin
	default:
		return audit.ActorAnon
	}
}

// resolveIdentitySource derives the identity.Source spec.md §4.5 describes:
// an explicit agent id (arg, RPC or REST), falling back to the
// X-Machine-Name/X-Project-Name headers, falling back to REST body
// machine/project fields. The session id comes from X-Session-ID.
func resolveIdentitySource(r *http.Request, explicit, bodyMachine, bodyProject string) (identity.Source, error) {
	agentID := explicit
	if agentID == "" {
		machine := r.Header.Get("X-Machine-Name")
		project := r.Header.Get("X-Project-Name")
		if machine == "" {
			machine = bodyMachine
		}
		if project == "" {
			project = bodyProject
		}
		if machine != "" && project != "" {
			agentID = machine + "/" + project
		}
	}
	if agentID == "" {
		return identity.Source{}, apierr.Invalid("agent id could not be derived: supply target/agent_id, or X-Machine-Name + X-Project-Name headers")
	}
	return identity.Source{AgentID: agentID, SessionID: r.Header.Get("X-Session-ID")}, nil
}

// canonicalAgentID resolves and registers the caller's own identity for an
// operation that needs one, applying the principal's scope check along the
// way. skipHeartbeat is true only for the REST /wait endpoint (spec.md
// §4.6's "critical transport invariant": the external watcher is not the
// agent).
func (d *Deps) canonicalAgentID(ctx context.Context, p *auth.Principal, src identity.Source, skipHeartbeat bool) (string, error) {
	return identity.Resolve(ctx, d.Registry, p, src, skipHeartbeat)
}
