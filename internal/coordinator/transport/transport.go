// Package transport is the coordinator's HTTP surface (spec.md §4.6, §6):
// an MCP-style RPC layer under /agent/mcp and /oauth/mcp, a REST subset
// under /agent/api and /admin/api, and the always-public /api/health.
// Path prefix alone decides the trust domain (spec.md §4.3) before any
// component method runs; this package owns that routing, the
// auth/rate-limit/identity middleware chain, and the error-taxonomy to
// HTTP-status translation (spec.md §7). It never touches the store
// directly — everything goes through the component packages passed in
// Deps, mirroring the teacher's hub/server.go wiring services into a
// single *http.ServeMux rather than hand-rolling routing logic per
// service.
package transport

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c3po-dev/c3po/internal/coordinator/audit"
	"github.com/c3po-dev/c3po/internal/coordinator/auth"
	"github.com/c3po-dev/c3po/internal/coordinator/messaging"
	"github.com/c3po-dev/c3po/internal/coordinator/ratelimit"
	"github.com/c3po-dev/c3po/internal/coordinator/registry"
)

// Deps wires every component the transport layer dispatches into. It plays
// the role of the explicit server-context value spec.md §9 calls for in
// place of global mutable singletons: one value, built once at server
// construction and threaded into every handler closure.
type Deps struct {
	Registry  *registry.Registry
	Messaging *messaging.Engine
	Auth      *auth.Manager
	RateLimit *ratelimit.Limiter
	Audit     *audit.Log
	Logger    *slog.Logger

	// BehindProxy makes rate-limit identity for anonymous callers trust
	// X-Forwarded-For / X-Real-IP instead of RemoteAddr (spec.md §4.6
	// "Behind-proxy awareness").
	BehindProxy bool
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// NewRouter builds the coordinator's full HTTP surface.
func NewRouter(deps *Deps) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/agent/mcp", rpcHandler(deps, auth.DomainAgent))
	mux.Handle("/oauth/mcp", rpcHandler(deps, auth.DomainOAuth))

	mux.HandleFunc("POST /agent/api/register", restRegister(deps))
	mux.HandleFunc("GET /agent/api/pending", restPending(deps))
	mux.HandleFunc("GET /agent/api/wait", restWait(deps))
	mux.HandleFunc("POST /agent/api/unregister", restUnregister(deps))

	mux.HandleFunc("GET /admin/api/keys", adminListKeys(deps))
	mux.HandleFunc("POST /admin/api/keys", adminCreateKey(deps))
	mux.HandleFunc("DELETE /admin/api/keys/{keyID}", adminRevokeKey(deps))
	mux.HandleFunc("GET /admin/api/audit", adminListAudit(deps))

	mux.HandleFunc("GET /api/health", healthHandler(deps))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}
