package transport

import (
	"net/http"

	"github.com/c3po-dev/c3po/internal/coordinator/registry"
)

// healthHandler serves the always-public GET /api/health (spec.md §6):
// never 4xx, regardless of auth configuration.
func healthHandler(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Registry.List(r.Context())
		if err != nil {
			// Health must never fail even if the store is struggling; report
			// degraded status inline rather than a non-2xx.
			writeJSON(w, http.StatusOK, map[string]any{"status": "degraded", "agents_online": 0})
			return
		}
		online := 0
		for _, rec := range records {
			if rec.Status == registry.Online {
				online++
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "agents_online": online})
	}
}
