package transport

import (
	"net/http"
	"strconv"

	"github.com/c3po-dev/c3po/internal/coordinator/apierr"
	"github.com/c3po-dev/c3po/internal/coordinator/audit"
	"github.com/c3po-dev/c3po/internal/coordinator/auth"
)

type createKeyBody struct {
	AgentPattern string `json:"agent_pattern"`
	Description  string `json:"description"`
}

type createKeyResponse struct {
	KeyID string `json:"key_id"`
	Token string `json:"token"`
}

func adminCreateKey(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := deps.authenticate(w, r, auth.DomainAdmin, "register_key")
		if !ok {
			return
		}
		var body createKeyBody
		if err := decodeJSON(r, &body); err != nil {
			deps.writeError(w, err)
			return
		}
		if body.AgentPattern == "" {
			deps.writeError(w, apierr.Invalid("agent_pattern is required"))
			return
		}

		keyID, token, err := deps.Auth.CreateKey(r.Context(), body.AgentPattern, body.Description)
		if err != nil {
			deps.writeError(w, err)
			return
		}
		deps.Audit.Record(r.Context(), audit.ActorAdmin, p.ID, "create_key", keyID, "ok", audit.MarshalDetail(body))
		writeJSON(w, http.StatusCreated, createKeyResponse{KeyID: keyID, Token: token})
	}
}

func adminListKeys(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, ok := deps.authenticate(w, r, auth.DomainAdmin, "list_keys")
		if !ok {
			return
		}
		keys, err := deps.Auth.ListKeys(r.Context())
		if err != nil {
			deps.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, keys)
	}
}

func adminRevokeKey(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := deps.authenticate(w, r, auth.DomainAdmin, "revoke_key")
		if !ok {
			return
		}
		keyID := r.PathValue("keyID")
		if err := deps.Auth.RevokeKey(r.Context(), keyID); err != nil {
			deps.writeError(w, err)
			return
		}
		deps.Audit.Record(r.Context(), audit.ActorAdmin, p.ID, "revoke_key", keyID, "ok", "")
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func adminListAudit(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, ok := deps.authenticate(w, r, auth.DomainAdmin, "list_audit")
		if !ok {
			return
		}
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				limit = n
			}
		}
		entries, err := deps.Audit.List(r.Context(), limit)
		if err != nil {
			deps.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}
