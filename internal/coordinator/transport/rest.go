// REST surface (spec.md §4.6, §6): a narrower, explicit-status-code
// counterpart to the RPC surface, intended for the enrollment CLI and
// external "watcher" processes that poll an agent's inbox without being
// that agent (the critical distinction behind restWait's skipHeartbeat).
package transport

import (
	"net/http"
	"strconv"

	"github.com/c3po-dev/c3po/internal/coordinator/apierr"
	"github.com/c3po-dev/c3po/internal/coordinator/auth"
	"github.com/c3po-dev/c3po/internal/coordinator/identity"
	"github.com/c3po-dev/c3po/internal/coordinator/messaging"
	"github.com/c3po-dev/c3po/internal/coordinator/validate"
)

type restRegisterBody struct {
	Machine      string   `json:"machine"`
	Project      string   `json:"project"`
	SessionID    string   `json:"session_id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Description  string   `json:"description"`
}

func restRegister(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := deps.authenticate(w, r, auth.DomainAgent, "rest_register")
		if !ok {
			return
		}

		var body restRegisterBody
		if err := decodeJSON(r, &body); err != nil {
			deps.writeError(w, err)
			return
		}

		src, err := resolveIdentitySource(r, "", body.Machine, body.Project)
		if err != nil {
			deps.writeError(w, err)
			return
		}
		if src.SessionID == "" {
			src.SessionID = body.SessionID
		}
		if err := auth.CheckScope(p, src.AgentID); err != nil {
			deps.writeError(w, err)
			return
		}

		agentID, err := deps.canonicalAgentID(r.Context(), p, src, false)
		if err != nil {
			deps.writeError(w, err)
			return
		}
		caps, err := validateProfileFields(body.Name, body.Capabilities)
		if err != nil {
			deps.writeError(w, err)
			return
		}
		if body.Name != "" || caps != nil {
			if err := deps.Registry.UpdateProfile(r.Context(), agentID, body.Name, caps); err != nil {
				deps.writeError(w, err)
				return
			}
		}
		if body.Description != "" {
			if err := deps.Registry.SetDescription(r.Context(), agentID, body.Description); err != nil {
				deps.writeError(w, err)
				return
			}
		}

		rec, err := deps.Registry.Get(r.Context(), agentID)
		if err != nil {
			deps.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	}
}

func restIdentitySourceFromRequest(r *http.Request) (identity.Source, error) {
	return resolveIdentitySource(r, r.URL.Query().Get("agent_id"), r.URL.Query().Get("machine"), r.URL.Query().Get("project"))
}

func restPending(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := deps.authenticate(w, r, auth.DomainAgent, "rest_pending")
		if !ok {
			return
		}
		src, err := restIdentitySourceFromRequest(r)
		if err != nil {
			deps.writeError(w, err)
			return
		}
		if err := auth.CheckScope(p, src.AgentID); err != nil {
			deps.writeError(w, err)
			return
		}
		agentID, err := deps.canonicalAgentID(r.Context(), p, src, false)
		if err != nil {
			deps.writeError(w, err)
			return
		}
		msgs, err := deps.Messaging.Get(r.Context(), agentID)
		if err != nil {
			deps.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

// restWait implements GET /agent/api/wait?timeout=…. It does NOT update
// heartbeat (spec.md §4.6's "critical transport invariant": the external
// watcher polling this endpoint is not the agent itself), unlike the RPC
// wait_for_message tool.
func restWait(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := deps.authenticate(w, r, auth.DomainAgent, "rest_wait")
		if !ok {
			return
		}

		timeout := 30
		if raw := r.URL.Query().Get("timeout"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				deps.writeError(w, apierr.Invalid("timeout must be an integer number of seconds"))
				return
			}
			timeout = n
		}
		if err := validate.Timeout(timeout); err != nil {
			deps.writeError(w, apierr.Invalid(err.Error()))
			return
		}

		src, err := restIdentitySourceFromRequest(r)
		if err != nil {
			deps.writeError(w, err)
			return
		}
		if err := auth.CheckScope(p, src.AgentID); err != nil {
			deps.writeError(w, err)
			return
		}
		agentID, err := deps.canonicalAgentID(r.Context(), p, src, true)
		if err != nil {
			deps.writeError(w, err)
			return
		}

		var res messaging.WaitResult
		res, err = waitAnyUntilDeadline(r.Context(), deps.Messaging, agentID, secondsToDuration(timeout))
		if err != nil {
			deps.writeError(w, err)
			return
		}
		if res.TimedOut {
			writeJSON(w, http.StatusOK, map[string]string{"status": "timeout"})
			return
		}
		writeJSON(w, http.StatusOK, res.Messages)
	}
}

func restUnregister(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := deps.authenticate(w, r, auth.DomainAgent, "rest_unregister")
		if !ok {
			return
		}
		src, err := restIdentitySourceFromRequest(r)
		if err != nil {
			deps.writeError(w, err)
			return
		}
		if err := auth.CheckScope(p, src.AgentID); err != nil {
			deps.writeError(w, err)
			return
		}

		keep := r.URL.Query().Get("keep") == "true"
		if err := deps.Registry.Unregister(r.Context(), src.AgentID, keep); err != nil {
			deps.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
