package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/c3po-dev/c3po/internal/coordinator/apierr"
	"github.com/c3po-dev/c3po/internal/coordinator/auth"
	"github.com/c3po-dev/c3po/internal/coordinator/messaging"
	"github.com/c3po-dev/c3po/internal/coordinator/validate"
	"github.com/c3po-dev/c3po/internal/metrics"
	"github.com/c3po-dev/c3po/internal/util/timefmt"
)

// Tool identifies one RPC tool, per spec.md §9's "Dynamic duck-typed tool
// dispatch... reimplement as an enum of tool kinds + a typed handler
// table; payloads are per-tool tagged variants." The tool name is the wire
// value; a typed handler table (toolHandlers, below) replaces the
// source's name-string dispatch.
type Tool string

const (
	ToolPing           Tool = "ping"
	ToolListAgents     Tool = "list_agents"
	ToolRegisterAgent  Tool = "register_agent"
	ToolSetDescription Tool = "set_description"
	ToolSendMessage    Tool = "send_message"
	ToolReply          Tool = "reply"
	ToolGetMessages    Tool = "get_messages"
	ToolAckMessages    Tool = "ack_messages"
	ToolWaitForMessage Tool = "wait_for_message"
)

// rpcRequest is the wire envelope for every RPC call: a tool name plus its
// tagged-variant arguments.
type rpcRequest struct {
	Tool      Tool            `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// rpcHandlerFunc runs one tool's logic against an authenticated request,
// returning the JSON-serializable result or an *apierr.Error.
type rpcHandlerFunc func(ctx context.Context, deps *Deps, p *auth.Principal, r *http.Request, args json.RawMessage) (any, error)

var toolHandlers = map[Tool]rpcHandlerFunc{
	ToolPing:           rpcPing,
	ToolListAgents:     rpcListAgents,
	ToolRegisterAgent:  rpcRegisterAgent,
	ToolSetDescription: rpcSetDescription,
	ToolSendMessage:    rpcSendMessage,
	ToolReply:          rpcReply,
	ToolGetMessages:    rpcGetMessages,
	ToolAckMessages:    rpcAckMessages,
	ToolWaitForMessage: rpcWaitForMessage,
}

// rpcHandler builds the handler mounted at /agent/mcp or /oauth/mcp: it
// authenticates against domain, decodes the {tool, arguments} envelope,
// dispatches to the tool's handler, and writes either the result or a
// translated error.
func rpcHandler(deps *Deps, domain auth.Domain) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			deps.writeError(w, apierr.Invalid("RPC surface only accepts POST"))
			return
		}

		var req rpcRequest
		if err := decodeJSON(r, &req); err != nil {
			deps.writeError(w, err)
			return
		}

		handler, known := toolHandlers[req.Tool]
		if !known {
			deps.writeError(w, apierr.Invalid("unknown tool: "+string(req.Tool)))
			return
		}

		p, ok := deps.authenticate(w, r, domain, string(req.Tool))
		if !ok {
			return
		}

		result, err := handler(r.Context(), deps, p, r, req.Arguments)
		if err != nil {
			deps.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func unmarshalArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return apierr.Invalid("malformed arguments: " + err.Error())
	}
	return nil
}

func rpcPing(_ context.Context, _ *Deps, _ *auth.Principal, _ *http.Request, _ json.RawMessage) (any, error) {
	return map[string]any{"ok": true, "timestamp": timefmt.Format(nowUTC())}, nil
}

func rpcListAgents(ctx context.Context, deps *Deps, _ *auth.Principal, _ *http.Request, _ json.RawMessage) (any, error) {
	records, err := deps.Registry.List(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

type registerAgentArgs struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Description  string   `json:"description"`
}

func rpcRegisterAgent(ctx context.Context, deps *Deps, p *auth.Principal, r *http.Request, args json.RawMessage) (any, error) {
	var a registerAgentArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}

	src, err := resolveIdentitySource(r, "", "", "")
	if err != nil {
		return nil, err
	}
	if err := auth.CheckScope(p, src.AgentID); err != nil {
		return nil, err
	}

	agentID, err := deps.canonicalAgentID(ctx, p, src, false)
	if err != nil {
		return nil, err
	}

	caps, err := validateProfileFields(a.Name, a.Capabilities)
	if err != nil {
		return nil, err
	}
	if a.Name != "" || caps != nil {
		if err := deps.Registry.UpdateProfile(ctx, agentID, a.Name, caps); err != nil {
			return nil, err
		}
	}
	if a.Description != "" {
		if err := deps.Registry.SetDescription(ctx, agentID, a.Description); err != nil {
			return nil, err
		}
	}

	rec, err := deps.Registry.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

type setDescriptionArgs struct {
	Description string `json:"description"`
}

func rpcSetDescription(ctx context.Context, deps *Deps, p *auth.Principal, r *http.Request, args json.RawMessage) (any, error) {
	var a setDescriptionArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	agentID, err := requireAgentID(ctx, deps, p, r)
	if err != nil {
		return nil, err
	}
	if err := deps.Registry.SetDescription(ctx, agentID, a.Description); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

type sendMessageArgs struct {
	Target         string `json:"target"`
	Message        string `json:"message"`
	Context        string `json:"context"`
	DeliverOffline bool   `json:"deliver_offline"`
}

func rpcSendMessage(ctx context.Context, deps *Deps, p *auth.Principal, r *http.Request, args json.RawMessage) (any, error) {
	var a sendMessageArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Target == "" {
		return nil, apierr.Invalid("target is required")
	}
	from, err := requireAgentID(ctx, deps, p, r)
	if err != nil {
		return nil, err
	}
	env, err := deps.Messaging.Send(ctx, from, a.Target, a.Message, a.Context, messaging.Message, "", a.DeliverOffline)
	if err != nil {
		return nil, err
	}
	metrics.MessagesSentTotal.Inc()
	return env, nil
}

type replyArgs struct {
	MessageID string `json:"message_id"`
	Response  string `json:"response"`
	Status    string `json:"status"`
}

func rpcReply(ctx context.Context, deps *Deps, p *auth.Principal, r *http.Request, args json.RawMessage) (any, error) {
	var a replyArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	if a.MessageID == "" {
		return nil, apierr.Invalid("message_id is required")
	}
	from, err := requireAgentID(ctx, deps, p, r)
	if err != nil {
		return nil, err
	}
	to, err := repliesTo(a.MessageID)
	if err != nil {
		return nil, err
	}
	env, err := deps.Messaging.Send(ctx, from, to, a.Response, "", messaging.Reply, a.MessageID, false)
	if err != nil {
		return nil, err
	}
	metrics.MessagesSentTotal.Inc()
	return env, nil
}

func rpcGetMessages(ctx context.Context, deps *Deps, p *auth.Principal, r *http.Request, _ json.RawMessage) (any, error) {
	agentID, err := requireAgentID(ctx, deps, p, r)
	if err != nil {
		return nil, err
	}
	return deps.Messaging.Get(ctx, agentID)
}

type ackMessagesArgs struct {
	IDs []string `json:"ids"`
}

func rpcAckMessages(ctx context.Context, deps *Deps, p *auth.Principal, r *http.Request, args json.RawMessage) (any, error) {
	var a ackMessagesArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	agentID, err := requireAgentID(ctx, deps, p, r)
	if err != nil {
		return nil, err
	}
	if err := deps.Messaging.Ack(ctx, agentID, a.IDs); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

type waitForMessageArgs struct {
	Timeout int    `json:"timeout"`
	ReplyTo string `json:"reply_to"`
}

func rpcWaitForMessage(ctx context.Context, deps *Deps, p *auth.Principal, r *http.Request, args json.RawMessage) (any, error) {
	var a waitForMessageArgs
	if err := unmarshalArgs(args, &a); err != nil {
		return nil, err
	}
	timeout := a.Timeout
	if timeout == 0 {
		timeout = 30
	}
	if err := validate.Timeout(timeout); err != nil {
		return nil, apierr.Invalid(err.Error())
	}

	// wait_for_message updates the heartbeat: the agent itself is calling
	// (spec.md §4.6's "critical transport invariant", as opposed to the
	// REST /wait endpoint used by external watchers).
	agentID, err := requireAgentID(ctx, deps, p, r)
	if err != nil {
		return nil, err
	}

	metrics.WaitersBlocked.Inc()
	defer metrics.WaitersBlocked.Dec()

	var res messaging.WaitResult
	if a.ReplyTo != "" {
		res, err = deps.Messaging.WaitFor(ctx, agentID, a.ReplyTo, secondsToDuration(timeout))
	} else {
		res, err = waitAnyUntilDeadline(ctx, deps.Messaging, agentID, secondsToDuration(timeout))
	}
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		return map[string]string{"status": "timeout"}, nil
	}
	if a.ReplyTo != "" && len(res.Messages) == 1 {
		return res.Messages[0], nil
	}
	return res.Messages, nil
}

// requireAgentID resolves the calling agent's canonical id for tools that
// operate on "my inbox" (set_description, send_message, reply,
// get_messages, ack_messages, wait_for_message): an explicit agent_id
// argument isn't part of these tools' wire shape (spec.md §6), so the
// caller's identity always comes from headers via identity middleware.
func requireAgentID(ctx context.Context, deps *Deps, p *auth.Principal, r *http.Request) (string, error) {
	src, err := resolveIdentitySource(r, "", "", "")
	if err != nil {
		return "", err
	}
	return deps.canonicalAgentID(ctx, p, src, false)
}

func repliesTo(messageID string) (string, error) {
	// message id is {from_agent}::{to_agent}::{suffix}; a reply is sent
	// back to the original sender, i.e. segment 1.
	parts := strings.Split(messageID, "::")
	if len(parts) != 3 {
		return "", apierr.Invalid("malformed message_id")
	}
	return parts[0], nil
}
