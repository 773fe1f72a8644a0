package identity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c3po-dev/c3po/internal/coordinator/apierr"
	"github.com/c3po-dev/c3po/internal/coordinator/auth"
	"github.com/c3po-dev/c3po/internal/coordinator/identity"
	"github.com/c3po-dev/c3po/internal/coordinator/registry"
)

type fakeRegistrar struct {
	records        map[string]*registry.Record
	heartbeatCalls int
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{records: map[string]*registry.Record{}}
}

func (f *fakeRegistrar) Get(ctx context.Context, agentID string) (*registry.Record, error) {
	return f.records[agentID], nil
}

func (f *fakeRegistrar) Register(ctx context.Context, requestedID, sessionID string) (*registry.Record, registry.Outcome, error) {
	rec := &registry.Record{ID: requestedID, SessionID: sessionID}
	f.records[requestedID] = rec
	return rec, registry.Created, nil
}

func (f *fakeRegistrar) Heartbeat(ctx context.Context, agentID string) error {
	f.heartbeatCalls++
	return nil
}

func TestResolve_AutoRegistersUnknownAgent(t *testing.T) {
	reg := newFakeRegistrar()
	p := &auth.Principal{AgentPattern: "*"}

	id, err := identity.Resolve(context.Background(), reg, p, identity.Source{AgentID: "lab/A", SessionID: "s1"}, false)
	require.NoError(t, err)
	assert.Equal(t, "lab/A", id)
	assert.Equal(t, 1, reg.heartbeatCalls)
}

func TestResolve_SkipsHeartbeatWhenRequested(t *testing.T) {
	reg := newFakeRegistrar()
	p := &auth.Principal{AgentPattern: "*"}

	_, err := identity.Resolve(context.Background(), reg, p, identity.Source{AgentID: "lab/A", SessionID: "s1"}, true)
	require.NoError(t, err)
	assert.Equal(t, 0, reg.heartbeatCalls)
}

func TestResolve_RejectsOutOfScopeAgentID(t *testing.T) {
	reg := newFakeRegistrar()
	p := &auth.Principal{AgentPattern: "lab/*"}

	_, err := identity.Resolve(context.Background(), reg, p, identity.Source{AgentID: "other/proj", SessionID: "s1"}, false)
	require.Error(t, err)
	assert.Equal(t, apierr.ForbiddenScope, apierr.As(err).Kind)
}

func TestResolve_ExistingAgentSkipsRegister(t *testing.T) {
	reg := newFakeRegistrar()
	reg.records["lab/A"] = &registry.Record{ID: "lab/A"}
	p := &auth.Principal{AgentPattern: "*"}

	id, err := identity.Resolve(context.Background(), reg, p, identity.Source{AgentID: "lab/A", SessionID: "s1"}, false)
	require.NoError(t, err)
	assert.Equal(t, "lab/A", id)
}
