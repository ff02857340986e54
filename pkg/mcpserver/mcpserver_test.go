package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/mcpcore/pkg/approval"
	"github.com/codeready-toolchain/mcpcore/pkg/config"
	"github.com/codeready-toolchain/mcpcore/pkg/flow"
	"github.com/codeready-toolchain/mcpcore/pkg/invoker"
	"github.com/codeready-toolchain/mcpcore/pkg/session"
	"github.com/codeready-toolchain/mcpcore/pkg/storage"
	"github.com/codeready-toolchain/mcpcore/pkg/vault"
)

// echoFlow replies with its own input, used to exercise Dispatch
// end-to-end without a real MCP tool.
type echoFlow struct {
	name   string
	access flow.AccessLevel
}

func (f *echoFlow) Name() string            { return f.name }
func (f *echoFlow) InputSchema() any        { return nil }
func (f *echoFlow) OutputSchema() any       { return nil }
func (f *echoFlow) Access() flow.AccessLevel { return f.access }
func (f *echoFlow) CanActivate(request any, scope flow.Scope) bool {
	env, ok := request.(*requestEnvelope)
	return ok && env.Method == f.name
}
func (f *echoFlow) Plan() *invoker.Plan {
	return &invoker.Plan{Name: f.name, Pre: []string{"handle"}}
}
func (f *echoFlow) Hooks() []invoker.Hook {
	return []invoker.Hook{
		{Kind: invoker.HookStage, Stage: "handle", Handler: func(c *invoker.Context) error {
			c.Respond(map[string]any{"echoed": string(c.Input.(json.RawMessage))})
			return nil
		}},
	}
}

func newTestServer(t *testing.T, authMode string) *Server {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Auth.Mode = authMode
	cfg.Session.SigningSecret = "test-secret"

	adapter := storage.NewMemory(time.Minute)
	t.Cleanup(func() { _ = adapter.Close() })

	sessions := session.NewStore(adapter, session.Options{SigningSecret: []byte(cfg.Session.SigningSecret)})
	approvals := approval.NewStore(adapter)

	var v *vault.Vault
	if authMode == "orchestrated" {
		v = vault.New(adapter, []byte("0123456789abcdef0123456789abcdef"), nil)
	}

	registry := flow.NewRegistry(DefaultAuthorizationChecker())
	registry.Register(&echoFlow{name: "echo-public", access: flow.Public})
	registry.Register(&echoFlow{name: "echo-secure", access: flow.Authenticated})

	iv := invoker.New(nil)

	return New(cfg, adapter, sessions, v, approvals, registry, iv, nil, nil)
}

func TestCreateSessionPublicModeMintsAnonymousAuthorization(t *testing.T) {
	srv := newTestServer(t, "public")

	rec, auth, err := srv.CreateSession(context.Background(), CreateSessionRequest{
		ClientInfo: map[string]any{"name": "test-client"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, rec.AuthorizationID, auth.ID())
}

func TestCreateSessionForwardedModeRequiresBearerToken(t *testing.T) {
	srv := newTestServer(t, "forwarded")

	_, _, err := srv.CreateSession(context.Background(), CreateSessionRequest{})
	assert.ErrorIs(t, err, ErrBearerTokenRequired)
}

func TestCreateSessionOrchestratedModeStoresInitialProviderToken(t *testing.T) {
	srv := newTestServer(t, "orchestrated")

	_, auth, err := srv.CreateSession(context.Background(), CreateSessionRequest{
		BearerToken: "raw-token",
		ProviderID:  "github",
	})
	require.NoError(t, err)

	token, err := auth.GetToken(context.Background(), "github")
	require.NoError(t, err)
	assert.Equal(t, "raw-token", token)
}

func TestCloseSessionRemovesRecordAndClearsApprovals(t *testing.T) {
	srv := newTestServer(t, "public")
	ctx := context.Background()

	rec, _, err := srv.CreateSession(ctx, CreateSessionRequest{})
	require.NoError(t, err)

	_, err = srv.approvals.GrantApproval(ctx, approval.GrantRequest{
		ToolID:    "tool-a",
		Scope:     approval.ScopeSession,
		SessionID: rec.ID,
		GrantedBy: "tester",
	})
	require.NoError(t, err)

	require.NoError(t, srv.CloseSession(ctx, rec.ID))

	_, err = srv.sessions.Get(ctx, rec.ID, session.GetOptions{})
	assert.ErrorIs(t, err, session.ErrNotFound)

	approved, err := srv.approvals.IsApproved(ctx, "tool-a", approval.Selector{SessionID: rec.ID})
	require.NoError(t, err)
	assert.False(t, approved)
}

func TestDispatchRoutesToPublicFlowWithoutAuthorization(t *testing.T) {
	srv := newTestServer(t, "public")
	ctx := context.Background()

	rec, _, err := srv.CreateSession(ctx, CreateSessionRequest{})
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]any{"method": "echo-public", "scope": "default", "params": "hi"})
	require.NoError(t, err)

	out, err := srv.Dispatch(ctx, rec.ID, nil, payload)
	require.NoError(t, err)
	assert.Contains(t, string(out), "echoed")
}

func TestDispatchRejectsAuthenticatedFlowForAnonymousSession(t *testing.T) {
	srv := newTestServer(t, "public")
	ctx := context.Background()

	rec, _, err := srv.CreateSession(ctx, CreateSessionRequest{})
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]any{"method": "echo-secure", "scope": "default", "params": "hi"})
	require.NoError(t, err)

	_, err = srv.Dispatch(ctx, rec.ID, nil, payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDispatchFailsForUnknownSession(t *testing.T) {
	srv := newTestServer(t, "public")

	_, err := srv.Dispatch(context.Background(), "missing", nil, []byte(`{}`))
	assert.Error(t, err)
}
