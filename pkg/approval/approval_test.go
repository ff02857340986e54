package approval

import (
	"context"
	"testing"
	"time"

	"github.com/codeready-toolchain/mcpcore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	adapter := storage.NewMemory(time.Hour)
	t.Cleanup(func() { _ = adapter.Close() })
	return NewStore(adapter)
}

func TestGrantAndIsApprovedSessionScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GrantApproval(ctx, GrantRequest{
		ToolID:    "write_file",
		Scope:     ScopeSession,
		SessionID: "sess-1",
		GrantedBy: "user",
	})
	require.NoError(t, err)

	ok, err := s.IsApproved(ctx, "write_file", Selector{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsApproved(ctx, "write_file", Selector{SessionID: "other-session"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTimeLimitedApprovalExpires(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.GrantApproval(ctx, GrantRequest{
		ToolID:    "danger_tool",
		Scope:     ScopeTimeLimited,
		SessionID: "sess-1",
		TTLMs:     10,
		GrantedBy: "user",
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	ok, err := s.IsApproved(ctx, "danger_tool", Selector{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(30 * time.Millisecond)

	ok, err = s.IsApproved(ctx, "danger_tool", Selector{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.False(t, ok, "time_limited approval should be expired")
}

func TestRevokeApproval(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GrantApproval(ctx, GrantRequest{
		ToolID: "tool_x", Scope: ScopeUser, UserID: "u1", GrantedBy: "admin",
	})
	require.NoError(t, err)

	revoked, err := s.RevokeApproval(ctx, RevokeRequest{ToolID: "tool_x", UserID: "u1", RevokedBy: "admin"})
	require.NoError(t, err)
	assert.True(t, revoked)

	ok, err := s.IsApproved(ctx, "tool_x", Selector{UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearSessionApprovalsRemovesOnlyThatSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GrantApproval(ctx, GrantRequest{ToolID: "a", Scope: ScopeSession, SessionID: "s1", GrantedBy: "u"})
	require.NoError(t, err)
	_, err = s.GrantApproval(ctx, GrantRequest{ToolID: "b", Scope: ScopeSession, SessionID: "s1", GrantedBy: "u"})
	require.NoError(t, err)
	_, err = s.GrantApproval(ctx, GrantRequest{ToolID: "c", Scope: ScopeSession, SessionID: "s2", GrantedBy: "u"})
	require.NoError(t, err)

	n, err := s.ClearSessionApprovals(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := s.IsApproved(ctx, "c", Selector{SessionID: "s2"})
	require.NoError(t, err)
	assert.True(t, ok, "s2's approvals must survive clearing s1")
}

func TestQueryApprovalsFiltersByToolAndState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GrantApproval(ctx, GrantRequest{ToolID: "a", Scope: ScopeSession, SessionID: "s1", GrantedBy: "u"})
	require.NoError(t, err)
	_, err = s.GrantApproval(ctx, GrantRequest{ToolID: "b", Scope: ScopeSession, SessionID: "s1", GrantedBy: "u"})
	require.NoError(t, err)

	recs, err := s.QueryApprovals(ctx, Query{SessionID: "s1", ToolID: "a", States: []State{StateApproved}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].ToolID)
}

func TestSkillGuardStrictMode(t *testing.T) {
	g := NewGuard(GuardOptions{PolicyMode: PolicyStrict, ToolAllowlist: []string{"read_file"}})

	d, err := g.CheckToolAuthorization(context.Background(), "read_file")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	_, err = g.CheckToolAuthorization(context.Background(), "write_file")
	var notAllowed *ErrToolNotAllowed
	assert.ErrorAs(t, err, &notAllowed)
}

func TestSkillGuardNormalizesOwnerPrefix(t *testing.T) {
	g := NewGuard(GuardOptions{PolicyMode: PolicyStrict, ToolAllowlist: []string{"read_file"}})
	d, err := g.CheckToolAuthorization(context.Background(), "fs-server:read_file")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestSkillGuardPermissiveMode(t *testing.T) {
	g := NewGuard(GuardOptions{PolicyMode: PolicyPermissive})
	d, err := g.CheckToolAuthorization(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestSkillGuardApprovalModeWithoutCallback(t *testing.T) {
	g := NewGuard(GuardOptions{PolicyMode: PolicyApproval, SessionID: "s1"})
	_, err := g.CheckToolAuthorization(context.Background(), "write_file")
	var needsApproval *ErrToolApprovalRequired
	assert.ErrorAs(t, err, &needsApproval)
}

func TestSkillGuardApprovalModeWithCallbackGrants(t *testing.T) {
	store := newTestStore(t)
	g := NewGuard(GuardOptions{
		PolicyMode: PolicyApproval,
		SessionID:  "s1",
		Store:      store,
		ApprovalCallback: func(context.Context, string) (bool, error) {
			return true, nil
		},
	})

	d, err := g.CheckToolAuthorization(context.Background(), "write_file")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// Second call should not re-prompt: it's now in the local allowlist.
	d, err = g.CheckToolAuthorization(context.Background(), "write_file")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
