package approval

import (
	"context"
	"strings"
	"sync"
)

// PolicyMode controls how CheckToolAuthorization resolves a tool call
// that falls outside the active allowlist.
type PolicyMode string

const (
	PolicyStrict     PolicyMode = "strict"
	PolicyApproval   PolicyMode = "approval"
	PolicyPermissive PolicyMode = "permissive"
)

// Decision is the outcome of CheckToolAuthorization.
type Decision struct {
	Allowed          bool
	ToolName         string
	Reason           string
	RequiresApproval bool
}

// ErrToolNotAllowed indicates a strict-mode denial.
type ErrToolNotAllowed struct{ ToolName string }

func (e *ErrToolNotAllowed) Error() string { return "approval: tool not allowed: " + e.ToolName }

// ErrToolApprovalRequired indicates approval-mode requires a grant
// before the tool may run and none was available.
type ErrToolApprovalRequired struct{ ToolName string }

func (e *ErrToolApprovalRequired) Error() string {
	return "approval: tool approval required: " + e.ToolName
}

// ApprovalCallback is invoked in PolicyApproval mode when a tool
// requires approval; returning true grants a session-scoped approval
// so subsequent calls to the same tool are not re-prompted.
type ApprovalCallback func(ctx context.Context, toolName string) (bool, error)

// Guard is the skill guard: a per-session tool allowlist policy.
type Guard struct {
	mu               sync.RWMutex
	policyMode       PolicyMode
	toolAllowlist    map[string]struct{}
	activeSkillID    string
	sessionID        string
	approvalCallback ApprovalCallback
	store            *Store
}

// GuardOptions configures a new Guard.
type GuardOptions struct {
	PolicyMode       PolicyMode
	ToolAllowlist    []string
	ActiveSkillID    string
	SessionID        string
	ApprovalCallback ApprovalCallback
	// Store, when set, is consulted for an existing session-scoped
	// grant before ApprovalCallback runs, and persists the grant the
	// callback approves. With no Store, approval mode still calls
	// ApprovalCallback; a grant is then kept only in this Guard's
	// in-memory allowlist.
	Store *Store
}

// NewGuard constructs a Guard. PolicyMode defaults to PolicyStrict.
func NewGuard(opts GuardOptions) *Guard {
	mode := opts.PolicyMode
	if mode == "" {
		mode = PolicyStrict
	}
	allow := make(map[string]struct{}, len(opts.ToolAllowlist))
	for _, t := range opts.ToolAllowlist {
		allow[normalizeToolName(t)] = struct{}{}
	}
	return &Guard{
		policyMode:       mode,
		toolAllowlist:    allow,
		activeSkillID:    opts.ActiveSkillID,
		sessionID:        opts.SessionID,
		approvalCallback: opts.ApprovalCallback,
		store:            opts.Store,
	}
}

// normalizeToolName strips any "owner:" prefix: skill manifests only
// know tool names, not the runtime owner that qualifies them.
func normalizeToolName(name string) string {
	_, rest, found := strings.Cut(name, ":")
	if found {
		return rest
	}
	return name
}

func (g *Guard) allowed(toolName string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.toolAllowlist[normalizeToolName(toolName)]
	return ok
}

// Allow adds toolName to the session allowlist, used once an approval
// is granted so subsequent calls pass without re-checking the store.
func (g *Guard) Allow(toolName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.toolAllowlist[normalizeToolName(toolName)] = struct{}{}
}

// CheckToolAuthorization resolves whether toolName may be invoked
// under the guard's current policy.
func (g *Guard) CheckToolAuthorization(ctx context.Context, toolName string) (Decision, error) {
	if g.allowed(toolName) {
		return Decision{Allowed: true, ToolName: toolName}, nil
	}

	switch g.policyMode {
	case PolicyStrict:
		return Decision{Allowed: false, ToolName: toolName, Reason: "not in allowlist"},
			&ErrToolNotAllowed{ToolName: toolName}

	case PolicyPermissive:
		return Decision{Allowed: true, ToolName: toolName, Reason: "permissive mode"}, nil

	case PolicyApproval:
		if g.store != nil {
			approved, err := g.store.IsApproved(ctx, toolName, Selector{SessionID: g.sessionID})
			if err != nil {
				return Decision{}, err
			}
			if approved {
				g.Allow(toolName)
				return Decision{Allowed: true, ToolName: toolName}, nil
			}
		}
		if g.approvalCallback == nil {
			return Decision{Allowed: false, ToolName: toolName, RequiresApproval: true},
				&ErrToolApprovalRequired{ToolName: toolName}
		}
		granted, err := g.approvalCallback(ctx, toolName)
		if err != nil {
			return Decision{}, err
		}
		if !granted {
			return Decision{Allowed: false, ToolName: toolName, RequiresApproval: true},
				&ErrToolApprovalRequired{ToolName: toolName}
		}
		if g.store != nil {
			if _, err := g.store.GrantApproval(ctx, GrantRequest{
				ToolID:    toolName,
				Scope:     ScopeSession,
				SessionID: g.sessionID,
				GrantedBy: "approval-callback",
			}); err != nil {
				return Decision{}, err
			}
		}
		g.Allow(toolName)
		return Decision{Allowed: true, ToolName: toolName}, nil

	default:
		return Decision{Allowed: false, ToolName: toolName, Reason: "unknown policy mode"},
			&ErrToolNotAllowed{ToolName: toolName}
	}
}
