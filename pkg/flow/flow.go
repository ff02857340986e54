// Package flow implements the flow registry and router: selecting which
// declarative pipeline handles an incoming MCP request. Grounded on the
// teacher's pkg/mcp/router.go, whose exact-match-first, validated-format
// routing (SplitToolName/NormalizeToolName) generalizes here from
// single-purpose tool-name parsing to flow selection by predicate.
package flow

import (
	"sort"

	"github.com/codeready-toolchain/mcpcore/pkg/invoker"
)

// AccessLevel declares whether a flow requires a live Authorization.
type AccessLevel string

const (
	Public        AccessLevel = "public"
	Authenticated AccessLevel = "authenticated"
)

// Scope is the logical namespace a request is addressed to: the server
// owns a set of tools/prompts/resources under each scope name.
type Scope string

// Flow is a named declarative pipeline handling one kind of request.
type Flow interface {
	Name() string
	Plan() *invoker.Plan
	Hooks() []invoker.Hook
	InputSchema() any
	OutputSchema() any
	CanActivate(request any, scope Scope) bool
	Access() AccessLevel
}

// Prioritized is an optional interface a Flow may implement to rank
// ahead of registration order during routing. Higher runs first.
type Prioritized interface {
	Priority() int32
}

// planHooks adapts a Flow to invoker.Flow by exposing its plan and
// hooks, including the auto-registered authorization hook for
// authenticated flows.
type planHooks struct {
	plan  *invoker.Plan
	hooks []invoker.Hook
}

func (p *planHooks) Plan() *invoker.Plan    { return p.plan }
func (p *planHooks) Hooks() []invoker.Hook { return p.hooks }

// entry is one registered flow plus its derived invoker-facing plan.
type entry struct {
	flow       Flow
	invokerFlow invoker.Flow
	order      int
}

// AuthorizationChecker is invoked by the router's 401 short-circuit
// hook. It returns an error when the current context carries no valid
// authorization for an authenticated flow.
type AuthorizationChecker func(*invoker.Context) error

// Registry holds registered flows and resolves requests to them.
type Registry struct {
	entries []*entry
	byName  map[string]*entry
	checker AuthorizationChecker
}

// NewRegistry constructs an empty Registry. checker is called by the
// authenticated-flow short-circuit hook; pass nil to disable the
// check (every flow behaves as Public).
func NewRegistry(checker AuthorizationChecker) *Registry {
	return &Registry{byName: make(map[string]*entry), checker: checker}
}

// Register adds f to the registry, extracting its plan and hooks and,
// for Authenticated flows, prepending a will(checkToolAuthorization)
// hook on the first stage of the plan's pre list so the 401
// short-circuit runs before any other pre-stage work.
func (r *Registry) Register(f Flow) {
	hooks := append([]invoker.Hook(nil), f.Hooks()...)
	if f.Access() == Authenticated && r.checker != nil && len(f.Plan().Pre) > 0 {
		firstStage := f.Plan().Pre[0]
		hooks = append([]invoker.Hook{{
			Kind:     invoker.HookWill,
			Stage:    firstStage,
			Priority: maxPriority,
			Handler: func(fc *invoker.Context) error {
				return r.checker(fc)
			},
		}}, hooks...)
	}

	e := &entry{
		flow:        f,
		invokerFlow: &planHooks{plan: f.Plan(), hooks: hooks},
		order:       len(r.entries),
	}
	r.entries = append(r.entries, e)
	r.byName[f.Name()] = e
}

// maxPriority ensures the authorization check always runs before any
// other will(pre) hook a flow registers on its first pre stage,
// regardless of what priority that flow's own hooks use.
const maxPriority = 1<<31 - 1

// Route returns the first registered flow whose CanActivate matches
// request and scope, preferring higher-Priority flows (for those
// implementing Prioritized) and breaking ties by registration order.
func (r *Registry) Route(request any, scope Scope) (Flow, invoker.Flow, bool) {
	candidates := make([]*entry, len(r.entries))
	copy(candidates, r.entries)

	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := priorityOf(candidates[i].flow), priorityOf(candidates[j].flow)
		if pi != pj {
			return pi > pj
		}
		return candidates[i].order < candidates[j].order
	})

	for _, e := range candidates {
		if e.flow.CanActivate(request, scope) {
			return e.flow, e.invokerFlow, true
		}
	}
	return nil, nil, false
}

func priorityOf(f Flow) int32 {
	if p, ok := f.(Prioritized); ok {
		return p.Priority()
	}
	return 0
}

// Resolve looks up a flow by name, used for direct invocation and
// testing.
func (r *Registry) Resolve(name string) (Flow, invoker.Flow, bool) {
	e, ok := r.byName[name]
	if !ok {
		return nil, nil, false
	}
	return e.flow, e.invokerFlow, true
}
