// Package invoker implements the staged flow pipeline: every MCP
// operation is expressed as a Plan of pre/execute/post/finalize/error
// stage lists, with will/did/around/stage hooks composed around each
// stage per spec.md §4.6. Grounded on the teacher's
// pkg/queue/pool.go/worker.go (per-request worker lifecycle, cancel
// registry pattern reused here for per-request cancellation checks)
// and pkg/mcp/recovery.go (typed classification of what happens next,
// reused for the error-stage jump).
package invoker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/codeready-toolchain/mcpcore/pkg/authz"
)

// HookKind tags which composition role a Hook plays for its stage.
type HookKind string

const (
	HookStage  HookKind = "stage"
	HookWill   HookKind = "will"
	HookDid    HookKind = "did"
	HookAround HookKind = "around"
)

// StageFunc is the handler signature for stage/will/did hooks.
type StageFunc func(*Context) error

// AroundFunc wraps a stage invocation; it must call next exactly once
// to proceed (calling it zero times short-circuits the stage; calling
// it more than once is a programmer error left undetected, matching
// spec.md's stance that composition errors are caught at plan-build
// time, not invocation time).
type AroundFunc func(next StageFunc) StageFunc

// Hook is one registered pipeline handler.
type Hook struct {
	Kind     HookKind
	Stage    string
	Priority int32
	Filter   func(*Context) bool
	// Handler holds a StageFunc for Kind in {stage, will, did}, or an
	// AroundFunc for Kind == around.
	Handler any
}

// Plan names the stage lists for one flow, per spec.md §4.6's default
// plan shape.
type Plan struct {
	Name     string
	Pre      []string
	Execute  []string
	Post     []string
	Finalize []string
	Error    []string
}

// DefaultPlan matches spec.md's default plan applied to MCP operations
// unless a flow overrides it.
var DefaultPlan = Plan{
	Name:     "default",
	Pre:      []string{"bindProviders", "acquireQuota", "acquireSemaphore", "parseInput", "deductInput", "validateInput"},
	Execute:  nil,
	Post:     []string{"redactOutput", "validateOutput"},
	Finalize: []string{"audit", "metrics"},
	Error:    []string{"error"},
}

// Flow is the minimal surface Run needs from a registered flow. Kept
// narrow (rather than importing pkg/flow) so invoker has no dependency
// on the registry package that depends on it.
type Flow interface {
	Plan() *Plan
	Hooks() []Hook
}

// Context is the per-invocation state threaded through every stage and
// hook, per spec.md §4.6's FlowContext data model.
type Context struct {
	Ctx           context.Context
	Input         any
	State         map[string]any
	Scope         any
	Authorization authz.Authorization
	SessionID     string
	Logger        *slog.Logger
	StartedAt     time.Time

	// Err is set when a pre/execute/post stage fails; error stages
	// inspect it. Cause is set if an error stage itself fails,
	// preserving the original error per spec.md's "cause" chaining.
	Err   error
	Cause error

	output any
	sealed bool
}

// Respond seals the context's output. Once sealed, further calls (and
// any output a later stage tries to set) are ignored, matching
// spec.md's "first respond() wins" invariant.
func (c *Context) Respond(v any) {
	if c.sealed {
		return
	}
	c.output = v
	c.sealed = true
}

// Output returns whatever was sealed by Respond, or nil.
func (c *Context) Output() any { return c.output }

// Sealed reports whether Respond has already been called.
func (c *Context) Sealed() bool { return c.sealed }

// NewContext constructs a Context carrying input and ctx. Use the
// Context's exported fields (Scope, Authorization, SessionID, Logger)
// to fill in the rest before calling Run.
func NewContext(ctx context.Context, input any) *Context {
	return &Context{Ctx: ctx, Input: input, State: make(map[string]any), StartedAt: time.Now()}
}

// FlowError wraps an error raised inside an error stage, preserving
// the original failure as Cause.
type FlowError struct {
	Err   error
	Cause error
}

func (e *FlowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v (cause: %v)", e.Err, e.Cause)
	}
	return e.Err.Error()
}

func (e *FlowError) Unwrap() error { return e.Err }

// stageHooks collects every hook registered for one stage label,
// pre-sorted for will/did ordering and in registration order for
// around composition.
type stageHooks struct {
	stage  StageFunc
	will   []Hook
	did    []Hook
	around []Hook
}

// HookTable is the per-Plan hook index, built once at flow-registration
// time and reused for every Run.
type HookTable struct {
	stages map[string]*stageHooks
}

// ErrUnknownStage is a build-time ("programmer") error: the plan names
// a stage label with no registered "stage" hook.
type ErrUnknownStage struct{ Stage string }

func (e *ErrUnknownStage) Error() string {
	return fmt.Sprintf("invoker: stage %q has no registered stage handler", e.Stage)
}

// BuildHookTable collects hooks into a HookTable and validates that
// every stage label the plan references has exactly one stage handler.
// This runs once at flow-registration time so a missing handler fails
// fast instead of surfacing mid-run.
func BuildHookTable(plan *Plan, hooks []Hook) (*HookTable, error) {
	table := &HookTable{stages: make(map[string]*stageHooks)}

	get := func(stage string) *stageHooks {
		sh, ok := table.stages[stage]
		if !ok {
			sh = &stageHooks{}
			table.stages[stage] = sh
		}
		return sh
	}

	for _, h := range hooks {
		// Accept the named StageFunc/AroundFunc types as well as plain
		// func literals; runStage and composeAround assert the latter.
		switch fn := h.Handler.(type) {
		case StageFunc:
			h.Handler = (func(*Context) error)(fn)
		case AroundFunc:
			h.Handler = (func(StageFunc) StageFunc)(fn)
		}
		sh := get(h.Stage)
		switch h.Kind {
		case HookStage:
			fn, ok := h.Handler.(func(*Context) error)
			if !ok {
				fn2, ok2 := h.Handler.(StageFunc)
				if !ok2 {
					return nil, fmt.Errorf("invoker: stage hook %q has wrong handler type", h.Stage)
				}
				fn = fn2
			}
			sh.stage = fn
		case HookWill:
			sh.will = append(sh.will, h)
		case HookDid:
			sh.did = append(sh.did, h)
		case HookAround:
			sh.around = append(sh.around, h)
		default:
			return nil, fmt.Errorf("invoker: unknown hook kind %q for stage %q", h.Kind, h.Stage)
		}
	}

	// will descending priority, did ascending priority; ties broken by
	// registration order, which sort.SliceStable preserves.
	for _, sh := range table.stages {
		sort.SliceStable(sh.will, func(i, j int) bool { return sh.will[i].Priority > sh.will[j].Priority })
		sort.SliceStable(sh.did, func(i, j int) bool { return sh.did[i].Priority < sh.did[j].Priority })
	}

	for _, stageName := range allStages(plan) {
		sh, ok := table.stages[stageName]
		if !ok || sh.stage == nil {
			return nil, &ErrUnknownStage{Stage: stageName}
		}
	}

	return table, nil
}

func allStages(plan *Plan) []string {
	var out []string
	out = append(out, plan.Pre...)
	out = append(out, plan.Execute...)
	out = append(out, plan.Post...)
	out = append(out, plan.Finalize...)
	out = append(out, plan.Error...)
	return out
}

// Invoker runs flows against their built hook tables, caching each
// flow's table after its first build.
type Invoker struct {
	mu     sync.Mutex
	tables map[Flow]*HookTable
	logger *slog.Logger
}

// New constructs an Invoker.
func New(logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{tables: make(map[Flow]*HookTable), logger: logger}
}

func (iv *Invoker) tableFor(flow Flow) (*HookTable, error) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if t, ok := iv.tables[flow]; ok {
		return t, nil
	}
	t, err := BuildHookTable(flow.Plan(), flow.Hooks())
	if err != nil {
		return nil, err
	}
	iv.tables[flow] = t
	return t, nil
}

// Run executes flow against fc, following the pre/execute/post order,
// jumping to error stages on failure, and always running finalize
// exactly once.
func (iv *Invoker) Run(flow Flow, fc *Context) (any, error) {
	table, err := iv.tableFor(flow)
	if err != nil {
		return nil, err
	}
	if fc.Logger == nil {
		fc.Logger = iv.logger
	}

	plan := flow.Plan()
	var stageErr error

	defer iv.runFinalize(table, plan.Finalize, fc)

	for _, stageList := range [][]string{plan.Pre, plan.Execute, plan.Post} {
		if stageErr != nil {
			break
		}
		if err := fc.Ctx.Err(); err != nil {
			stageErr = err
			break
		}
		for _, stageName := range stageList {
			if err := fc.Ctx.Err(); err != nil {
				stageErr = err
				break
			}
			if err := iv.runStage(table, stageName, fc); err != nil {
				stageErr = err
				break
			}
		}
	}

	if stageErr != nil {
		fc.Err = stageErr
		if errStageErr := iv.runErrorStages(table, plan.Error, fc); errStageErr != nil {
			stageErr = &FlowError{Err: errStageErr, Cause: stageErr}
		}
	}

	return fc.Output(), stageErr
}

// runStage runs one stage's will -> around(stage) -> did sequence.
func (iv *Invoker) runStage(table *HookTable, stageName string, fc *Context) error {
	sh, ok := table.stages[stageName]
	if !ok {
		return &ErrUnknownStage{Stage: stageName}
	}

	for _, h := range sh.will {
		if h.Filter != nil && !h.Filter(fc) {
			continue
		}
		if err := fc.Ctx.Err(); err != nil {
			return err
		}
		fn := h.Handler.(func(*Context) error)
		if err := fn(fc); err != nil {
			return err
		}
	}

	composed := composeAround(sh.around, sh.stage, fc)
	if err := fc.Ctx.Err(); err != nil {
		return err
	}
	if err := composed(fc); err != nil {
		return err
	}

	for _, h := range sh.did {
		if h.Filter != nil && !h.Filter(fc) {
			continue
		}
		if err := fc.Ctx.Err(); err != nil {
			return err
		}
		fn := h.Handler.(func(*Context) error)
		if err := fn(fc); err != nil {
			return err
		}
	}
	return nil
}

// composeAround builds the onion: arounds[0] is outermost. Cancellation
// is checked immediately before delegating to next, per spec.md's
// "checked between around and its next" requirement.
func composeAround(arounds []Hook, stage StageFunc, fc *Context) StageFunc {
	handler := stage
	for i := len(arounds) - 1; i >= 0; i-- {
		h := arounds[i]
		if h.Filter != nil && !h.Filter(fc) {
			continue
		}
		aroundFn := h.Handler.(func(StageFunc) StageFunc)
		inner := handler
		handler = aroundFn(func(c *Context) error {
			if err := c.Ctx.Err(); err != nil {
				return err
			}
			return inner(c)
		})
	}
	return handler
}

// runErrorStages runs the error stage list with the same will/around/did
// composition rules as a normal stage.
func (iv *Invoker) runErrorStages(table *HookTable, stages []string, fc *Context) error {
	for _, stageName := range stages {
		if err := iv.runStage(table, stageName, fc); err != nil {
			return err
		}
	}
	return nil
}

// runFinalize runs the finalize stage list unconditionally. Errors are
// logged, never returned: finalize failures must not mask the primary
// result.
func (iv *Invoker) runFinalize(table *HookTable, stages []string, fc *Context) {
	for _, stageName := range stages {
		if err := iv.runStage(table, stageName, fc); err != nil {
			fc.Logger.Error("invoker: finalize stage failed", "stage", stageName, "error", err)
		}
	}
}
