// Package mcpserver is the composition root: the dependency-ordered
// wiring of pkg/storage, pkg/session, pkg/authz, pkg/vault,
// pkg/approval, pkg/invoker, pkg/flow, and pkg/transport into the
// three operations an embedder actually calls. Grounded on
// cmd/tarsy/main.go's construction order, generalized from
// service-struct wiring to this core's component graph.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/mcpcore/pkg/approval"
	"github.com/codeready-toolchain/mcpcore/pkg/audit"
	"github.com/codeready-toolchain/mcpcore/pkg/authz"
	"github.com/codeready-toolchain/mcpcore/pkg/config"
	"github.com/codeready-toolchain/mcpcore/pkg/flow"
	"github.com/codeready-toolchain/mcpcore/pkg/invoker"
	"github.com/codeready-toolchain/mcpcore/pkg/session"
	"github.com/codeready-toolchain/mcpcore/pkg/storage"
	"github.com/codeready-toolchain/mcpcore/pkg/transport"
	"github.com/codeready-toolchain/mcpcore/pkg/vault"
)

// ErrUnsupportedAuthMode is returned by CreateSession when cfg.Auth.Mode
// names a mode this build does not know how to mint authorizations for.
var ErrUnsupportedAuthMode = errors.New("mcpserver: unsupported auth mode")

// ErrBearerTokenRequired is returned by CreateSession in forwarded or
// orchestrated mode when the request carries no token.
var ErrBearerTokenRequired = errors.New("mcpserver: bearer token required")

// ErrNoMatchingFlow is returned by Dispatch when no registered flow's
// CanActivate matches the decoded request.
var ErrNoMatchingFlow = errors.New("mcpserver: no flow matches request")

// CreateSessionRequest carries what a transport learned from the
// client's initialize call, plus whatever credential the active auth
// mode needs to mint an Authorization.
type CreateSessionRequest struct {
	ClientInfo   map[string]any
	Capabilities map[string]any
	BearerToken  string // required for forwarded/orchestrated, ignored for public
	UserClaims   *authz.UserClaims
	Scopes       []string
	ProviderID   string // orchestrated only: the primary provider this token belongs to
	// OnTokenRefresh is orchestrated-only: the provider-specific OAuth
	// refresh callback wired into the minted Authorization's GetToken.
	// Nil means this authorization never refreshes its own provider.
	OnTokenRefresh authz.RefreshFunc
}

// requestEnvelope is the minimal shape Dispatch decodes to route a
// request. Concrete MCP message framing/codecs are an external
// collaborator's concern; this is only what the router needs.
type requestEnvelope struct {
	Method string          `json:"method"`
	Scope  string          `json:"scope"`
	Params json.RawMessage `json:"params"`
}

// Server is the composition root wiring C1-C9 per the dependency order
// in SPEC_FULL.md's component table.
type Server struct {
	cfg *config.Config

	storageAdapter storage.Adapter
	sessions       *session.Store
	vault          *vault.Vault // nil unless auth.mode == orchestrated
	approvals      *approval.Store
	registry       *flow.Registry
	invoker        *invoker.Invoker
	auditStore     audit.Store

	logger *slog.Logger

	mu             sync.RWMutex
	authorizations map[string]authz.Authorization // authorizationID -> live Authorization
}

// New constructs a Server. registry must already have every Flow
// registered; auditStore and vaultInstance may be nil (no audit
// persistence / non-orchestrated auth mode, respectively).
func New(cfg *config.Config, storageAdapter storage.Adapter, sessions *session.Store, vaultInstance *vault.Vault, approvals *approval.Store, registry *flow.Registry, inv *invoker.Invoker, auditStore audit.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:            cfg,
		storageAdapter: storageAdapter,
		sessions:       sessions,
		vault:          vaultInstance,
		approvals:      approvals,
		registry:       registry,
		invoker:        inv,
		auditStore:     auditStore,
		logger:         logger,
		authorizations: make(map[string]authz.Authorization),
	}
}

// CreateSession mints an Authorization for req per cfg.Auth.Mode,
// allocates and persists a SessionRecord referencing it, and returns
// both. The Authorization is cached in-process (keyed by its ID) so
// later Dispatch calls for this session can resolve it without
// reconstructing vault-backed state from persisted claims alone.
func (s *Server) CreateSession(ctx context.Context, req CreateSessionRequest) (*session.Record, authz.Authorization, error) {
	id := s.sessions.AllocID()

	authorization, err := s.mintAuthorization(ctx, id, req)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	rec := &session.Record{
		ID:              id,
		ClientInfo:      req.ClientInfo,
		Capabilities:    req.Capabilities,
		AuthorizationID: authorization.ID(),
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.cfg.Session.TTL),
		MaxLifetimeAt:   now.Add(s.cfg.Session.MaxLifetime),
	}

	if err := s.sessions.Create(ctx, rec, s.cfg.Session.TTL); err != nil {
		return nil, nil, fmt.Errorf("mcpserver: create session: %w", err)
	}

	s.mu.Lock()
	s.authorizations[authorization.ID()] = authorization
	s.mu.Unlock()

	return rec, authorization, nil
}

func (s *Server) mintAuthorization(ctx context.Context, sessionID string, req CreateSessionRequest) (authz.Authorization, error) {
	switch s.cfg.Auth.Mode {
	case "public":
		return authz.NewAnonymous(sessionID, s.cfg.Auth.AnonymousScopes), nil

	case "forwarded":
		if req.BearerToken == "" {
			return nil, ErrBearerTokenRequired
		}
		return authz.NewForwarded(authz.ForwardedParams{
			Token:  req.BearerToken,
			User:   req.UserClaims,
			Scopes: req.Scopes,
		}), nil

	case "orchestrated":
		if req.BearerToken == "" {
			return nil, ErrBearerTokenRequired
		}
		if s.vault == nil {
			return nil, fmt.Errorf("mcpserver: orchestrated auth mode requires a vault")
		}
		auth := authz.NewOrchestrated(authz.OrchestratedParams{
			Token:             req.BearerToken,
			User:              req.UserClaims,
			Scopes:            req.Scopes,
			PrimaryProviderID: req.ProviderID,
			OnTokenRefresh:    req.OnTokenRefresh,
		}, s.vault)
		if req.ProviderID != "" {
			if err := auth.AddProvider(ctx, req.ProviderID, authz.TokenPair{AccessToken: req.BearerToken}); err != nil {
				return nil, fmt.Errorf("mcpserver: store initial provider token: %w", err)
			}
		}
		return auth, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAuthMode, s.cfg.Auth.Mode)
	}
}

// CloseSession deletes the session record and clears every approval
// grant scoped to it. Idempotent: closing an already-closed or unknown
// session is not an error.
func (s *Server) CloseSession(ctx context.Context, id string) error {
	rec, err := s.sessions.Get(ctx, id, session.GetOptions{})
	if err == nil {
		s.mu.Lock()
		delete(s.authorizations, rec.AuthorizationID)
		s.mu.Unlock()
	}

	if err := s.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("mcpserver: close session: %w", err)
	}
	if _, err := s.approvals.ClearSessionApprovals(ctx, id); err != nil {
		return fmt.Errorf("mcpserver: clear session approvals: %w", err)
	}
	return nil
}

// Dispatch decodes payload enough to route it to a registered flow,
// runs the flow through the invoker, and returns the sealed response
// marshaled back to JSON. transportHandle is threaded through the
// context's Scope for flows/hooks that need to push unsolicited
// messages (e.g. progress notifications) back down the same stream.
func (s *Server) Dispatch(ctx context.Context, sessionID string, transportHandle transport.StreamTransport, payload []byte) ([]byte, error) {
	rec, err := s.sessions.Get(ctx, sessionID, session.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("mcpserver: dispatch: %w", err)
	}

	var env requestEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("mcpserver: decode request: %w", err)
	}

	f, invokerFlow, ok := s.registry.Route(&env, flow.Scope(env.Scope))
	if !ok {
		return nil, fmt.Errorf("%w: method=%s scope=%s", ErrNoMatchingFlow, env.Method, env.Scope)
	}
	_ = f

	fc := invoker.NewContext(ctx, env.Params)
	fc.SessionID = sessionID
	fc.Scope = dispatchScope{name: env.Scope, transport: transportHandle}
	fc.Authorization = s.authorizationFor(rec.AuthorizationID, sessionID)
	fc.Logger = s.logger

	out, runErr := s.invoker.Run(invokerFlow, fc)
	if runErr != nil {
		return nil, runErr
	}

	if out == nil {
		return nil, nil
	}
	return json.Marshal(out)
}

// authorizationFor resolves the cached Authorization for authID,
// falling back to a fresh anonymous one scoped to sessionID if the
// process was restarted and the cache is cold. A colder-start
// reconstruction of forwarded/orchestrated authorizations from
// persisted claims is out of scope for this core: an embedder running
// multi-process needs to front Dispatch with its own Authorization
// cache keyed the same way, or re-authenticate on cold resume.
func (s *Server) authorizationFor(authID, sessionID string) authz.Authorization {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if auth, ok := s.authorizations[authID]; ok {
		return auth
	}
	return authz.NewAnonymous(sessionID, s.cfg.Auth.AnonymousScopes)
}

// dispatchScope is the concrete value threaded into invoker.Context's
// Scope field for a single Dispatch call.
type dispatchScope struct {
	name      string
	transport transport.StreamTransport
}

func (d dispatchScope) Name() string                        { return d.name }
func (d dispatchScope) Transport() transport.StreamTransport { return d.transport }

// DefaultAuthorizationChecker returns the flow.AuthorizationChecker
// wired into every Authenticated flow's 401 short-circuit hook: a
// caller must carry a non-anonymous, unexpired Authorization to reach
// an authenticated flow's pre stages at all. Tool-level grants
// (approval/skill-guard) are a separate, finer-grained check a flow's
// own hooks perform once inside the pipeline.
func DefaultAuthorizationChecker() flow.AuthorizationChecker {
	return func(fc *invoker.Context) error {
		if fc.Authorization == nil || fc.Authorization.Kind() == authz.KindAnonymous {
			return ErrUnauthorized
		}
		if exp := fc.Authorization.ExpiresAt(); !exp.IsZero() && exp.Before(time.Now()) {
			return ErrUnauthorized
		}
		return nil
	}
}

// ErrUnauthorized is returned by DefaultAuthorizationChecker when no
// valid, non-anonymous Authorization is present.
var ErrUnauthorized = errors.New("mcpserver: unauthorized")
