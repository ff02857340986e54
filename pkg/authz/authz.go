// Package authz implements the authorization model: a tagged sum type
// over anonymous, forwarded, and orchestrated authorization, unified
// behind the Authorization interface the invoker and flow router
// consume. Grounded on the Design Notes' tagged-sum-type guidance and
// the teacher's enum-plus-struct conventions in pkg/mcp/recovery.go
// (RecoveryAction enum backing typed behavior).
package authz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// AllTools is the sentinel toolID that authorizes every tool a fixed or
// progressive grant would otherwise have to name individually.
const AllTools = "*"

// Kind tags which concrete Authorization variant a value is.
type Kind string

const (
	KindAnonymous    Kind = "anonymous"
	KindForwarded    Kind = "forwarded"
	KindOrchestrated Kind = "orchestrated"
)

// UserClaims is the opaque, client-declared identity attached to a
// forwarded or orchestrated authorization.
type UserClaims struct {
	Subject string
	Email   string
	Extra   map[string]string
}

// Authorization is implemented by AnonymousAuth, ForwardedAuth, and
// OrchestratedAuth.
type Authorization interface {
	ID() string
	Kind() Kind
	User() *UserClaims
	Scopes() map[string]struct{}
	ExpiresAt() time.Time
	IsToolAuthorized(toolID string) bool
	IsAppAuthorized(appID string) bool
	GetAppToolIDs(appID string) ([]string, bool)
	GetToken(ctx context.Context, providerID string) (string, error)
}

// ErrTokenNotAvailable is returned by GetToken when no provider
// credential exists for the requested providerID.
var ErrTokenNotAvailable = &tokenError{"authz: token not available"}

// ErrVaultRequired is returned by the progressive authorization
// operations (AddProvider, AddAppAuthorization) when no TokenResolver
// was supplied at construction: storing tokens without a vault to put
// them in is a programming error, not a recoverable one.
var ErrVaultRequired = &tokenError{"authz: vault handle required for progressive authorization"}

type tokenError struct{ msg string }

func (e *tokenError) Error() string { return e.msg }

// TokenPair is the access/refresh token pair a RefreshFunc returns.
// pkg/vault.TokenPair is a type alias to this type (not a distinct
// defined type), so a *vault.Vault's methods satisfy TokenResolver
// without pkg/authz importing pkg/vault.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // zero means no expiry
}

// RefreshFunc fetches a fresh token pair for providerID given its
// current refresh token. Supplied once at NewOrchestrated time (the
// onTokenRefresh callback) and invoked by GetToken whenever a
// provider's expiresAt has passed.
type RefreshFunc func(ctx context.Context, providerID, refreshToken string) (TokenPair, error)

// base holds the fields common to every Authorization variant.
type base struct {
	id        string
	user      *UserClaims
	scopes    map[string]struct{}
	expiresAt time.Time
}

func (b *base) ID() string                   { return b.id }
func (b *base) User() *UserClaims            { return b.user }
func (b *base) Scopes() map[string]struct{}  { return b.scopes }
func (b *base) ExpiresAt() time.Time         { return b.expiresAt }

func scopeSet(scopes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return set
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// AnonymousAuth grants no tool or app access; it exists so unauthenticated
// sessions still flow through the same Authorization contract.
type AnonymousAuth struct {
	base
}

// NewAnonymous constructs an AnonymousAuth scoped to sessionID.
func NewAnonymous(sessionID string, scopes []string) *AnonymousAuth {
	return &AnonymousAuth{base: base{
		id:     "anon:" + sessionID,
		scopes: scopeSet(scopes),
	}}
}

func (a *AnonymousAuth) Kind() Kind                        { return KindAnonymous }
func (a *AnonymousAuth) IsToolAuthorized(string) bool       { return false }
func (a *AnonymousAuth) IsAppAuthorized(string) bool        { return false }
func (a *AnonymousAuth) GetAppToolIDs(string) ([]string, bool) { return nil, false }
func (a *AnonymousAuth) GetToken(context.Context, string) (string, error) {
	return "", ErrTokenNotAvailable
}

// ForwardedParams constructs a ForwardedAuth: a caller-supplied bearer
// token the core trusts without itself managing refresh.
type ForwardedParams struct {
	Token     string
	User      *UserClaims
	Scopes    []string
	ExpiresAt time.Time
	// ToolIDs is the fixed set of tools this forwarded token authorizes.
	ToolIDs []string
}

// ForwardedAuth wraps a caller-forwarded token. Its tool grant is fixed
// at construction time; it has no progressive authorization surface.
type ForwardedAuth struct {
	base
	token   string
	toolIDs map[string]struct{}
}

// NewForwarded constructs a ForwardedAuth. id = sha256Hex(token)[:32],
// giving forwarded authorizations a stable but non-reversible identity.
func NewForwarded(params ForwardedParams) *ForwardedAuth {
	tools := make(map[string]struct{}, len(params.ToolIDs))
	for _, t := range params.ToolIDs {
		tools[t] = struct{}{}
	}
	return &ForwardedAuth{
		base: base{
			id:        sha256Hex(params.Token)[:32],
			user:      params.User,
			scopes:    scopeSet(params.Scopes),
			expiresAt: params.ExpiresAt,
		},
		token:   params.Token,
		toolIDs: tools,
	}
}

func (f *ForwardedAuth) Kind() Kind { return KindForwarded }

func (f *ForwardedAuth) IsToolAuthorized(toolID string) bool {
	if _, ok := f.toolIDs[AllTools]; ok {
		return true
	}
	_, ok := f.toolIDs[toolID]
	return ok
}

func (f *ForwardedAuth) IsAppAuthorized(string) bool { return false }

func (f *ForwardedAuth) GetAppToolIDs(string) ([]string, bool) { return nil, false }

func (f *ForwardedAuth) GetToken(_ context.Context, providerID string) (string, error) {
	if providerID != "" {
		return "", ErrTokenNotAvailable
	}
	return f.token, nil
}

// OrchestratedParams constructs an OrchestratedAuth.
type OrchestratedParams struct {
	Token     string
	User      *UserClaims
	Scopes    []string
	ExpiresAt time.Time
	// AuthorizedProviderIDs, when non-nil, is the explicit allowlist
	// governing tool visibility — see the precedence decision recorded
	// in DESIGN.md: it wins over the derived provider-state set for
	// IsToolAuthorized, but the derived set still governs GetToken.
	AuthorizedProviderIDs []string
	// PrimaryProviderID is the provider GetToken resolves to when called
	// with an empty providerID.
	PrimaryProviderID string
	// OnTokenRefresh is invoked by GetToken whenever a provider's
	// expiresAt has passed. Nil means this authorization never refreshes:
	// GetToken always delegates to the resolver's GetToken and returns
	// whatever it reports for an expired provider.
	OnTokenRefresh RefreshFunc
}

// appGrant is one app's authorized tool set and token reference.
type appGrant struct {
	toolIDs []string
}

// providerState is the in-memory half of a provider's credential
// record: secretRefId and refreshRefId name the vault entries holding
// the actual tokens (never the tokens themselves), and expiresAt is
// checked on every GetToken to decide whether a refresh is due.
type providerState struct {
	providerID   string
	secretRefID  string
	refreshRefID string
	expiresAt    time.Time
}

func providerSecretRef(providerID string) string  { return providerID }
func providerRefreshRef(providerID string) string { return providerID + ":refresh" }

// appProviderID is the provider id an app's progressively granted
// tokens are stored under, per the vault:{authId}:app:{appId} key
// shape addProvider/addAppAuthorization share.
func appProviderID(appID string) string { return "app:" + appID }

// OrchestratedAuth is the only variant with a progressive authorization
// surface: providers and app grants can be added/removed after
// construction, and tokens are resolved lazily through a TokenResolver
// (normally backed by pkg/vault).
type OrchestratedAuth struct {
	base

	mu                    sync.RWMutex
	explicitProviderIDs   map[string]struct{} // nil means "no explicit list"
	providers             map[string]*providerState
	apps                  map[string]*appGrant
	primaryProviderID     string
	onTokenRefresh        RefreshFunc

	resolver TokenResolver
}

// TokenResolver is implemented by pkg/vault.Vault; kept as an interface
// here so pkg/authz has no import-time dependency on pkg/vault. Its
// TokenPair/RefreshFunc parameters are the types declared in this
// package — pkg/vault's own TokenPair/RefreshFunc are aliases to them,
// not distinct defined types, so a *vault.Vault satisfies this
// interface without either package importing the other's concrete
// struct types.
type TokenResolver interface {
	GetToken(ctx context.Context, authID, providerID string) (string, error)
	StoreTokens(ctx context.Context, authID, providerID string, tokens TokenPair) error
	Refresh(ctx context.Context, authID, providerID string, refresh RefreshFunc) (TokenPair, error)
}

// NewOrchestrated constructs an OrchestratedAuth. Raw tokens are never
// retained beyond this call: callers that already hold an initial
// provider token pass it to AddProvider once construction is done, and
// OrchestratedAuth only ever resolves tokens through resolver from then
// on.
func NewOrchestrated(params OrchestratedParams, resolver TokenResolver) *OrchestratedAuth {
	var explicit map[string]struct{}
	if params.AuthorizedProviderIDs != nil {
		explicit = make(map[string]struct{}, len(params.AuthorizedProviderIDs))
		for _, p := range params.AuthorizedProviderIDs {
			explicit[p] = struct{}{}
		}
	}
	return &OrchestratedAuth{
		base: base{
			id:        sha256Hex(params.Token)[:32],
			user:      params.User,
			scopes:    scopeSet(params.Scopes),
			expiresAt: params.ExpiresAt,
		},
		explicitProviderIDs: explicit,
		providers:           make(map[string]*providerState),
		apps:                make(map[string]*appGrant),
		primaryProviderID:   params.PrimaryProviderID,
		onTokenRefresh:      params.OnTokenRefresh,
		resolver:            resolver,
	}
}

func (o *OrchestratedAuth) Kind() Kind { return KindOrchestrated }

// AddProvider stores tokens in the vault for providerID and records its
// provider state, making it immediately resolvable through GetToken.
// Requires a vault handle: it returns ErrVaultRequired if none was
// supplied at construction.
func (o *OrchestratedAuth) AddProvider(ctx context.Context, providerID string, tokens TokenPair) error {
	if o.resolver == nil {
		return ErrVaultRequired
	}
	if err := o.resolver.StoreTokens(ctx, o.ID(), providerID, tokens); err != nil {
		return err
	}
	o.mu.Lock()
	o.providers[providerID] = &providerState{
		providerID:   providerID,
		secretRefID:  providerSecretRef(providerID),
		refreshRefID: providerRefreshRef(providerID),
		expiresAt:    tokens.ExpiresAt,
	}
	o.mu.Unlock()
	return nil
}

// RemoveProvider drops providerID's state. It does not touch the
// vault; callers that want the credential deleted too must call
// vault.DeleteTokens separately.
func (o *OrchestratedAuth) RemoveProvider(providerID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.providers, providerID)
}

// AddAppAuthorization grants appID access to toolIDs and stores tokens
// in the vault under provider id "app:"+appID, so the grant carries a
// usable token from the moment it is issued: getAppToken and the
// ordinary GetToken path both resolve it through that provider id.
// Per the Open Question resolution in DESIGN.md, a second call for the
// same appID REPLACES the prior grant rather than merging tool sets —
// this keeps a revoked tool from persisting through a stale union
// under concurrent grants. Requires a vault handle.
func (o *OrchestratedAuth) AddAppAuthorization(ctx context.Context, appID string, toolIDs []string, tokens TokenPair) error {
	if o.resolver == nil {
		return ErrVaultRequired
	}
	providerID := appProviderID(appID)
	if err := o.resolver.StoreTokens(ctx, o.ID(), providerID, tokens); err != nil {
		return err
	}

	cp := make([]string, len(toolIDs))
	copy(cp, toolIDs)

	o.mu.Lock()
	o.apps[appID] = &appGrant{toolIDs: cp}
	o.providers[providerID] = &providerState{
		providerID:   providerID,
		secretRefID:  providerSecretRef(providerID),
		refreshRefID: providerRefreshRef(providerID),
		expiresAt:    tokens.ExpiresAt,
	}
	o.mu.Unlock()
	return nil
}

// RemoveAppAuthorization revokes appID's grant entirely. It does not
// touch the vault; callers that want the app-scoped credential deleted
// too must call vault.DeleteTokens separately.
func (o *OrchestratedAuth) RemoveAppAuthorization(appID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.apps, appID)
	delete(o.providers, appProviderID(appID))
}

// GetAppToken returns appID's progressively granted token, resolved the
// same way GetToken resolves any other provider (through the vault,
// with refresh-on-expiry if onTokenRefresh was configured).
func (o *OrchestratedAuth) GetAppToken(ctx context.Context, appID string) (string, error) {
	return o.GetToken(ctx, appProviderID(appID))
}

// GetAppToolIDs returns the tool ids appID is currently authorized for.
func (o *OrchestratedAuth) GetAppToolIDs(appID string) ([]string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	g, ok := o.apps[appID]
	if !ok {
		return nil, false
	}
	out := make([]string, len(g.toolIDs))
	copy(out, g.toolIDs)
	return out, true
}

// IsAppAuthorized reports whether appID has any grant at all.
func (o *OrchestratedAuth) IsAppAuthorized(appID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.apps[appID]
	return ok
}

// IsToolAuthorized reports whether toolID is reachable through any
// granted app. Visibility is governed by the explicit
// AuthorizedProviderIDs list when one was supplied at construction; a
// provider outside that list never makes its tools visible even if a
// live credential exists for it (see the precedence decision in
// DESIGN.md).
func (o *OrchestratedAuth) IsToolAuthorized(toolID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for appID, g := range o.apps {
		if o.explicitProviderIDs != nil {
			if _, ok := o.explicitProviderIDs[appID]; !ok {
				continue
			}
		}
		for _, t := range g.toolIDs {
			if t == toolID || t == AllTools {
				return true
			}
		}
	}
	return false
}

// GetToken resolves providerID's access token via the resolver
// (normally pkg/vault.Vault). An empty providerID resolves to
// primaryProviderID. Refresh eligibility is governed by the derived
// provider-state set, not the explicit visibility list: a caller can
// hold a live credential for a provider it was never explicitly
// granted visibility into (e.g. one added mid-session before the grant
// caught up), and GetToken still resolves it.
//
// When the provider's expiresAt has passed and an onTokenRefresh
// callback was configured, GetToken invokes resolver.Refresh instead of
// resolver.GetToken and, on success, atomically updates both the vault
// (inside Refresh) and this provider's in-memory expiresAt.
func (o *OrchestratedAuth) GetToken(ctx context.Context, providerID string) (string, error) {
	o.mu.RLock()
	if providerID == "" {
		providerID = o.primaryProviderID
	}
	state, hasState := o.providers[providerID]
	resolver := o.resolver
	refresh := o.onTokenRefresh
	o.mu.RUnlock()

	if !hasState || resolver == nil {
		return "", ErrTokenNotAvailable
	}

	if refresh == nil || state.expiresAt.IsZero() || state.expiresAt.After(time.Now()) {
		return resolver.GetToken(ctx, o.ID(), providerID)
	}

	pair, err := resolver.Refresh(ctx, o.ID(), providerID, refresh)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	if st, ok := o.providers[providerID]; ok {
		st.expiresAt = pair.ExpiresAt
	}
	o.mu.Unlock()

	return pair.AccessToken, nil
}

var (
	_ Authorization = (*AnonymousAuth)(nil)
	_ Authorization = (*ForwardedAuth)(nil)
	_ Authorization = (*OrchestratedAuth)(nil)
)
