// Package vault implements the token vault: envelope-encrypted storage
// of OAuth-style access/refresh token pairs per (authorizationID,
// providerID), with refresh de-duplication. Grounded on
// rakunlabs-at/internal/crypto/crypto.go's AES-256-GCM Encrypt/Decrypt
// shape, generalized to a structured {iv, ciphertext, tag, keyID}
// envelope (so the fields can be addressed separately, per spec.md's
// §6 wire format) and to per-authorization key derivation via HKDF
// instead of a single static passphrase-derived key.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/mcpcore/pkg/authz"
	"github.com/codeready-toolchain/mcpcore/pkg/cryptoutil"
	"github.com/codeready-toolchain/mcpcore/pkg/storage"
	"golang.org/x/sync/singleflight"
)

// ErrTokenNotAvailable indicates the needed token is not stored:
// GetToken reports it when no access token exists, and Refresh when no
// refresh token exists.
var ErrTokenNotAvailable = errors.New("vault: token not available")

// TokenPair and RefreshFunc are aliases to pkg/authz's types, not
// distinct defined types: this is what lets *Vault satisfy
// authz.TokenResolver (asserted below) without pkg/authz ever
// importing pkg/vault.
type TokenPair = authz.TokenPair

// RefreshFunc fetches a fresh token pair for providerID given the
// current refresh token. Implemented by the caller (typically a
// provider-specific OAuth client, supplied as an authz.OrchestratedAuth's
// onTokenRefresh); the vault only orchestrates when and how often it is
// called.
type RefreshFunc = authz.RefreshFunc

// envelope is the wire shape persisted for each encrypted token.
type envelope struct {
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ciphertext"`
	Tag        []byte `json:"tag"`
	KeyID      string `json:"keyId"`
}

const keyInfo = "tokens-v1"

// Vault wraps a storage.Adapter and a master secret to provide
// envelope-encrypted token storage.
type Vault struct {
	adapter      storage.Adapter
	masterSecret []byte
	logger       *slog.Logger
	group        singleflight.Group
}

// New constructs a Vault. masterSecret must be non-empty; per-(authID)
// keys are derived from it via HKDF so no two authorizations share a
// key even though they share one master secret.
func New(adapter storage.Adapter, masterSecret []byte, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{adapter: adapter, masterSecret: masterSecret, logger: logger}
}

func (v *Vault) deriveKey(authID string) ([]byte, error) {
	return cryptoutil.HKDFSHA256(v.masterSecret, []byte(authID), []byte(keyInfo), 32)
}

func accessKey(authID, providerID string) string {
	return fmt.Sprintf("vault:%s:%s", authID, providerID)
}

func refreshKey(authID, providerID string) string {
	return fmt.Sprintf("vault:%s:%s:refresh", authID, providerID)
}

func indexKey(authID string) string {
	return "vault:index:" + authID
}

func (v *Vault) seal(authID string, plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	key, err := v.deriveKey(authID)
	if err != nil {
		return nil, err
	}
	iv, err := cryptoutil.RandomBytes(cryptoutil.GCMNonceSize)
	if err != nil {
		return nil, err
	}
	ct, tag, err := cryptoutil.EncryptAESGCM(key, []byte(plaintext), iv)
	if err != nil {
		return nil, err
	}
	env := envelope{IV: iv, Ciphertext: ct, Tag: tag, KeyID: authID}
	return json.Marshal(env)
}

// open decrypts blob. A tag mismatch is not surfaced as an error: it
// is logged and reported as "not found", per the crypto error policy
// in spec.md §7 (corruption is treated like absence, never leaked to
// the caller as a distinguishable signal).
func (v *Vault) open(ctx context.Context, authID string, blob []byte) (string, bool) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		v.logger.Error("vault: corrupt envelope", "auth_id", authID, "error", err)
		return "", false
	}
	key, err := v.deriveKey(authID)
	if err != nil {
		v.logger.Error("vault: key derivation failed", "auth_id", authID, "error", err)
		return "", false
	}
	plaintext, err := cryptoutil.DecryptAESGCM(key, env.Ciphertext, env.IV, env.Tag)
	if err != nil {
		v.logger.Error("vault: decrypt failed, treating as absent", "auth_id", authID, "error", err)
		return "", false
	}
	_ = ctx
	return string(plaintext), true
}

// StoreTokens encrypts and stores tokens for (authID, providerID).
// Each non-empty token is stored under its own key. The access token
// gets TTL = expiresAt - now when ExpiresAt is set; the refresh token
// is stored without a TTL.
func (v *Vault) StoreTokens(ctx context.Context, authID, providerID string, tokens TokenPair) error {
	var ttl time.Duration
	if !tokens.ExpiresAt.IsZero() {
		ttl = time.Until(tokens.ExpiresAt)
		if ttl < 0 {
			ttl = 0
		}
	}

	if tokens.AccessToken != "" {
		blob, err := v.seal(authID, tokens.AccessToken)
		if err != nil {
			return fmt.Errorf("vault: seal access token: %w", err)
		}
		if err := v.adapter.Set(ctx, accessKey(authID, providerID), blob, storage.SetOptions{TTL: ttl}); err != nil {
			return fmt.Errorf("vault: store access token: %w", err)
		}
	}
	if tokens.RefreshToken != "" {
		blob, err := v.seal(authID, tokens.RefreshToken)
		if err != nil {
			return fmt.Errorf("vault: seal refresh token: %w", err)
		}
		if err := v.adapter.Set(ctx, refreshKey(authID, providerID), blob, storage.SetOptions{}); err != nil {
			return fmt.Errorf("vault: store refresh token: %w", err)
		}
	}

	if err := v.indexProvider(ctx, authID, providerID); err != nil {
		return err
	}
	return nil
}

func (v *Vault) indexProvider(ctx context.Context, authID, providerID string) error {
	raw, ok, err := v.adapter.Get(ctx, indexKey(authID))
	if err != nil {
		return fmt.Errorf("vault: load provider index: %w", err)
	}
	var ids []string
	if ok {
		_ = json.Unmarshal(raw, &ids)
	}
	for _, id := range ids {
		if id == providerID {
			return nil
		}
	}
	ids = append(ids, providerID)
	blob, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("vault: marshal provider index: %w", err)
	}
	return v.adapter.Set(ctx, indexKey(authID), blob, storage.SetOptions{})
}

func (v *Vault) removeFromIndex(ctx context.Context, authID, providerID string) error {
	raw, ok, err := v.adapter.Get(ctx, indexKey(authID))
	if err != nil || !ok {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}
	out := ids[:0]
	for _, id := range ids {
		if id != providerID {
			out = append(out, id)
		}
	}
	blob, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return v.adapter.Set(ctx, indexKey(authID), blob, storage.SetOptions{})
}

// GetAccessToken decrypts and returns the access token for (authID,
// providerID). A missing or corrupt token returns (_, false, nil).
func (v *Vault) GetAccessToken(ctx context.Context, authID, providerID string) (string, bool, error) {
	blob, ok, err := v.adapter.Get(ctx, accessKey(authID, providerID))
	if err != nil {
		return "", false, fmt.Errorf("vault: get access token: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	tok, ok := v.open(ctx, authID, blob)
	if !ok {
		_, _ = v.adapter.Delete(ctx, accessKey(authID, providerID))
		return "", false, nil
	}
	return tok, true, nil
}

// GetRefreshToken decrypts and returns the refresh token for (authID,
// providerID). A missing or corrupt token returns (_, false, nil).
func (v *Vault) GetRefreshToken(ctx context.Context, authID, providerID string) (string, bool, error) {
	blob, ok, err := v.adapter.Get(ctx, refreshKey(authID, providerID))
	if err != nil {
		return "", false, fmt.Errorf("vault: get refresh token: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	tok, ok := v.open(ctx, authID, blob)
	if !ok {
		_, _ = v.adapter.Delete(ctx, refreshKey(authID, providerID))
		return "", false, nil
	}
	return tok, true, nil
}

// HasTokens reports whether any access or refresh token is stored for
// (authID, providerID).
func (v *Vault) HasTokens(ctx context.Context, authID, providerID string) (bool, error) {
	if ok, err := v.adapter.Exists(ctx, accessKey(authID, providerID)); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	return v.adapter.Exists(ctx, refreshKey(authID, providerID))
}

// DeleteTokens removes both token keys for (authID, providerID) and
// drops it from the provider index.
func (v *Vault) DeleteTokens(ctx context.Context, authID, providerID string) error {
	if _, err := v.adapter.Delete(ctx, accessKey(authID, providerID)); err != nil {
		return err
	}
	if _, err := v.adapter.Delete(ctx, refreshKey(authID, providerID)); err != nil {
		return err
	}
	return v.removeFromIndex(ctx, authID, providerID)
}

// GetProviderIDs lists the providers with stored tokens for authID.
func (v *Vault) GetProviderIDs(ctx context.Context, authID string) ([]string, error) {
	raw, ok, err := v.adapter.Get(ctx, indexKey(authID))
	if err != nil {
		return nil, fmt.Errorf("vault: load provider index: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, nil
	}
	return ids, nil
}

// MigrateTokens copies every provider's tokens from fromAuthID to
// toAuthID, then deletes the source. It is safe to re-run after a
// partial failure: GetProviderIDs(fromAuthID) only ever reports what's
// left to migrate.
func (v *Vault) MigrateTokens(ctx context.Context, fromAuthID, toAuthID string) error {
	providerIDs, err := v.GetProviderIDs(ctx, fromAuthID)
	if err != nil {
		return err
	}
	for _, providerID := range providerIDs {
		access, hasAccess, err := v.GetAccessToken(ctx, fromAuthID, providerID)
		if err != nil {
			return err
		}
		refresh, hasRefresh, err := v.GetRefreshToken(ctx, fromAuthID, providerID)
		if err != nil {
			return err
		}
		if !hasAccess && !hasRefresh {
			continue
		}
		pair := TokenPair{}
		if hasAccess {
			pair.AccessToken = access
		}
		if hasRefresh {
			pair.RefreshToken = refresh
		}
		if err := v.StoreTokens(ctx, toAuthID, providerID, pair); err != nil {
			return fmt.Errorf("vault: migrate provider %s: %w", providerID, err)
		}
		if err := v.DeleteTokens(ctx, fromAuthID, providerID); err != nil {
			return fmt.Errorf("vault: cleanup source provider %s: %w", providerID, err)
		}
	}
	return nil
}

// Refresh performs the canonical refresh sequence for (authID,
// providerID): if a live access token already exists it is returned
// unchanged; otherwise the refresh token is loaded and refreshFn is
// invoked, the new pair is stored, and on failure only the access
// token is deleted (the refresh token is preserved so a later retry
// can still use it). Concurrent calls for the same (authID,
// providerID) are de-duplicated with singleflight. Called from
// authz.OrchestratedAuth.GetToken whenever its in-memory expiresAt has
// passed; the returned TokenPair's ExpiresAt lets the caller update
// that in-memory state atomically alongside the vault write that
// already happened inside this call.
func (v *Vault) Refresh(ctx context.Context, authID, providerID string, refreshFn RefreshFunc) (TokenPair, error) {
	if tok, ok, err := v.GetAccessToken(ctx, authID, providerID); err != nil {
		return TokenPair{}, err
	} else if ok {
		return TokenPair{AccessToken: tok}, nil
	}

	key := authID + "|" + providerID
	result, err, _ := v.group.Do(key, func() (any, error) {
		refreshTok, ok, err := v.GetRefreshToken(ctx, authID, providerID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrTokenNotAvailable
		}

		pair, err := refreshFn(ctx, providerID, refreshTok)
		if err != nil {
			_, _ = v.adapter.Delete(ctx, accessKey(authID, providerID))
			return nil, fmt.Errorf("vault: refresh failed: %w", err)
		}

		if err := v.StoreTokens(ctx, authID, providerID, pair); err != nil {
			return nil, fmt.Errorf("vault: store refreshed tokens: %w", err)
		}
		return pair, nil
	})
	if err != nil {
		return TokenPair{}, err
	}
	return result.(TokenPair), nil
}

// GetToken satisfies authz.TokenResolver: it is GetAccessToken without
// the ok flag, reporting ErrTokenNotAvailable when no access token is
// currently stored. Callers that want refresh-on-miss behavior go
// through authz.OrchestratedAuth.GetToken, which calls Refresh itself
// once a provider's expiresAt has passed.
func (v *Vault) GetToken(ctx context.Context, authID, providerID string) (string, error) {
	tok, ok, err := v.GetAccessToken(ctx, authID, providerID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrTokenNotAvailable
	}
	return tok, nil
}

var _ authz.TokenResolver = (*Vault)(nil)
