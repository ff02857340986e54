// Package session implements the session store: storage-adapter-backed,
// optionally HMAC-signed, TTL-bounded, rate-limited records. Generalized
// from the teacher's in-memory map[string]*Session
// (pkg/session/manager.go/types.go) onto a storage.Adapter so records
// survive process restarts and can be shared across replicas.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeready-toolchain/mcpcore/pkg/cryptoutil"
	"github.com/codeready-toolchain/mcpcore/pkg/storage"
)

// Record is the persisted shape of a session. ClientInfo and
// Capabilities are opaque, client-declared data carried through per
// spec.md's external interface definitions.
type Record struct {
	ID             string            `json:"id"`
	ClientInfo     map[string]any    `json:"clientInfo,omitempty"`
	Capabilities   map[string]any    `json:"capabilities,omitempty"`
	AuthorizationID string           `json:"authorizationId,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	ExpiresAt      time.Time         `json:"expiresAt"`
	MaxLifetimeAt  time.Time         `json:"maxLifetimeAt,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// GetOptions configures a single Get call.
type GetOptions struct {
	// ClientIdentifier feeds the rate limiter; falls back to the
	// session id itself when empty.
	ClientIdentifier string
}

// Store is the session store: a thin, signed, TTL-aware layer over a
// storage.Adapter.
type Store struct {
	adapter       storage.Adapter
	keyPrefix     string
	signingSecret []byte
	limiter       *rateLimiter
	logger        *slog.Logger
}

// Options configures a new Store.
type Options struct {
	KeyPrefix     string // defaults to "session:"
	SigningSecret []byte // nil/empty disables signing
	// RateLimitCapacity/RateLimitWindow configure the per-client read
	// quota; defaults are 100 reads per 10 seconds, matching spec.md.
	RateLimitCapacity int
	RateLimitWindow   time.Duration
	Logger            *slog.Logger
}

// NewStore constructs a Store backed by adapter.
func NewStore(adapter storage.Adapter, opts Options) *Store {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "session:"
	}
	capacity := opts.RateLimitCapacity
	if capacity == 0 {
		capacity = 100
	}
	window := opts.RateLimitWindow
	if window == 0 {
		window = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		adapter:       adapter,
		keyPrefix:     prefix,
		signingSecret: opts.SigningSecret,
		limiter:       newRateLimiter(capacity, window),
		logger:        logger,
	}
}

// AllocID returns a fresh random session id: a UUID string from
// cryptoutil.RandomUUID.
func (s *Store) AllocID() string {
	return cryptoutil.RandomUUID()
}

func (s *Store) key(id string) string {
	return s.keyPrefix + id
}

func (s *Store) signingEnabled() bool {
	return len(s.signingSecret) > 0
}

// encode serializes rec and, if signing is enabled, appends a
// base64(body) + "." + sig envelope, sig = HMAC-SHA-256(signingSecret, body).
func (s *Store) encode(rec *Record) ([]byte, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("session: marshal record: %w", err)
	}
	if !s.signingEnabled() {
		return body, nil
	}
	sig := cryptoutil.HMACSHA256(s.signingSecret, body)
	encoded := base64.StdEncoding.EncodeToString(body) + "." + base64.StdEncoding.EncodeToString(sig)
	return []byte(encoded), nil
}

// decode reverses encode, verifying the signature when enabled.
// Returns ErrNotFound on any signature or schema failure, mirroring
// the stored-blob-invalid policy: tampered or corrupt data is treated
// as absent.
func (s *Store) decode(blob []byte) (*Record, error) {
	body := blob
	if s.signingEnabled() {
		parts := strings.SplitN(string(blob), ".", 2)
		if len(parts) != 2 {
			return nil, ErrNotFound
		}
		decodedBody, err := base64.StdEncoding.DecodeString(parts[0])
		if err != nil {
			return nil, ErrNotFound
		}
		sig, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return nil, ErrNotFound
		}
		expected := cryptoutil.HMACSHA256(s.signingSecret, decodedBody)
		if !cryptoutil.TimingSafeEqual(sig, expected) {
			return nil, ErrNotFound
		}
		body = decodedBody
	}
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Create stores rec under keyPrefix+id with the given backend TTL.
func (s *Store) Create(ctx context.Context, rec *Record, ttl time.Duration) error {
	if strings.TrimSpace(rec.ID) == "" {
		return ErrSessionIDEmpty
	}
	blob, err := s.encode(rec)
	if err != nil {
		return err
	}
	return s.adapter.Set(ctx, s.key(rec.ID), blob, storage.SetOptions{TTL: ttl})
}

// Get loads, verifies, and validates the record for id, atomically
// extending its backend TTL on success (bounded by the record's
// application-level ExpiresAt).
func (s *Store) Get(ctx context.Context, id string, opts GetOptions) (*Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrSessionIDEmpty
	}

	clientID := opts.ClientIdentifier
	if clientID == "" {
		clientID = id
	}
	if !s.limiter.allow(clientID) {
		s.logger.Warn("session read rate limit exceeded", "client", clientID, "session_id", id)
		return nil, ErrRateLimited
	}

	blob, ok, err := s.adapter.Get(ctx, s.key(id))
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}

	rec, err := s.decode(blob)
	if err != nil {
		// Tampered or corrupt blob: delete it so it is never served again.
		_, _ = s.adapter.Delete(ctx, s.key(id))
		return nil, ErrNotFound
	}

	now := time.Now()
	if !rec.ExpiresAt.IsZero() && now.After(rec.ExpiresAt) {
		_, _ = s.adapter.Delete(ctx, s.key(id))
		return nil, ErrNotFound
	}
	if !rec.MaxLifetimeAt.IsZero() && now.After(rec.MaxLifetimeAt) {
		_, _ = s.adapter.Delete(ctx, s.key(id))
		return nil, ErrNotFound
	}

	extendTTL := time.Until(rec.ExpiresAt)
	if rec.ExpiresAt.IsZero() || extendTTL <= 0 {
		extendTTL = 0
	}
	if _, _, err := s.adapter.GetAndExtend(ctx, s.key(id), extendTTL); err != nil {
		s.logger.Warn("session: failed to extend TTL on read", "session_id", id, "error", err)
	}

	return rec, nil
}

// Delete idempotently removes the session record for id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrSessionIDEmpty
	}
	_, err := s.adapter.Delete(ctx, s.key(id))
	return err
}

// Exists reports whether id resolves to a stored record, without
// extending its TTL or running it through signature/schema
// verification.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, ErrSessionIDEmpty
	}
	return s.adapter.Exists(ctx, s.key(id))
}
