// Package approval implements the approval store (persisted grants of
// tool access under session/user/time-limited/context-specific scope)
// and the skill guard (per-session tool allowlist policy). Grounded on
// the teacher's ent schema index-table pattern (secondary lookup
// fields) reimagined as storage-adapter sets, since there is no SQL
// index available here.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codeready-toolchain/mcpcore/pkg/cryptoutil"
	"github.com/codeready-toolchain/mcpcore/pkg/storage"
)

// Scope is the grant scope an ApprovalRecord is issued under.
type Scope string

const (
	ScopeSession         Scope = "session"
	ScopeUser            Scope = "user"
	ScopeTimeLimited     Scope = "time_limited"
	ScopeContextSpecific Scope = "context_specific"
)

// State is the lifecycle state of an approval record.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRevoked  State = "revoked"
	StateExpired  State = "expired"
)

// Record is a persisted approval grant.
type Record struct {
	ID         string            `json:"id"`
	ToolID     string            `json:"toolId"`
	Scope      Scope             `json:"scope"`
	State      State             `json:"state"`
	SessionID  string            `json:"sessionId,omitempty"`
	UserID     string            `json:"userId,omitempty"`
	Context    string            `json:"context,omitempty"`
	TTLMs      int64             `json:"ttlMs,omitempty"`
	GrantedAt  time.Time         `json:"grantedAt,omitempty"`
	GrantedBy  string            `json:"grantedBy,omitempty"`
	RevokedAt  time.Time         `json:"revokedAt,omitempty"`
	RevokedBy  string            `json:"revokedBy,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// expired reports whether a time_limited record has passed its
// effective expiry (grantedAt + ttlMs).
func (r *Record) expired(now time.Time) bool {
	if r.Scope != ScopeTimeLimited || r.TTLMs <= 0 {
		return false
	}
	return r.GrantedAt.Add(time.Duration(r.TTLMs) * time.Millisecond).Before(now)
}

// Selector identifies the caller context an approval check is run
// against.
type Selector struct {
	SessionID string
	UserID    string
	Context   string
}

// Query filters QueryApprovals.
type Query struct {
	SessionID      string
	UserID         string
	ToolID         string
	Scope          Scope
	States         []State
	IncludeExpired bool
}

// GrantRequest creates a new approved record.
type GrantRequest struct {
	ToolID    string
	Scope     Scope
	SessionID string
	UserID    string
	TTLMs     int64
	Context   string
	GrantedBy string
	Reason    string
	Metadata  map[string]string
}

// RevokeRequest revokes an existing grant matched by tool + selector.
type RevokeRequest struct {
	ToolID    string
	SessionID string
	UserID    string
	RevokedBy string
	Reason    string
}

// Store is the approval store: storage.Adapter-backed records plus
// session/user index sets for fast lookup and bulk clearing.
type Store struct {
	adapter storage.Adapter
}

// NewStore constructs a Store over adapter.
func NewStore(adapter storage.Adapter) *Store {
	return &Store{adapter: adapter}
}

func recordKey(id string) string          { return "approval:" + id }
func sessionIndexKey(sessionID string) string { return "approval:index:session:" + sessionID }
func userIndexKey(userID string) string       { return "approval:index:user:" + userID }

func (s *Store) loadIndex(ctx context.Context, key string) ([]string, error) {
	raw, ok, err := s.adapter.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("approval: load index %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	var ids []string
	_ = json.Unmarshal(raw, &ids)
	return ids, nil
}

func (s *Store) addToIndex(ctx context.Context, key, id string) error {
	ids, err := s.loadIndex(ctx, key)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	blob, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return s.adapter.Set(ctx, key, blob, storage.SetOptions{})
}

func (s *Store) removeFromIndex(ctx context.Context, key, id string) error {
	ids, err := s.loadIndex(ctx, key)
	if err != nil || len(ids) == 0 {
		return err
	}
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	blob, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return s.adapter.Set(ctx, key, blob, storage.SetOptions{})
}

func (s *Store) loadRecord(ctx context.Context, id string) (*Record, bool, error) {
	raw, ok, err := s.adapter.Get(ctx, recordKey(id))
	if err != nil {
		return nil, false, fmt.Errorf("approval: load record %s: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (s *Store) saveRecord(ctx context.Context, rec *Record) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("approval: marshal record: %w", err)
	}
	return s.adapter.Set(ctx, recordKey(rec.ID), blob, storage.SetOptions{})
}

// GrantApproval creates a new approved record with a fresh id.
func (s *Store) GrantApproval(ctx context.Context, req GrantRequest) (*Record, error) {
	rec := &Record{
		ID:        cryptoutil.RandomUUID(),
		ToolID:    req.ToolID,
		Scope:     req.Scope,
		State:     StateApproved,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Context:   req.Context,
		TTLMs:     req.TTLMs,
		GrantedAt: time.Now(),
		GrantedBy: req.GrantedBy,
		Reason:    req.Reason,
		Metadata:  req.Metadata,
	}
	if err := s.saveRecord(ctx, rec); err != nil {
		return nil, err
	}
	if rec.SessionID != "" {
		if err := s.addToIndex(ctx, sessionIndexKey(rec.SessionID), rec.ID); err != nil {
			return nil, err
		}
	}
	if rec.UserID != "" {
		if err := s.addToIndex(ctx, userIndexKey(rec.UserID), rec.ID); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// GetApproval returns the matching approval record for toolID under
// sel, if one is currently approved and not expired.
func (s *Store) GetApproval(ctx context.Context, toolID string, sel Selector) (*Record, bool, error) {
	candidates, err := s.candidateIDs(ctx, sel)
	if err != nil {
		return nil, false, err
	}
	now := time.Now()
	for _, id := range candidates {
		rec, ok, err := s.loadRecord(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if !ok || rec.ToolID != toolID || rec.State != StateApproved {
			continue
		}
		if !matchesScope(rec, sel) {
			continue
		}
		if rec.expired(now) {
			continue
		}
		return rec, true, nil
	}
	return nil, false, nil
}

func matchesScope(rec *Record, sel Selector) bool {
	switch rec.Scope {
	case ScopeSession:
		return rec.SessionID != "" && rec.SessionID == sel.SessionID
	case ScopeUser:
		return rec.UserID != "" && rec.UserID == sel.UserID
	case ScopeContextSpecific:
		return rec.Context != "" && rec.Context == sel.Context
	case ScopeTimeLimited:
		return (rec.SessionID == "" || rec.SessionID == sel.SessionID) &&
			(rec.UserID == "" || rec.UserID == sel.UserID)
	default:
		return false
	}
}

func (s *Store) candidateIDs(ctx context.Context, sel Selector) ([]string, error) {
	var ids []string
	if sel.SessionID != "" {
		sessionIDs, err := s.loadIndex(ctx, sessionIndexKey(sel.SessionID))
		if err != nil {
			return nil, err
		}
		ids = append(ids, sessionIDs...)
	}
	if sel.UserID != "" {
		userIDs, err := s.loadIndex(ctx, userIndexKey(sel.UserID))
		if err != nil {
			return nil, err
		}
		ids = append(ids, userIDs...)
	}
	return dedupe(ids), nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// IsApproved is a convenience wrapper over GetApproval.
func (s *Store) IsApproved(ctx context.Context, toolID string, sel Selector) (bool, error) {
	_, ok, err := s.GetApproval(ctx, toolID, sel)
	return ok, err
}

// QueryApprovals returns every record matching q.
func (s *Store) QueryApprovals(ctx context.Context, q Query) ([]*Record, error) {
	sel := Selector{SessionID: q.SessionID, UserID: q.UserID}
	ids, err := s.candidateIDs(ctx, sel)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var out []*Record
	for _, id := range ids {
		rec, ok, err := s.loadRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if q.ToolID != "" && rec.ToolID != q.ToolID {
			continue
		}
		if q.Scope != "" && rec.Scope != q.Scope {
			continue
		}
		if len(q.States) > 0 && !containsState(q.States, rec.State) {
			continue
		}
		if rec.expired(now) && !q.IncludeExpired {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func containsState(states []State, s State) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

// RevokeApproval marks the matching grant revoked. Returns false if no
// matching approved record was found.
func (s *Store) RevokeApproval(ctx context.Context, req RevokeRequest) (bool, error) {
	sel := Selector{SessionID: req.SessionID, UserID: req.UserID}
	rec, ok, err := s.GetApproval(ctx, req.ToolID, sel)
	if err != nil || !ok {
		return false, err
	}
	rec.State = StateRevoked
	rec.RevokedAt = time.Now()
	rec.RevokedBy = req.RevokedBy
	rec.Reason = req.Reason
	if err := s.saveRecord(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

// ClearSessionApprovals removes every record indexed under sessionID,
// returning the count removed.
func (s *Store) ClearSessionApprovals(ctx context.Context, sessionID string) (int, error) {
	ids, err := s.loadIndex(ctx, sessionIndexKey(sessionID))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		rec, ok, err := s.loadRecord(ctx, id)
		if err != nil {
			return n, err
		}
		if !ok || rec.SessionID != sessionID {
			continue
		}
		if _, err := s.adapter.Delete(ctx, recordKey(id)); err != nil {
			return n, err
		}
		if rec.UserID != "" {
			_ = s.removeFromIndex(ctx, userIndexKey(rec.UserID), id)
		}
		n++
	}
	if _, err := s.adapter.Delete(ctx, sessionIndexKey(sessionID)); err != nil {
		return n, err
	}
	return n, nil
}
