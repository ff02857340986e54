package audit

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store, useful for tests and for
// deployments that want the audit finalize hook exercised without a
// Postgres dependency. Grounded on pkg/storage.Memory's mutex-guarded
// slice/map style.
type MemoryStore struct {
	mu      sync.Mutex
	records []*Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// All returns a copy of every record appended so far, in append order.
func (m *MemoryStore) All() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Record, len(m.records))
	for i, r := range m.records {
		cp := *r
		cp.StageErrors = append([]string(nil), r.StageErrors...)
		out[i] = &cp
	}
	return out
}
