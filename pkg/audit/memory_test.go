package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAppendAndAll(t *testing.T) {
	store := NewMemoryStore()
	rec := &Record{
		ID:              "rec-1",
		FlowName:        "tools.call",
		SessionID:       "sess-1",
		AuthorizationID: "auth-1",
		StageErrors:     nil,
		StartedAt:       time.Now(),
		FinishedAt:      time.Now(),
		Outcome:         OutcomeOK,
	}

	require.NoError(t, store.Append(context.Background(), rec))

	all := store.All()
	require.Len(t, all, 1)
	assert.Equal(t, rec, all[0])
}

func TestMemoryStoreAppendIsConcurrencySafe(t *testing.T) {
	store := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Append(context.Background(), &Record{ID: "rec", Outcome: OutcomeOK})
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.All(), 50)
}

func TestMemoryStoreAllReturnsACopy(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Append(context.Background(), &Record{ID: "rec-1"}))

	all := store.All()
	all[0].ID = "mutated"

	assert.Equal(t, "rec-1", store.All()[0].ID)
}
