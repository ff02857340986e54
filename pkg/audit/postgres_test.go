package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestStore starts a throwaway Postgres container, migrates it, and
// returns a PostgresStore pointed at it.
func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("audit"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := NewPostgresStore(ctx, Config{DSN: dsn, MaxOpenConns: 5, MaxIdleConns: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestPostgresStoreAppendAndByFlow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	rec1 := &Record{
		ID:              "rec-1",
		FlowName:        "tools.call",
		SessionID:       "sess-1",
		AuthorizationID: "auth-1",
		StageErrors:     []string{"quota exceeded"},
		StartedAt:       now,
		FinishedAt:      now.Add(time.Millisecond),
		Outcome:         OutcomeError,
	}
	rec2 := &Record{
		ID:              "rec-2",
		FlowName:        "tools.call",
		SessionID:       "sess-2",
		AuthorizationID: "auth-2",
		StartedAt:       now.Add(time.Second),
		FinishedAt:      now.Add(2 * time.Second),
		Outcome:         OutcomeOK,
	}

	require.NoError(t, store.Append(ctx, rec1))
	require.NoError(t, store.Append(ctx, rec2))

	records, err := store.ByFlow(ctx, "tools.call", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Most recent first.
	assert.Equal(t, "rec-2", records[0].ID)
	assert.Equal(t, OutcomeOK, records[0].Outcome)
	assert.Empty(t, records[0].StageErrors)

	assert.Equal(t, "rec-1", records[1].ID)
	assert.Equal(t, OutcomeError, records[1].Outcome)
	assert.Equal(t, []string{"quota exceeded"}, records[1].StageErrors)
}

func TestPostgresStoreHealth(t *testing.T) {
	store := newTestStore(t)

	status, err := Health(context.Background(), store.DB())
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
}
