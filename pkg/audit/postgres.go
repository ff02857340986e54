package audit

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds the Postgres connection settings for a PostgresStore.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgresStore persists audit Records directly via database/sql, with
// no ORM layer between the Go struct and the SQL it issues.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against cfg.DSN, runs
// pending migrations, and returns a ready-to-use Store.
func NewPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate audit database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already-open, already-migrated *sql.DB.
// Used by tests driving a testcontainers-managed Postgres instance.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB returns the underlying connection pool for health checks.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Append inserts one audit record.
func (s *PostgresStore) Append(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_records
			(id, flow_name, session_id, authorization_id, stage_errors, started_at, finished_at, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.FlowName, rec.SessionID, rec.AuthorizationID,
		stringArrayLiteral(rec.StageErrors), rec.StartedAt, rec.FinishedAt, string(rec.Outcome),
	)
	if err != nil {
		return fmt.Errorf("insert audit record %s: %w", rec.ID, err)
	}
	return nil
}

// ByFlow returns at most limit records for the given flow name, most recent first.
func (s *PostgresStore) ByFlow(ctx context.Context, flowName string, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, flow_name, session_id, authorization_id, stage_errors, started_at, finished_at, outcome
		FROM audit_records WHERE flow_name = $1 ORDER BY started_at DESC LIMIT $2`,
		flowName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit records for flow %q: %w", flowName, err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec := &Record{}
		var stageErrors stringArray
		var outcome string
		if err := rows.Scan(&rec.ID, &rec.FlowName, &rec.SessionID, &rec.AuthorizationID,
			&stageErrors, &rec.StartedAt, &rec.FinishedAt, &outcome); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.StageErrors = stageErrors
		rec.Outcome = Outcome(outcome)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	defer sourceDriver.Close()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "audit", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// stringArray scans a Postgres TEXT[] column into a []string.
type stringArray []string

func (a *stringArray) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case string:
		*a = parsePGTextArray(v)
		return nil
	case []byte:
		*a = parsePGTextArray(string(v))
		return nil
	default:
		return fmt.Errorf("unsupported scan type %T for stringArray", src)
	}
}

func parsePGTextArray(s string) []string {
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.Trim(p, `"`)
	}
	return out
}

func stringArrayLiteral(values []string) string {
	if len(values) == 0 {
		return "{}"
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}
