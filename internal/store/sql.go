package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Register Postgres SQL driver.
	_ "github.com/lib/pq"
	// Register SQLite SQL driver.
	_ "modernc.org/sqlite"
)

type sqlDialect string

const (
	dialectSQLite   sqlDialect = "sqlite"
	dialectPostgres sqlDialect = "postgres"
)

// SQLStore implements Verifications, Policies, Users and AuditTrail on SQLite or
// Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

var (
	_ Verifications = (*SQLStore)(nil)
	_ Policies      = (*SQLStore)(nil)
	_ AuditTrail    = (*SQLStore)(nil)
	_ Users         = (*SQLStore)(nil)
)

// Open opens the store for driver "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return NewSQLite(ctx, dsn)
	case "postgres", "postgresql":
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// NewSQLite creates a SQLite-backed store. dsn can be a file path or a
// SQLite DSN.
func NewSQLite(ctx context.Context, dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "verifygw.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	s := &SQLStore{db: db, dialect: dialectSQLite}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	s := &SQLStore{db: db, dialect: dialectPostgres}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s store: %w", s.dialect, err)
	}

	ts, serial, num := "DATETIME", "INTEGER PRIMARY KEY", "REAL"
	if s.dialect == dialectPostgres {
		ts, serial, num = "TIMESTAMPTZ", "BIGSERIAL PRIMARY KEY", "DOUBLE PRECISION"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS verifications (
	request_id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	member_key_hash TEXT NOT NULL,
	normalized_request TEXT NOT NULL,
	provider_response TEXT NOT NULL,
	status TEXT NOT NULL,
	source TEXT NOT NULL,
	verified_at ` + ts + ` NOT NULL,
	created_at ` + ts + ` NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_verifications_member ON verifications(member_key_hash)`,
		`CREATE TABLE IF NOT EXISTS policies (
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	member_id TEXT NOT NULL,
	policy_number TEXT NOT NULL,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL,
	dob TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	policy_type TEXT NOT NULL,
	coverage_status TEXT NOT NULL,
	expiry_date TEXT NOT NULL DEFAULT '',
	coverage_amount ` + num + ` NULL,
	premium_amount ` + num + ` NULL,
	source TEXT NOT NULL,
	member_key_hash TEXT NOT NULL,
	verified_at ` + ts + ` NULL,
	created_at ` + ts + ` NOT NULL,
	updated_at ` + ts + ` NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_policies_member ON policies(member_key_hash)`,
		// Policy numbers are looked up and cached case-insensitively.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_policies_number ON policies(lower(policy_number))`,
		`CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	full_name TEXT NOT NULL,
	hashed_password TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at ` + ts + ` NOT NULL,
	updated_at ` + ts + ` NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
	id ` + serial + `,
	action TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	trace_id TEXT NOT NULL DEFAULT '',
	details TEXT NOT NULL DEFAULT '',
	ip TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	created_at ` + ts + ` NOT NULL
)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initialize %s store schema: %w", s.dialect, err)
		}
	}
	return nil
}

// bind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) bind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var (
		b      strings.Builder
		argNum = 1
	)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", argNum)
			argNum++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
