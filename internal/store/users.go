package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const userColumns = `id, email, full_name, hashed_password, is_active, created_at, updated_at`

// CreateUser inserts u, assigning its ID and timestamps. It returns
// ErrConflict when the email is already registered.
func (s *SQLStore) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	q := s.bind(`INSERT INTO users(` + userColumns + `) VALUES(?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, u.ID, u.Email, u.FullName, u.PasswordHash, u.Active, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("email %s: %w", u.Email, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser returns the user with id.
func (s *SQLStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.userWhere(ctx, "id = ?", id)
}

// UserByEmail returns the user registered under email, ignoring case.
func (s *SQLStore) UserByEmail(ctx context.Context, email string) (*User, error) {
	return s.userWhere(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (s *SQLStore) userWhere(ctx context.Context, where string, arg any) (*User, error) {
	q := s.bind(`SELECT ` + userColumns + ` FROM users WHERE ` + where)
	var u User
	err := s.db.QueryRowContext(ctx, q, arg).Scan(
		&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.Active, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
