package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateVerification inserts v. An empty RequestID is filled with a new
// UUID and zero timestamps with the current time.
func (s *SQLStore) CreateVerification(ctx context.Context, v *Verification) error {
	if v.RequestID == "" {
		v.RequestID = uuid.NewString()
	}
	now := time.Now().UTC()
	if v.VerifiedAt.IsZero() {
		v.VerifiedAt = now
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	if v.Source == "" {
		v.Source = SourceProvider
	}

	q := s.bind(`
INSERT INTO verifications(request_id, provider, member_key_hash, normalized_request, provider_response, status, source, verified_at, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q,
		v.RequestID,
		v.Provider,
		v.MemberKeyHash,
		string(orEmptyObject(v.NormalizedRequest)),
		string(orEmptyObject(v.ProviderResponse)),
		v.Status,
		v.Source,
		v.VerifiedAt.UTC(),
		v.CreatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("verification %s: %w", v.RequestID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create verification: %w", err)
	}
	return nil
}

// GetVerification returns the verification with requestID.
func (s *SQLStore) GetVerification(ctx context.Context, requestID string) (*Verification, error) {
	q := s.bind(`
SELECT request_id, provider, member_key_hash, normalized_request, provider_response, status, source, verified_at, created_at
FROM verifications
WHERE request_id = ?`)

	var (
		v                  Verification
		normalized, remote string
	)
	err := s.db.QueryRowContext(ctx, q, requestID).Scan(
		&v.RequestID,
		&v.Provider,
		&v.MemberKeyHash,
		&normalized,
		&remote,
		&v.Status,
		&v.Source,
		&v.VerifiedAt,
		&v.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("verification %s: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get verification: %w", err)
	}
	v.NormalizedRequest = []byte(normalized)
	v.ProviderResponse = []byte(remote)
	return &v, nil
}

func orEmptyObject(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
