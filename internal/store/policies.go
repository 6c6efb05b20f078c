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

const policyColumns = `id, provider, member_id, policy_number, first_name, last_name, dob, email, phone,
policy_type, coverage_status, expiry_date, coverage_amount, premium_amount, source, member_key_hash,
verified_at, created_at, updated_at`

// Default and maximum page sizes for ListPolicies.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// CreatePolicy inserts p, assigning its ID, member hash and timestamps.
func (s *SQLStore) CreatePolicy(ctx context.Context, p *Policy) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Source == "" {
		p.Source = SourceManual
	}
	p.MemberKeyHash = MemberKeyHash(p.MemberID, p.DOB, p.LastName)

	q := s.bind(`INSERT INTO policies(` + policyColumns + `)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q,
		p.ID, p.Provider, p.MemberID, p.PolicyNumber, p.FirstName, p.LastName, p.DOB, p.Email, p.Phone,
		p.PolicyType, p.CoverageStatus, p.ExpiryDate, nullFloat(p.CoverageAmount), nullFloat(p.PremiumAmount),
		p.Source, p.MemberKeyHash, nullTime(p.VerifiedAt), p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("policy number %s: %w", p.PolicyNumber, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create policy: %w", err)
	}
	return nil
}

// GetPolicy returns the policy with id.
func (s *SQLStore) GetPolicy(ctx context.Context, id string) (*Policy, error) {
	return s.policyWhere(ctx, "id = ?", id)
}

// PolicyByNumber returns the policy with the given policy number, ignoring
// case.
func (s *SQLStore) PolicyByNumber(ctx context.Context, number string) (*Policy, error) {
	return s.policyWhere(ctx, "lower(policy_number) = ?", strings.ToLower(strings.TrimSpace(number)))
}

// PolicyByMemberHash returns the most recently updated policy of a member.
func (s *SQLStore) PolicyByMemberHash(ctx context.Context, hash string) (*Policy, error) {
	return s.policyWhere(ctx, "member_key_hash = ? ORDER BY updated_at DESC LIMIT 1", hash)
}

func (s *SQLStore) policyWhere(ctx context.Context, where string, arg any) (*Policy, error) {
	q := s.bind(`SELECT ` + policyColumns + ` FROM policies WHERE ` + where)
	p, err := scanPolicy(s.db.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("policy: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

// ListPolicies returns one page of policies, newest first, and the total
// number of matches.
func (s *SQLStore) ListPolicies(ctx context.Context, f PolicyFilter) ([]Policy, int, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	where := ""
	var args []any
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		like := "%" + term + "%"
		cols := []string{"provider", "member_id", "policy_number", "first_name", "last_name", "email"}
		conds := make([]string, len(cols))
		for i, c := range cols {
			conds[i] = "lower(" + c + ") LIKE ?"
			args = append(args, like)
		}
		where = " WHERE " + strings.Join(conds, " OR ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.bind(`SELECT COUNT(*) FROM policies`+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count policies: %w", err)
	}

	q := s.bind(`SELECT ` + policyColumns + ` FROM policies` + where + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`)
	rows, err := s.db.QueryContext(ctx, q, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list policies: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	policies := make([]Policy, 0, f.Limit)
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan policy: %w", err)
		}
		policies = append(policies, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list policies: %w", err)
	}
	return policies, total, nil
}

// UpdatePolicy overwrites the mutable fields of the policy with p.ID.
func (s *SQLStore) UpdatePolicy(ctx context.Context, p *Policy) error {
	p.UpdatedAt = time.Now().UTC()
	p.MemberKeyHash = MemberKeyHash(p.MemberID, p.DOB, p.LastName)

	q := s.bind(`
UPDATE policies SET provider = ?, member_id = ?, policy_number = ?, first_name = ?, last_name = ?, dob = ?,
	email = ?, phone = ?, policy_type = ?, coverage_status = ?, expiry_date = ?, coverage_amount = ?,
	premium_amount = ?, source = ?, member_key_hash = ?, verified_at = ?, updated_at = ?
WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q,
		p.Provider, p.MemberID, p.PolicyNumber, p.FirstName, p.LastName, p.DOB,
		p.Email, p.Phone, p.PolicyType, p.CoverageStatus, p.ExpiryDate, nullFloat(p.CoverageAmount),
		nullFloat(p.PremiumAmount), p.Source, p.MemberKeyHash, nullTime(p.VerifiedAt), p.UpdatedAt,
		p.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("policy number %s: %w", p.PolicyNumber, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("policy %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

// DeletePolicy removes the policy with id.
func (s *SQLStore) DeletePolicy(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM policies WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanPolicy(scanner interface {
	Scan(dest ...any) error
}) (*Policy, error) {
	var (
		p        Policy
		coverage sql.NullFloat64
		premium  sql.NullFloat64
		verified sql.NullTime
	)
	err := scanner.Scan(
		&p.ID, &p.Provider, &p.MemberID, &p.PolicyNumber, &p.FirstName, &p.LastName, &p.DOB, &p.Email, &p.Phone,
		&p.PolicyType, &p.CoverageStatus, &p.ExpiryDate, &coverage, &premium, &p.Source, &p.MemberKeyHash,
		&verified, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if coverage.Valid {
		v := coverage.Float64
		p.CoverageAmount = &v
	}
	if premium.Valid {
		v := premium.Float64
		p.PremiumAmount = &v
	}
	if verified.Valid {
		t := verified.Time
		p.VerifiedAt = &t
	}
	return &p, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
