// Package store persists verification records, policies, user accounts and
// the audit log in SQLite or Postgres.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a unique field is already taken.
	ErrConflict = errors.New("record already exists")
)

// Coverage statuses.
const (
	CoverageActive   = "active"
	CoverageInactive = "inactive"
	CoverageExpired  = "expired"
	CoveragePending  = "pending"
)

// Record sources.
const (
	SourceProvider = "provider"
	SourceCache    = "cache"
	SourceManual   = "manual"
)

// Verification is a stored provider verification.
type Verification struct {
	RequestID         string          `json:"request_id"`
	Provider          string          `json:"provider"`
	MemberKeyHash     string          `json:"member_key_hash"`
	NormalizedRequest json.RawMessage `json:"normalized_request"`
	ProviderResponse  json.RawMessage `json:"provider_response"`
	Status            string          `json:"status"`
	Source            string          `json:"source"`
	VerifiedAt        time.Time       `json:"verified_at"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Policy is an insurance policy record.
type Policy struct {
	ID             string     `json:"id"`
	Provider       string     `json:"provider"`
	MemberID       string     `json:"member_id"`
	PolicyNumber   string     `json:"policy_number"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name"`
	DOB            string     `json:"dob"`
	Email          string     `json:"email,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	PolicyType     string     `json:"policy_type"`
	CoverageStatus string     `json:"coverage_status"`
	ExpiryDate     string     `json:"expiry_date,omitempty"`
	CoverageAmount *float64   `json:"coverage_amount,omitempty"`
	PremiumAmount  *float64   `json:"premium_amount,omitempty"`
	Source         string     `json:"source"`
	MemberKeyHash  string     `json:"-"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// PolicyFilter selects a page of policies. Search matches provider, member
// id, policy number, names and email case-insensitively.
type PolicyFilter struct {
	Search string
	Offset int
	Limit  int
}

// AuditEntry records one user-visible action.
type AuditEntry struct {
	ID        int64           `json:"id"`
	Action    string          `json:"action"`
	UserID    string          `json:"user_id,omitempty"`
	TraceID   string          `json:"trace_id,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	IP        string          `json:"ip,omitempty"`
	UserAgent string          `json:"user_agent,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Verifications stores verification records.
type Verifications interface {
	CreateVerification(ctx context.Context, v *Verification) error
	GetVerification(ctx context.Context, requestID string) (*Verification, error)
}

// Policies stores policy records.
type Policies interface {
	CreatePolicy(ctx context.Context, p *Policy) error
	GetPolicy(ctx context.Context, id string) (*Policy, error)
	PolicyByNumber(ctx context.Context, number string) (*Policy, error)
	PolicyByMemberHash(ctx context.Context, hash string) (*Policy, error)
	ListPolicies(ctx context.Context, f PolicyFilter) ([]Policy, int, error)
	UpdatePolicy(ctx context.Context, p *Policy) error
	DeletePolicy(ctx context.Context, id string) error
}

// AuditLog appends audit entries.
type AuditLog interface {
	WriteAudit(ctx context.Context, e AuditEntry) error
}

// AuditTrail is an AuditLog that can also be read back.
type AuditTrail interface {
	AuditLog
	RecentAudit(ctx context.Context, action string, limit int) ([]AuditEntry, error)
}

// User is an API account. Email is stored lower-cased and is unique.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"-"`
}

// Users stores API accounts.
type Users interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
}

// MemberKeyHash is the privacy-preserving index of a member identity:
// hex(sha256(lower("member_id:dob:last_name"))).
func MemberKeyHash(memberID, dob, lastName string) string {
	key := strings.ToLower(strings.TrimSpace(memberID) + ":" + strings.TrimSpace(dob) + ":" + strings.TrimSpace(lastName))
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
