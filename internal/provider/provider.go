// Package provider defines the insurance provider clients that back cache
// misses: a deterministic stub for development and an HTTP client for real
// provider APIs.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Identity is the member identity sent to a provider.
type Identity struct {
	MemberID string `json:"member_id"`
	DOB      string `json:"dob"`
	LastName string `json:"last_name"`
}

// PolicyInfo is a provider's answer to a policy-info query.
type PolicyInfo struct {
	PolicyNumber   string `json:"policy_number"`
	CoverageStatus string `json:"coverage_status"`
	ExpiryDate     string `json:"expiry_date"`
	PolicyType     string `json:"policy_type,omitempty"`
	Source         string `json:"source"`
}

// Client is an insurance provider.
type Client interface {
	Name() string
	// Verify returns the provider's verification document. A member the
	// provider does not know yields a "not_found" document, not an error.
	Verify(ctx context.Context, id Identity) (json.RawMessage, error)
	PolicyInfo(ctx context.Context, id Identity) (*PolicyInfo, error)
}

var (
	// ErrNotFound is returned by PolicyInfo for unknown members.
	ErrNotFound = errors.New("member not found at provider")
	// ErrAuthFailed means the provider rejected our credentials.
	ErrAuthFailed = errors.New("provider authentication failed")
)

// StatusError is an unexpected HTTP status from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider %s: unexpected status %d", e.Provider, e.StatusCode)
}

// notFoundDocument is the verification body reported for unknown members.
var notFoundDocument = json.RawMessage(`{"status":"not_found","message":"Insurance not found","verified":false}`)

// Status extracts the "status" member of a verification document.
func Status(doc json.RawMessage) string {
	var v struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(doc, &v); err != nil {
		return ""
	}
	return v.Status
}
