package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Stub answers every request with the same fixed record. It stands in for a
// provider in development and demo deployments.
type Stub struct {
	name   string
	apiKey string
	now    func() time.Time
}

var _ Client = (*Stub)(nil)

// NewStub returns a Stub registered under name. Records report source
// "provider" when an API key is configured and "mock" otherwise.
func NewStub(name, apiKey string) *Stub {
	return &Stub{name: name, apiKey: apiKey, now: time.Now}
}

// Name implements Client.
func (s *Stub) Name() string { return s.name }

func (s *Stub) source() string {
	if s.apiKey != "" {
		return "provider"
	}
	return "mock"
}

// Verify implements Client.
func (s *Stub) Verify(ctx context.Context, _ Identity) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"status":          "verified",
		"verified":        true,
		"policy_number":   "POL12345",
		"coverage_status": "active",
		"expiry_date":     "2024-12-31",
		"provider":        s.name,
		"source":          s.source(),
	})
}

// PolicyInfo implements Client. The policy number is derived from the last
// four characters of the member id.
func (s *Stub) PolicyInfo(ctx context.Context, id Identity) (*PolicyInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	suffix := strings.ToUpper(strings.TrimSpace(id.MemberID))
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return &PolicyInfo{
		PolicyNumber:   fmt.Sprintf("POL-%s-001", suffix),
		CoverageStatus: "active",
		ExpiryDate:     s.now().UTC().AddDate(1, 0, 0).Format(time.DateOnly),
		PolicyType:     "health",
		Source:         s.source(),
	}, nil
}
