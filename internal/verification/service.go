// Package verification runs insurance verifications through the cache
// coordinator and records every provider answer.
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ferro-labs/verifygw/internal/coordinator"
	"github.com/ferro-labs/verifygw/internal/logging"
	"github.com/ferro-labs/verifygw/internal/provider"
	"github.com/ferro-labs/verifygw/internal/store"
)

// Namespace is the cache namespace of verification results.
const Namespace = "verification"

// ErrUnknownProvider is returned for a provider name that is not configured.
var ErrUnknownProvider = errors.New("unknown provider")

// Input is a verification request.
type Input struct {
	Provider string
	provider.Identity
}

// Result is a verification answer. Source reports whether it was served
// from the cache or fetched from the provider.
type Result struct {
	RequestID        string             `json:"request_id"`
	Provider         string             `json:"provider"`
	Status           string             `json:"status"`
	VerifiedAt       time.Time          `json:"verified_at"`
	Source           coordinator.Source `json:"source"`
	ProviderResponse json.RawMessage    `json:"provider_response"`
}

// Service verifies members against providers.
type Service struct {
	coord     *coordinator.Coordinator
	providers *provider.Registry
	records   store.Verifications
	ttl       time.Duration
}

// NewService creates a Service. ttl overrides the coordinator default when
// positive.
func NewService(coord *coordinator.Coordinator, providers *provider.Registry, records store.Verifications, ttl time.Duration) *Service {
	return &Service{coord: coord, providers: providers, records: records, ttl: ttl}
}

// Verify returns the verification for in, from the cache unless force is
// set. An empty provider selects the default one.
func (s *Service) Verify(ctx context.Context, in Input, force bool) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	client, err := s.resolve(in.Provider)
	if err != nil {
		return nil, err
	}

	req := coordinator.Request{
		Namespace: Namespace,
		Fields: coordinator.Fields{
			"provider":  client.Name(),
			"member_id": in.MemberID,
			"dob":       in.DOB,
			"last_name": in.LastName,
		},
		Bypass: force,
		TTL:    s.ttl,
	}
	res, source, err := coordinator.LookupJSON(ctx, s.coord, req, func(ctx context.Context, _ coordinator.Fields) (Result, error) {
		return s.fetch(ctx, client, in.Identity)
	})
	if err != nil {
		return nil, err
	}
	res.Source = source
	return &res, nil
}

// Get returns a stored verification record.
func (s *Service) Get(ctx context.Context, requestID string) (*store.Verification, error) {
	return s.records.GetVerification(ctx, strings.TrimSpace(requestID))
}

func (s *Service) resolve(name string) (provider.Client, error) {
	if strings.TrimSpace(name) == "" {
		if c, ok := s.providers.Default(); ok {
			return c, nil
		}
		return nil, fmt.Errorf("%w: no default provider configured", ErrUnknownProvider)
	}
	c, ok := s.providers.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return c, nil
}

// fetch asks the provider and persists its answer.
func (s *Service) fetch(ctx context.Context, client provider.Client, id provider.Identity) (Result, error) {
	doc, err := client.Verify(ctx, id)
	if err != nil {
		return Result{}, err
	}

	normalized, err := json.Marshal(map[string]string{
		"member_id": strings.TrimSpace(id.MemberID),
		"dob":       strings.TrimSpace(id.DOB),
		"last_name": strings.TrimSpace(id.LastName),
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode normalized request: %w", err)
	}

	rec := &store.Verification{
		Provider:          client.Name(),
		MemberKeyHash:     store.MemberKeyHash(id.MemberID, id.DOB, id.LastName),
		NormalizedRequest: normalized,
		ProviderResponse:  doc,
		Status:            provider.Status(doc),
		Source:            store.SourceProvider,
	}
	if rec.Status == "" {
		rec.Status = "unknown"
	}
	if err := s.records.CreateVerification(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("store verification: %w", err)
	}
	logging.FromContext(ctx).Info("verification stored",
		"request_id", rec.RequestID, "provider", rec.Provider, "status", rec.Status)

	return Result{
		RequestID:        rec.RequestID,
		Provider:         rec.Provider,
		Status:           rec.Status,
		VerifiedAt:       rec.VerifiedAt,
		Source:           coordinator.SourceProvider,
		ProviderResponse: doc,
	}, nil
}
