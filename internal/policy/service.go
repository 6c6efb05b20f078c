// Package policy answers policy-information queries through the cache
// coordinator and manages stored policies. Every write invalidates the cache
// entries that could serve stale data for the affected policy.
package policy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ferro-labs/verifygw/internal/coordinator"
	"github.com/ferro-labs/verifygw/internal/logging"
	"github.com/ferro-labs/verifygw/internal/provider"
	"github.com/ferro-labs/verifygw/internal/store"
)

// Cache namespaces.
const (
	Namespace       = "policy"
	NumberNamespace = "policy_number"
)

var (
	// ErrNotFound is returned when neither the store nor the provider knows
	// the member or policy.
	ErrNotFound = errors.New("policy not found")
	// ErrInvalid wraps policy validation failures.
	ErrInvalid = errors.New("invalid policy")
)

var (
	policyTypes      = []string{"health", "life", "auto", "home"}
	coverageStatuses = []string{store.CoverageActive, store.CoverageInactive, store.CoverageExpired, store.CoveragePending}
)

// Info is the answer to a policy-info query.
type Info struct {
	PolicyNumber   string             `json:"policy_number"`
	CoverageStatus string             `json:"coverage_status"`
	ExpiryDate     string             `json:"expiry_date"`
	PolicyType     string             `json:"policy_type,omitempty"`
	Provider       string             `json:"provider,omitempty"`
	Origin         string             `json:"origin"`
	Source         coordinator.Source `json:"source"`
}

// Service serves policy queries and CRUD.
type Service struct {
	coord     *coordinator.Coordinator
	providers *provider.Registry
	policies  store.Policies
	ttl       time.Duration
	now       func() time.Time
}

// NewService creates a Service. ttl overrides the coordinator default when
// positive.
func NewService(coord *coordinator.Coordinator, providers *provider.Registry, policies store.Policies, ttl time.Duration) *Service {
	return &Service{coord: coord, providers: providers, policies: policies, ttl: ttl, now: time.Now}
}

func identityFields(id provider.Identity) coordinator.Fields {
	return coordinator.Fields{
		"member_id": id.MemberID,
		"dob":       id.DOB,
		"last_name": id.LastName,
	}
}

func numberFields(number string) coordinator.Fields {
	return coordinator.Fields{"policy_number": number}
}

// Info returns the policy of a member. Stored policies win; otherwise the
// default provider is asked and its answer is stored.
func (s *Service) Info(ctx context.Context, id provider.Identity, force bool) (*Info, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	req := coordinator.Request{
		Namespace: Namespace,
		Fields:    identityFields(id),
		Bypass:    force,
		TTL:       s.ttl,
	}
	info, source, err := coordinator.LookupJSON(ctx, s.coord, req, func(ctx context.Context, _ coordinator.Fields) (Info, error) {
		return s.fetchInfo(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	info.Source = source
	return &info, nil
}

func (s *Service) fetchInfo(ctx context.Context, id provider.Identity) (Info, error) {
	p, err := s.policies.PolicyByMemberHash(ctx, store.MemberKeyHash(id.MemberID, id.DOB, id.LastName))
	if err == nil {
		return infoFromPolicy(p), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Info{}, err
	}

	client, ok := s.providers.Default()
	if !ok {
		return Info{}, ErrNotFound
	}
	remote, err := client.PolicyInfo(ctx, id)
	if errors.Is(err, provider.ErrNotFound) {
		return Info{}, ErrNotFound
	}
	if err != nil {
		return Info{}, err
	}

	verified := s.now().UTC()
	rec := &store.Policy{
		Provider:       client.Name(),
		MemberID:       strings.TrimSpace(id.MemberID),
		PolicyNumber:   remote.PolicyNumber,
		LastName:       strings.TrimSpace(id.LastName),
		DOB:            strings.TrimSpace(id.DOB),
		PolicyType:     orDefault(remote.PolicyType, "health"),
		CoverageStatus: orDefault(remote.CoverageStatus, store.CoverageActive),
		ExpiryDate:     remote.ExpiryDate,
		Source:         store.SourceProvider,
		VerifiedAt:     &verified,
	}
	normalize(rec)
	if err := s.policies.CreatePolicy(ctx, rec); err != nil {
		// The answer is still good; the next miss will ask the provider again.
		logging.FromContext(ctx).Warn("failed to store provider policy",
			"provider", client.Name(), "error", err)
	}
	info := infoFromPolicy(rec)
	info.Origin = orDefault(remote.Source, store.SourceProvider)
	return info, nil
}

func infoFromPolicy(p *store.Policy) Info {
	return Info{
		PolicyNumber:   p.PolicyNumber,
		CoverageStatus: p.CoverageStatus,
		ExpiryDate:     p.ExpiryDate,
		PolicyType:     p.PolicyType,
		Provider:       p.Provider,
		Origin:         p.Source,
	}
}

// ByNumber returns the stored policy with the given number.
func (s *Service) ByNumber(ctx context.Context, number string, force bool) (*store.Policy, coordinator.Source, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, "", fmt.Errorf("%w: policy number is required", ErrInvalid)
	}
	req := coordinator.Request{
		Namespace: NumberNamespace,
		Fields:    numberFields(number),
		Bypass:    force,
		TTL:       s.ttl,
	}
	p, source, err := coordinator.LookupJSON(ctx, s.coord, req, func(ctx context.Context, _ coordinator.Fields) (store.Policy, error) {
		p, err := s.policies.PolicyByNumber(ctx, number)
		if errors.Is(err, store.ErrNotFound) {
			return store.Policy{}, ErrNotFound
		}
		if err != nil {
			return store.Policy{}, err
		}
		return *p, nil
	})
	if err != nil {
		return nil, "", err
	}
	return &p, source, nil
}

// Get returns a stored policy by id.
func (s *Service) Get(ctx context.Context, id string) (*store.Policy, error) {
	p, err := s.policies.GetPolicy(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return p, err
}

// List returns a page of stored policies and the total match count.
func (s *Service) List(ctx context.Context, f store.PolicyFilter) ([]store.Policy, int, error) {
	return s.policies.ListPolicies(ctx, f)
}

// Create validates and stores p.
func (s *Service) Create(ctx context.Context, p *store.Policy) error {
	normalize(p)
	if p.Source == "" {
		p.Source = store.SourceManual
	}
	if err := validate(p); err != nil {
		return err
	}
	if err := s.policies.CreatePolicy(ctx, p); err != nil {
		return err
	}
	s.invalidate(ctx, p)
	return nil
}

// Patch holds the fields of an update. Nil fields are left unchanged.
type Patch struct {
	Provider       *string
	MemberID       *string
	PolicyNumber   *string
	FirstName      *string
	LastName       *string
	DOB            *string
	Email          *string
	Phone          *string
	PolicyType     *string
	CoverageStatus *string
	ExpiryDate     *string
	CoverageAmount *float64
	PremiumAmount  *float64
}

// Update applies patch to the policy with id.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*store.Policy, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *current

	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&current.Provider, patch.Provider)
	set(&current.MemberID, patch.MemberID)
	set(&current.PolicyNumber, patch.PolicyNumber)
	set(&current.FirstName, patch.FirstName)
	set(&current.LastName, patch.LastName)
	set(&current.DOB, patch.DOB)
	set(&current.Email, patch.Email)
	set(&current.Phone, patch.Phone)
	set(&current.PolicyType, patch.PolicyType)
	set(&current.CoverageStatus, patch.CoverageStatus)
	set(&current.ExpiryDate, patch.ExpiryDate)
	if patch.CoverageAmount != nil {
		current.CoverageAmount = patch.CoverageAmount
	}
	if patch.PremiumAmount != nil {
		current.PremiumAmount = patch.PremiumAmount
	}
	normalize(current)
	if err := validate(current); err != nil {
		return nil, err
	}

	if err := s.policies.UpdatePolicy(ctx, current); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.invalidate(ctx, &before)
	s.invalidate(ctx, current)
	return current, nil
}

// Delete removes the policy with id.
func (s *Service) Delete(ctx context.Context, id string) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.policies.DeletePolicy(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.invalidate(ctx, current)
	return nil
}

// invalidate drops the cached answers that mention p. Failures are logged
// only; the entries still expire with their TTL.
func (s *Service) invalidate(ctx context.Context, p *store.Policy) {
	log := logging.FromContext(ctx)
	id := provider.Identity{MemberID: p.MemberID, DOB: p.DOB, LastName: p.LastName}
	if err := s.coord.Invalidate(ctx, Namespace, identityFields(id)); err != nil {
		log.Warn("policy cache invalidation failed", "namespace", Namespace, "error", err)
	}
	if p.PolicyNumber != "" {
		if err := s.coord.Invalidate(ctx, NumberNamespace, numberFields(p.PolicyNumber)); err != nil {
			log.Warn("policy cache invalidation failed", "namespace", NumberNamespace, "error", err)
		}
	}
}

func normalize(p *store.Policy) {
	p.Provider = strings.TrimSpace(p.Provider)
	p.MemberID = strings.TrimSpace(p.MemberID)
	p.PolicyNumber = strings.ToUpper(strings.TrimSpace(p.PolicyNumber))
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.DOB = strings.TrimSpace(p.DOB)
	p.Email = strings.TrimSpace(p.Email)
	p.PolicyType = strings.ToLower(strings.TrimSpace(p.PolicyType))
	p.CoverageStatus = strings.ToLower(strings.TrimSpace(p.CoverageStatus))
	p.ExpiryDate = strings.TrimSpace(p.ExpiryDate)
}

func validate(p *store.Policy) error {
	switch {
	case p.Provider == "":
		return fmt.Errorf("%w: provider is required", ErrInvalid)
	case p.PolicyNumber == "":
		return fmt.Errorf("%w: policy_number is required", ErrInvalid)
	case !slices.Contains(policyTypes, p.PolicyType):
		return fmt.Errorf("%w: policy_type must be one of %s", ErrInvalid, strings.Join(policyTypes, ", "))
	case !slices.Contains(coverageStatuses, p.CoverageStatus):
		return fmt.Errorf("%w: coverage_status must be one of %s", ErrInvalid, strings.Join(coverageStatuses, ", "))
	}
	id := provider.Identity{MemberID: p.MemberID, DOB: p.DOB, LastName: p.LastName}
	if err := id.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if p.ExpiryDate != "" {
		if _, err := time.Parse(time.DateOnly, p.ExpiryDate); err != nil {
			return fmt.Errorf("%w: expiry_date must be in YYYY-MM-DD format", ErrInvalid)
		}
	}
	return nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
