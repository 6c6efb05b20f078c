package api

import (
	"net/http"

	"github.com/ferro-labs/verifygw/internal/policy"
	"github.com/ferro-labs/verifygw/internal/store"
	"github.com/go-chi/chi/v5"
)

func (s *Server) policyInfo(w http.ResponseWriter, r *http.Request) {
	force, err := forceRefresh(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req identityRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	info, err := s.Policies.Info(r.Context(), req.identity(), force)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.audit(r, "policy_info", map[string]any{
		"source":        info.Source,
		"origin":        info.Origin,
		"force_refresh": force,
	})
	writeJSON(w, http.StatusOK, info)
}

type policyLookupResponse struct {
	*store.Policy
	CacheSource string `json:"cache_source"`
}

func (s *Server) policyByNumber(w http.ResponseWriter, r *http.Request) {
	force, err := forceRefresh(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	p, source, err := s.Policies.ByNumber(r.Context(), chi.URLParam(r, "number"), force)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policyLookupResponse{Policy: p, CacheSource: string(source)})
}

type policyListResponse struct {
	Items  []store.Policy `json:"items"`
	Total  int            `json:"total"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", store.DefaultPageSize)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if limit == 0 {
		limit = store.DefaultPageSize
	}
	limit = min(limit, store.MaxPageSize)
	items, total, err := s.Policies.List(r.Context(), store.PolicyFilter{
		Search: r.URL.Query().Get("search"),
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policyListResponse{Items: items, Total: total, Offset: offset, Limit: limit})
}

type policyRequest struct {
	Provider       string   `json:"provider" validate:"required,max=64"`
	MemberID       string   `json:"member_id" validate:"required,max=64"`
	PolicyNumber   string   `json:"policy_number" validate:"required,max=64"`
	FirstName      string   `json:"first_name" validate:"max=100"`
	LastName       string   `json:"last_name" validate:"required,max=100"`
	DOB            string   `json:"dob" validate:"required,datetime=2006-01-02"`
	Email          string   `json:"email" validate:"omitempty,email"`
	Phone          string   `json:"phone" validate:"max=32"`
	PolicyType     string   `json:"policy_type" validate:"required"`
	CoverageStatus string   `json:"coverage_status" validate:"required"`
	ExpiryDate     string   `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	CoverageAmount *float64 `json:"coverage_amount" validate:"omitempty,gte=0"`
	PremiumAmount  *float64 `json:"premium_amount" validate:"omitempty,gte=0"`
}

func (s *Server) createPolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	p := &store.Policy{
		Provider:       req.Provider,
		MemberID:       req.MemberID,
		PolicyNumber:   req.PolicyNumber,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		DOB:            req.DOB,
		Email:          req.Email,
		Phone:          req.Phone,
		PolicyType:     req.PolicyType,
		CoverageStatus: req.CoverageStatus,
		ExpiryDate:     req.ExpiryDate,
		CoverageAmount: req.CoverageAmount,
		PremiumAmount:  req.PremiumAmount,
		Source:         store.SourceManual,
	}
	if err := s.Policies.Create(r.Context(), p); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.audit(r, "policy_create", map[string]any{"policy_id": p.ID})
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.Policies.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type policyPatchRequest struct {
	Provider       *string  `json:"provider" validate:"omitempty,min=1,max=64"`
	MemberID       *string  `json:"member_id" validate:"omitempty,min=1,max=64"`
	PolicyNumber   *string  `json:"policy_number" validate:"omitempty,min=1,max=64"`
	FirstName      *string  `json:"first_name" validate:"omitempty,max=100"`
	LastName       *string  `json:"last_name" validate:"omitempty,min=1,max=100"`
	DOB            *string  `json:"dob" validate:"omitempty,datetime=2006-01-02"`
	Email          *string  `json:"email" validate:"omitempty,email"`
	Phone          *string  `json:"phone" validate:"omitempty,max=32"`
	PolicyType     *string  `json:"policy_type"`
	CoverageStatus *string  `json:"coverage_status"`
	ExpiryDate     *string  `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	CoverageAmount *float64 `json:"coverage_amount" validate:"omitempty,gte=0"`
	PremiumAmount  *float64 `json:"premium_amount" validate:"omitempty,gte=0"`
}

func (s *Server) updatePolicy(w http.ResponseWriter, r *http.Request) {
	var req policyPatchRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	p, err := s.Policies.Update(r.Context(), id, policy.Patch{
		Provider:       req.Provider,
		MemberID:       req.MemberID,
		PolicyNumber:   req.PolicyNumber,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		DOB:            req.DOB,
		Email:          req.Email,
		Phone:          req.Phone,
		PolicyType:     req.PolicyType,
		CoverageStatus: req.CoverageStatus,
		ExpiryDate:     req.ExpiryDate,
		CoverageAmount: req.CoverageAmount,
		PremiumAmount:  req.PremiumAmount,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.audit(r, "policy_update", map[string]any{"policy_id": id})
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deletePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Policies.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.audit(r, "policy_delete", map[string]any{"policy_id": id})
	w.WriteHeader(http.StatusNoContent)
}
