package api

import (
	"net/http"

	"github.com/ferro-labs/verifygw/internal/provider"
	"github.com/ferro-labs/verifygw/internal/verification"
	"github.com/go-chi/chi/v5"
)

type identityRequest struct {
	MemberID string `json:"member_id" validate:"required,max=64"`
	DOB      string `json:"dob" validate:"required,datetime=2006-01-02"`
	LastName string `json:"last_name" validate:"required,max=100"`
}

func (req identityRequest) identity() provider.Identity {
	return provider.Identity{MemberID: req.MemberID, DOB: req.DOB, LastName: req.LastName}
}

type verifyRequest struct {
	Provider string `json:"provider" validate:"omitempty,max=64"`
	identityRequest
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	force, err := forceRefresh(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req verifyRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	res, err := s.Verifications.Verify(r.Context(), verification.Input{
		Provider: req.Provider,
		Identity: req.identity(),
	}, force)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.audit(r, "verify", map[string]any{
		"request_id":    res.RequestID,
		"provider":      res.Provider,
		"source":        res.Source,
		"force_refresh": force,
	})
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getVerification(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Verifications.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
