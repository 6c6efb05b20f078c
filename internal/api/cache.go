package api

import (
	"net/http"

	"github.com/ferro-labs/verifygw/internal/coordinator"
	"github.com/go-chi/chi/v5"
)

type invalidateRequest struct {
	Fields map[string]string `json:"fields" validate:"required,min=1"`
}

// invalidateCache drops the entry for one namespace and field set, so the
// next lookup goes to the provider.
func (s *Server) invalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := decode(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	ns := chi.URLParam(r, "namespace")
	fields := coordinator.Fields(req.Fields)
	key, err := s.Cache.Key(ns, fields)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := s.Cache.Invalidate(r.Context(), ns, fields); err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.audit(r, "cache_invalidate", map[string]any{"namespace": ns, "key": key})
	writeJSON(w, http.StatusOK, map[string]string{"namespace": ns, "key": key, "status": "invalidated"})
}
