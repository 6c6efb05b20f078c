package api

import (
	"net/http"

	"github.com/ferro-labs/verifygw/internal/store"
)

type auditListResponse struct {
	Items []store.AuditEntry `json:"items"`
	Limit int                `json:"limit"`
}

// listAudit returns the newest audit entries, optionally filtered by action.
func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", store.DefaultPageSize)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if limit == 0 || limit > store.MaxPageSize {
		limit = store.DefaultPageSize
	}
	items, err := s.Audit.RecentAudit(r.Context(), r.URL.Query().Get("action"), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auditListResponse{Items: items, Limit: limit})
}
