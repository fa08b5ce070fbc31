package web

import (
	"net/http"
)

// handleBatchHistory returns the audit trail for one batch, newest first.
// This answers "who did what to this import and when", including commits
// and rollbacks with their acting user.
func (s *Server) handleBatchHistory(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	batchID, err := batchIDParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	limit := parseIntParam(r, "limit", 100)
	events, err := s.service.BatchHistory(r.Context(), tenantID, batchID, limit)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	writeJSON(w, map[string]interface{}{"events": events})
}
