package web

import (
	"net/http"

	"github.com/fieldserve/roster-import/internal/core"
	"github.com/go-chi/chi/v5"
)

// handleCleaningState returns the detection report with rule toggles and
// affected counts as the batch currently has them.
func (s *Server) handleCleaningState(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	batchID, err := batchIDParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	report, err := s.service.CleaningState(r.Context(), tenantID, batchID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	writeJSON(w, report)
}

// toggleRuleRequest enables or disables one cleaning rule.
type toggleRuleRequest struct {
	Enabled bool `json:"enabled"`
}

// handleToggleRule flips a cleaning rule on or off. Toggling re-filters the
// recorded detection report; it never re-runs detection.
func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	batchID, err := batchIDParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	ruleID := core.RuleID(chi.URLParam(r, "ruleID"))

	var req toggleRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	rules, err := s.service.ToggleRule(r.Context(), tenantID, batchID, ruleID, req.Enabled)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	writeJSON(w, map[string]interface{}{"rules": rules})
}

// approveCleaningRequest carries the operator's cleaning decision.
type approveCleaningRequest struct {
	// Skip accepts the data as uploaded, with every rule off.
	Skip bool `json:"skip"`
}

// handleApproveCleaning locks in the cleaning outcome and advances the batch
// to the mapping step.
func (s *Server) handleApproveCleaning(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	batchID, err := batchIDParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	var req approveCleaningRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.respondError(w, r, err, http.StatusBadRequest)
			return
		}
	}

	batch, err := s.service.ApproveCleaning(r.Context(), tenantID, batchID, req.Skip)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	writeJSON(w, batch)
}
