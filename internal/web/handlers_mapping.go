package web

import (
	"net/http"

	"github.com/fieldserve/roster-import/internal/core"
)

// mappingState is what the mapping step renders: the source headers, the
// resolver's proposal from upload time, and whatever mapping has been
// applied since.
type mappingState struct {
	Headers  []string              `json:"headers"`
	Proposal *core.MappingProposal `json:"proposal,omitempty"`
	Mapping  []core.ColumnMapping  `json:"mapping,omitempty"`
}

// handleGetMapping returns the batch's mapping state.
func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	batchID, err := batchIDParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	batch, err := s.service.GetBatch(r.Context(), tenantID, batchID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	writeJSON(w, mappingState{
		Headers:  batch.Headers,
		Proposal: batch.Proposal,
		Mapping:  batch.Mapping,
	})
}

// applyMappingRequest carries the operator's column decisions.
type applyMappingRequest struct {
	Mappings []core.ColumnMapping `json:"mappings"`
}

// handleApplyMapping validates and applies a column mapping, then advances
// the batch to the preview step.
func (s *Server) handleApplyMapping(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	batchID, err := batchIDParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	var req applyMappingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	batch, err := s.service.ApplyMapping(r.Context(), tenantID, batchID, req.Mappings)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	writeJSON(w, batch)
}
