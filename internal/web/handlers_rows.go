package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/fieldserve/roster-import/internal/core"
	"github.com/go-chi/chi/v5"
)

// handleValidate runs validation over the batch's effective rows and
// returns the summary counts.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	batchID, err := batchIDParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	summary, err := s.service.Validate(r.Context(), tenantID, batchID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	writeJSON(w, summary)
}

// handlePreview returns a paginated projection of the batch as it would be
// committed. Rows currently removed by cleaning are absent; edited values
// override mapped ones.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	batchID, err := batchIDParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	opts := core.PreviewOptions{
		ShowErrors: parseBoolParam(r, "show_errors", false),
		Mode:       core.PreviewMode(r.URL.Query().Get("mode")),
		Limit:      parseIntParam(r, "limit", 0),
		Offset:     parseIntParam(r, "offset", 0),
	}

	page, err := s.service.Preview(r.Context(), tenantID, batchID, opts)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	writeJSON(w, page)
}

// patchRowRequest carries per-row changes: a sparse edit overlay keyed by
// target field, and/or a selection toggle.
type patchRowRequest struct {
	Edits    map[string]string `json:"edits,omitempty"`
	Selected *bool             `json:"selected,omitempty"`
}

// handlePatchRow applies edits and selection changes to one staging row.
func (s *Server) handlePatchRow(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	batchID, err := batchIDParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	rowIndex, err := strconv.Atoi(chi.URLParam(r, "rowIndex"))
	if err != nil || rowIndex < 0 {
		writeError(w, http.StatusBadRequest, "invalid row index", "ERR000")
		return
	}

	var req patchRowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	if len(req.Edits) == 0 && req.Selected == nil {
		writeError(w, http.StatusBadRequest, "no changes in request", "ERR000")
		return
	}

	var row *core.StagingRow
	if len(req.Edits) > 0 {
		row, err = s.service.EditRow(r.Context(), tenantID, batchID, rowIndex, req.Edits)
		if err != nil {
			s.serviceError(w, r, err)
			return
		}
	}
	if req.Selected != nil {
		if err := s.service.SetRowSelection(r.Context(), tenantID, batchID, rowIndex, *req.Selected); err != nil {
			s.serviceError(w, r, err)
			return
		}
		if row != nil {
			row.Selected = *req.Selected
		}
	}

	if row != nil {
		writeJSON(w, row)
		return
	}
	writeJSON(w, map[string]interface{}{"row_index": rowIndex, "selected": *req.Selected})
}

// goToStepRequest names the wizard step to move to.
type goToStepRequest struct {
	Step string `json:"step"`
}

// handleGoToStep moves the batch to an earlier wizard step. Forward
// movement happens only through the step operations themselves.
func (s *Server) handleGoToStep(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	batchID, err := batchIDParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	var req goToStepRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	step := core.Step(req.Step)
	if step.Order() == 0 {
		s.respondError(w, r, fmt.Errorf("cannot move to unknown step %q", req.Step), http.StatusBadRequest)
		return
	}

	batch, err := s.service.GoToStep(r.Context(), tenantID, batchID, step)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	writeJSON(w, batch)
}
