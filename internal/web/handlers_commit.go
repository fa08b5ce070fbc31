package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/fieldserve/roster-import/internal/core"
	"github.com/fieldserve/roster-import/internal/logging"
)

// handleCommit writes the batch's eligible rows to the customer store. Row
// failures are reported in the result, not as an error response; the commit
// as a whole succeeds unless nothing could be attempted.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	batchID, err := batchIDParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	var req core.CommitRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.respondError(w, r, err, http.StatusBadRequest)
			return
		}
	}

	result, err := s.service.Commit(r.Context(), tenantID, batchID, req)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	observeCommit(result)
	logging.WithBatch(r.Context(), tenantID.String(), batchID).Info("commit handled",
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"dry_run", result.DryRun,
	)
	writeJSON(w, result)
}

// rollbackRequest carries the operator's stated reason, recorded in the
// audit trail.
type rollbackRequest struct {
	Reason string `json:"reason"`
}

// handleRollback deletes the customer records this batch created. Records
// that updated pre-existing customers are left untouched.
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	batchID, err := batchIDParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	var req rollbackRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.respondError(w, r, err, http.StatusBadRequest)
			return
		}
	}

	result, err := s.service.Rollback(r.Context(), tenantID, batchID, req.Reason)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	logging.WithBatch(r.Context(), tenantID.String(), batchID).Info("rollback handled",
		"records_deleted", result.RecordsDeleted,
	)
	writeJSON(w, result)
}

// handleReimport reopens a committed batch scoped to the rows that failed
// in its last commit.
func (s *Server) handleReimport(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	batchID, err := batchIDParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	batch, err := s.service.ReimportFailed(r.Context(), tenantID, batchID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	writeJSON(w, batch)
}

// handleListCommits returns the batch's commit attempts, oldest first.
func (s *Server) handleListCommits(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	batchID, err := batchIDParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	commits, err := s.service.Commits(r.Context(), tenantID, batchID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	writeJSON(w, map[string]interface{}{"commits": commits})
}

// handleErrorReport streams a downloadable report of the batch's validation
// and commit failures. Format is csv (default) or xlsx.
func (s *Server) handleErrorReport(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	batchID, err := batchIDParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	format := core.ErrorReportFormat(r.URL.Query().Get("format"))
	fileName, data, err := s.service.ErrorReport(r.Context(), tenantID, batchID, format)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	contentType := "text/csv; charset=utf-8"
	if strings.HasSuffix(fileName, ".xlsx") {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.Write(data)
}
