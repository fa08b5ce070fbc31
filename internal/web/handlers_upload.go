package web

import (
	"io"
	"net/http"

	"github.com/fieldserve/roster-import/internal/core"
)

// handleUpload accepts a roster file and creates a staging batch. The
// response carries the cleaning report and mapping proposal so the client
// can render the next two wizard steps without further round-trips.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())

	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+4096)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large or invalid form", "FILE004")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided", "FILE001")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	result, err := s.service.Upload(r.Context(), tenantID, header.Filename, data)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	writeJSONStatus(w, http.StatusCreated, result)
}

// handleListBatches lists the tenant's batches, newest first.
func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	limit := parseIntParam(r, "limit", 50)

	batches, err := s.service.ListBatches(r.Context(), tenantID, limit)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	writeJSON(w, map[string]interface{}{"batches": batches})
}

// handleGetBatch returns one batch with its full wizard state.
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
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

	writeJSON(w, batch)
}

// patchBatchRequest carries batch-level settings the operator can change.
type patchBatchRequest struct {
	UpdateExisting *bool `json:"update_existing"`
}

// handlePatchBatch updates batch-level settings. Currently that is the
// update-on-duplicate toggle.
func (s *Server) handlePatchBatch(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	batchID, err := batchIDParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	var req patchBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	if req.UpdateExisting == nil {
		writeError(w, http.StatusBadRequest, "no settings in request", "ERR000")
		return
	}

	if err := s.service.SetUpdateExisting(r.Context(), tenantID, batchID, *req.UpdateExisting); err != nil {
		s.serviceError(w, r, err)
		return
	}

	batch, err := s.service.GetBatch(r.Context(), tenantID, batchID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	writeJSON(w, batch)
}

// handleDiscardBatch abandons a staging batch.
func (s *Server) handleDiscardBatch(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())
	batchID, err := batchIDParam(r)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	if err := s.service.Discard(r.Context(), tenantID, batchID); err != nil {
		s.serviceError(w, r, err)
		return
	}

	writeJSON(w, map[string]string{"status": "discarded"})
}

// handleFields returns the target field catalog the mapping step maps into.
func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"catalog_version": core.CatalogVersion,
		"fields":          core.Fields(),
	})
}

// handleImportStatus returns the state of the platform-wide import limiter.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.limiter.Status())
}
