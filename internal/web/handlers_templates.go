package web

import (
	"net/http"

	"github.com/fieldserve/roster-import/internal/core"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// handleListTemplates returns the tenant's saved mapping templates.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())

	templates, err := s.service.ListTemplates(r.Context(), tenantID)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	writeJSON(w, map[string]interface{}{"templates": templates})
}

// createTemplateRequest saves a mapping under a name for reuse.
type createTemplateRequest struct {
	Name     string               `json:"name"`
	Headers  []string             `json:"headers"`
	Mappings []core.ColumnMapping `json:"mappings"`
}

// handleCreateTemplate saves a mapping template. Saving under an existing
// name replaces that template.
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())

	var req createTemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	template, err := s.service.CreateTemplate(r.Context(), tenantID, req.Name, req.Headers, req.Mappings)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	writeJSONStatus(w, http.StatusCreated, template)
}

// handleDeleteTemplate removes a mapping template.
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())

	templateID, err := uuid.Parse(chi.URLParam(r, "templateID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid template id", "ERR000")
		return
	}

	if err := s.service.DeleteTemplate(r.Context(), tenantID, templateID); err != nil {
		s.serviceError(w, r, err)
		return
	}

	writeJSON(w, map[string]string{"status": "deleted"})
}

// matchTemplatesRequest asks which saved templates fit a header set.
type matchTemplatesRequest struct {
	Headers []string `json:"headers"`
}

// handleMatchTemplates scores the tenant's templates against a header set,
// best match first.
func (s *Server) handleMatchTemplates(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())

	var req matchTemplatesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	matches, err := s.service.MatchTemplates(r.Context(), tenantID, req.Headers)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}

	writeJSON(w, map[string]interface{}{"matches": matches})
}
