package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// TemplateMatchThreshold is the minimum header overlap for a template to be
// offered as a match.
const TemplateMatchThreshold = 0.7

// CreateTemplate saves the batch's confirmed mapping under a name so later
// uploads with the same layout resolve instantly.
func (s *Service) CreateTemplate(ctx context.Context, tenantID uuid.UUID, name string, headers []string, mappings []ColumnMapping) (*MappingTemplate, error) {
	if name == "" {
		return nil, fmt.Errorf("template name is required")
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("template headers are required")
	}

	mappings = NormalizeMapping(mappings)
	now := s.now()
	tpl := &MappingTemplate{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		Headers:   headers,
		Mappings:  mappings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.templates.SaveTemplate(ctx, tpl); err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}

	s.recordAudit(ctx, tenantID, uuid.Nil, AuditTemplateSaved, map[string]any{
		"template_id": tpl.ID.String(),
		"name":        name,
		"columns":     len(mappings),
	})
	return tpl, nil
}

// ListTemplates returns all saved templates for a tenant.
func (s *Service) ListTemplates(ctx context.Context, tenantID uuid.UUID) ([]*MappingTemplate, error) {
	tpls, err := s.templates.ListTemplates(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return tpls, nil
}

// DeleteTemplate removes a saved template.
func (s *Service) DeleteTemplate(ctx context.Context, tenantID, templateID uuid.UUID) error {
	if err := s.templates.DeleteTemplate(ctx, tenantID, templateID); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	s.recordAudit(ctx, tenantID, uuid.Nil, AuditTemplateDeleted, map[string]any{
		"template_id": templateID.String(),
	})
	return nil
}

// MatchTemplates finds saved templates that fit the given headers, best
// match first.
func (s *Service) MatchTemplates(ctx context.Context, tenantID uuid.UUID, headers []string) ([]TemplateMatch, error) {
	tpls, err := s.templates.ListTemplates(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	var matches []TemplateMatch
	for _, t := range tpls {
		score := matchTemplateHeaders(headers, t.Headers)
		if score >= TemplateMatchThreshold {
			matches = append(matches, TemplateMatch{
				Template:   *t,
				MatchScore: score,
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})
	return matches, nil
}

// BestTemplateMatch returns the highest-scoring template for the headers,
// or nil when none clears the threshold.
func BestTemplateMatch(tpls []*MappingTemplate, headers []string) *TemplateMatch {
	var best *TemplateMatch
	for _, t := range tpls {
		score := matchTemplateHeaders(headers, t.Headers)
		if score < TemplateMatchThreshold {
			continue
		}
		if best == nil || score > best.MatchScore {
			best = &TemplateMatch{Template: *t, MatchScore: score}
		}
	}
	return best
}

// matchTemplateHeaders calculates how much of the template's header set the
// uploaded headers cover.
func matchTemplateHeaders(headers, templateHeaders []string) float64 {
	if len(templateHeaders) == 0 {
		return 0
	}

	uploaded := make(map[string]bool, len(headers))
	for _, h := range headers {
		uploaded[foldHeader(h)] = true
	}

	matched := 0
	for _, h := range templateHeaders {
		if uploaded[foldHeader(h)] {
			matched++
		}
	}
	return float64(matched) / float64(len(templateHeaders))
}
