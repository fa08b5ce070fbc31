package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldserve/roster-import/internal/core"
)

// TemplateRepo persists saved column mappings. Implements core.TemplateStore.
type TemplateRepo struct {
	db *pgxpool.Pool
}

func NewTemplateRepo(db *pgxpool.Pool) *TemplateRepo {
	return &TemplateRepo{db: db}
}

// SaveTemplate inserts or, when the tenant already has a template with the
// same name, replaces its headers and mappings in place. The original id and
// created_at survive a replace.
func (r *TemplateRepo) SaveTemplate(ctx context.Context, tpl *core.MappingTemplate) error {
	headers, err := json.Marshal(tpl.Headers)
	if err != nil {
		return fmt.Errorf("marshal template headers: %w", err)
	}
	mappings, err := json.Marshal(tpl.Mappings)
	if err != nil {
		return fmt.Errorf("marshal template mappings: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO mapping_templates (id, tenant_id, name, headers, mappings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, name) DO UPDATE SET
			headers = EXCLUDED.headers,
			mappings = EXCLUDED.mappings,
			updated_at = EXCLUDED.updated_at
	`, tpl.ID, tpl.TenantID, tpl.Name, headers, mappings, tpl.CreatedAt, tpl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}

func (r *TemplateRepo) ListTemplates(ctx context.Context, tenantID uuid.UUID) ([]*core.MappingTemplate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, name, headers, mappings, created_at, updated_at
		FROM mapping_templates
		WHERE tenant_id = $1
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []*core.MappingTemplate
	for rows.Next() {
		var (
			tpl               core.MappingTemplate
			headers, mappings []byte
		)
		if err := rows.Scan(&tpl.ID, &tpl.TenantID, &tpl.Name, &headers, &mappings,
			&tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		if err := unmarshalJSON(headers, &tpl.Headers); err != nil {
			return nil, fmt.Errorf("decode template headers: %w", err)
		}
		if err := unmarshalJSON(mappings, &tpl.Mappings); err != nil {
			return nil, fmt.Errorf("decode template mappings: %w", err)
		}
		out = append(out, &tpl)
	}
	return out, rows.Err()
}

func (r *TemplateRepo) DeleteTemplate(ctx context.Context, tenantID, templateID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM mapping_templates WHERE tenant_id = $1 AND id = $2
	`, tenantID, templateID)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete template: template %s not found", templateID)
	}
	return nil
}
