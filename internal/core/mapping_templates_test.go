package core

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestMatchTemplateHeaders(t *testing.T) {
	tests := []struct {
		name     string
		uploaded []string
		template []string
		want     float64
	}{
		{"exact", []string{"Navn", "Adresse"}, []string{"Navn", "Adresse"}, 1.0},
		{"folded comparison", []string{" NAVN ", "adresse"}, []string{"Navn", "Adresse"}, 1.0},
		{"uploaded superset still covers", []string{"Navn", "Adresse", "E-post"}, []string{"Navn", "Adresse"}, 1.0},
		{"three of four", []string{"Navn", "Adresse", "E-post"}, []string{"Navn", "Adresse", "E-post", "Telefon"}, 0.75},
		{"half", []string{"Navn"}, []string{"Navn", "Adresse"}, 0.5},
		{"disjoint", []string{"Navn"}, []string{"Vare", "Pris"}, 0},
		{"empty template", []string{"Navn"}, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchTemplateHeaders(tt.uploaded, tt.template); got != tt.want {
				t.Errorf("matchTemplateHeaders(%v, %v) = %v, want %v", tt.uploaded, tt.template, got, tt.want)
			}
		})
	}
}

func TestBestTemplateMatch(t *testing.T) {
	wide := &MappingTemplate{ID: uuid.New(), Name: "Utvidet", Headers: []string{"Navn", "Adresse", "E-post", "Telefon"}}
	narrow := &MappingTemplate{ID: uuid.New(), Name: "Minimal", Headers: []string{"Navn", "Adresse"}}
	headers := []string{"Navn", "Adresse", "E-post"}

	match := BestTemplateMatch([]*MappingTemplate{wide, narrow}, headers)
	if match == nil {
		t.Fatal("BestTemplateMatch returned nil, want the fully covered template")
	}
	if match.Template.Name != "Minimal" || match.MatchScore != 1.0 {
		t.Errorf("best = %s at %v, want Minimal at 1.0", match.Template.Name, match.MatchScore)
	}

	far := &MappingTemplate{ID: uuid.New(), Name: "Varer", Headers: []string{"Vare", "Pris", "Lager"}}
	if got := BestTemplateMatch([]*MappingTemplate{far}, headers); got != nil {
		t.Errorf("BestTemplateMatch = %+v, want nil below the threshold", got)
	}
	if got := BestTemplateMatch(nil, headers); got != nil {
		t.Errorf("BestTemplateMatch(nil) = %+v, want nil", got)
	}
}

func TestService_Templates(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	tenant := uuid.New()

	t.Run("create validates input", func(t *testing.T) {
		if _, err := env.svc.CreateTemplate(ctx, tenant, "", []string{"Navn"}, nil); err == nil || !strings.Contains(err.Error(), "name is required") {
			t.Errorf("CreateTemplate without name = %v, want name error", err)
		}
		if _, err := env.svc.CreateTemplate(ctx, tenant, "Standard", nil, nil); err == nil || !strings.Contains(err.Error(), "headers are required") {
			t.Errorf("CreateTemplate without headers = %v, want headers error", err)
		}
	})

	tpl, err := env.svc.CreateTemplate(ctx, tenant, "Standard kundeliste", []string{"Navn", "Adresse"}, []ColumnMapping{
		{Column: "Navn", Field: FieldNavn},
		{Column: "Adresse", Field: FieldAdresse},
	})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	if tpl.Mappings[0].Action != ActionMap || !tpl.Mappings[0].Required {
		t.Errorf("saved mapping = %+v, want it normalized on save", tpl.Mappings[0])
	}
	if !env.audit.hasAction(AuditTemplateSaved) {
		t.Error("template save left no audit event")
	}

	if _, err := env.svc.CreateTemplate(ctx, tenant, "Utvidet", []string{"Navn", "Adresse", "E-post", "Telefon"}, []ColumnMapping{
		{Column: "Navn", Field: FieldNavn},
	}); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}

	list, err := env.svc.ListTemplates(ctx, tenant)
	if err != nil {
		t.Fatalf("ListTemplates: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d templates, want 2", len(list))
	}

	matches, err := env.svc.MatchTemplates(ctx, tenant, []string{"Navn", "Adresse", "E-post"})
	if err != nil {
		t.Fatalf("MatchTemplates: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Template.Name != "Standard kundeliste" || matches[0].MatchScore != 1.0 {
		t.Errorf("first match = %s at %v, want the full cover first", matches[0].Template.Name, matches[0].MatchScore)
	}
	if matches[1].MatchScore != 0.75 {
		t.Errorf("second match score = %v, want 0.75", matches[1].MatchScore)
	}

	if err := env.svc.DeleteTemplate(ctx, tenant, tpl.ID); err != nil {
		t.Fatalf("DeleteTemplate: %v", err)
	}
	list, err = env.svc.ListTemplates(ctx, tenant)
	if err != nil {
		t.Fatalf("ListTemplates: %v", err)
	}
	if len(list) != 1 || list[0].Name != "Utvidet" {
		t.Errorf("after delete: %d templates, want only Utvidet left", len(list))
	}
	if !env.audit.hasAction(AuditTemplateDeleted) {
		t.Error("template delete left no audit event")
	}
}
