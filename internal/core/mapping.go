package core

// mapping.go resolves uploaded column headers to catalog fields.
//
// Resolution is layered, cheapest first:
//
//  1. Saved templates: a tenant whose previous upload had the same headers
//     gets that mapping back immediately.
//  2. Alias catalog: exact matches against known Norwegian and English
//     header spellings score 1.0.
//  3. Fuzzy matching: containment and Levenshtein distance catch typos and
//     compound headers ("Kunde navn", "E-postadresse").
//  4. Classifier: whatever is still unresolved goes to the language model
//     in one batch, cache first.
//
// The classifier is strictly best-effort. When it fails the proposal simply
// carries more open questions; the operator resolves them by hand. Required
// fields (name and address) are never auto-confirmed, whatever their
// confidence. ValidateMapping enforces that before the mapping is applied.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// DefaultMappingThreshold is the confidence at or above which a suggestion
// is proposed as mapped rather than raised as an open question.
const DefaultMappingThreshold = 0.8

// RequiredFieldError reports a required target field with no confirmed
// column assignment.
type RequiredFieldError struct {
	Field string
}

func (e *RequiredFieldError) Error() string {
	return fmt.Sprintf("required field %q is not mapped", e.Field)
}

// AmbiguousFieldError reports two required fields resolving to the same
// source column.
type AmbiguousFieldError struct {
	Column string
	Fields []string
}

func (e *AmbiguousFieldError) Error() string {
	return fmt.Sprintf("required fields %s are mapped to the same column %q",
		strings.Join(e.Fields, " and "), e.Column)
}

// MappingResolver produces mapping proposals for uploaded headers.
// classifier, cache and templates may each be nil; resolution degrades to
// the remaining layers.
type MappingResolver struct {
	classifier HeaderClassifier
	cache      SuggestionCache
	templates  TemplateStore
	threshold  float64
}

func NewMappingResolver(classifier HeaderClassifier, cache SuggestionCache, templates TemplateStore, threshold float64) *MappingResolver {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultMappingThreshold
	}
	return &MappingResolver{
		classifier: classifier,
		cache:      cache,
		templates:  templates,
		threshold:  threshold,
	}
}

// candidate is one header's best known match while resolution runs.
type candidate struct {
	field      string
	confidence float64
	origin     MappingOrigin
}

// Resolve builds a mapping proposal for the headers. samples carries a few
// cell values per header and travels with whatever the classifier is asked
// about; it may be nil. Resolve never fails on classifier or template
// trouble; those layers degrade and the proposal carries open questions
// instead.
func (r *MappingResolver) Resolve(ctx context.Context, tenantID uuid.UUID, headers []string, samples map[string][]string) (*MappingProposal, error) {
	if tpl := r.templateFor(ctx, tenantID, headers); tpl != nil {
		return proposalFromTemplate(tpl, headers), nil
	}

	best := make(map[string]candidate, len(headers))
	for _, h := range headers {
		if field, conf := deterministicMatch(h); field != "" {
			best[h] = candidate{field: field, confidence: conf, origin: OriginDeterministic}
		}
	}

	// Ship everything unresolved or below threshold to the classifier in
	// one batch. A stronger verdict replaces the deterministic one.
	var unresolved []string
	for _, h := range headers {
		if best[h].confidence < r.threshold {
			unresolved = append(unresolved, h)
		}
	}
	for _, s := range r.classify(ctx, unresolved, samples) {
		if s.Confidence > best[s.Header].confidence {
			best[s.Header] = candidate{field: s.Field, confidence: s.Confidence, origin: OriginAI}
		}
	}

	resolveFieldCollisions(headers, best)
	return r.buildProposal(headers, best), nil
}

// templateFor returns a saved template whose headers exactly cover this
// upload, or nil.
func (r *MappingResolver) templateFor(ctx context.Context, tenantID uuid.UUID, headers []string) *MappingTemplate {
	if r.templates == nil {
		return nil
	}
	tpls, err := r.templates.ListTemplates(ctx, tenantID)
	if err != nil {
		slog.Warn("template lookup failed, continuing without templates", "error", err)
		return nil
	}
	match := BestTemplateMatch(tpls, headers)
	if match == nil || match.MatchScore < 1.0 {
		return nil
	}
	return &match.Template
}

func proposalFromTemplate(tpl *MappingTemplate, headers []string) *MappingProposal {
	byColumn := make(map[string]ColumnMapping, len(tpl.Mappings))
	for _, m := range tpl.Mappings {
		byColumn[foldHeader(m.Column)] = m
	}

	proposal := &MappingProposal{}
	for _, h := range headers {
		m, ok := byColumn[foldHeader(h)]
		if !ok {
			proposal.Mappings = append(proposal.Mappings, ColumnMapping{
				Column: h,
				Action: ActionCustom,
			})
			proposal.OpenQuestions = append(proposal.OpenQuestions, OpenQuestion{Column: h})
			continue
		}
		m.Column = h
		m.Origin = OriginTemplate
		m.Confidence = 1.0
		m.Confirmed = false
		if f := FieldByName(m.Field); f != nil {
			m.FieldType = f.Type
			m.Required = f.Required
		}
		proposal.Mappings = append(proposal.Mappings, m)
	}
	return proposal
}

// deterministicMatch scores a header against the alias catalog without any
// network dependency. Exact alias hits score 1.0, containment 0.85, and the
// rest fall back to Levenshtein similarity against the closest alias.
func deterministicMatch(header string) (string, float64) {
	folded := foldHeader(header)
	if folded == "" {
		return "", 0
	}

	if f := fieldByAlias(header); f != nil {
		return f.Name, 1.0
	}

	bestField, bestConf := "", 0.0
	for _, f := range Fields() {
		for _, alias := range f.Aliases {
			a := foldHeader(alias)
			conf := aliasSimilarity(folded, a)
			if conf > bestConf {
				bestField, bestConf = f.Name, conf
			}
		}
	}
	if bestConf < 0.5 {
		return "", 0
	}
	return bestField, bestConf
}

func aliasSimilarity(header, alias string) float64 {
	if header == alias {
		return 1.0
	}
	if len(alias) >= 4 && (strings.Contains(header, alias) || strings.Contains(alias, header)) {
		return 0.85
	}
	if !fuzzy.MatchNormalizedFold(alias, header) && !fuzzy.MatchNormalizedFold(header, alias) {
		return 0
	}
	dist := fuzzy.LevenshteinDistance(header, alias)
	maxLen := len(header)
	if len(alias) > maxLen {
		maxLen = len(alias)
	}
	if maxLen == 0 {
		return 0
	}
	conf := 1.0 - float64(dist)/float64(maxLen)
	if conf < 0 {
		conf = 0
	}
	return conf
}

// classify resolves headers through the cache and the classifier. Failures
// are logged and swallowed; mapping falls back to heuristics.
func (r *MappingResolver) classify(ctx context.Context, headers []string, samples map[string][]string) []FieldSuggestion {
	if r.classifier == nil || len(headers) == 0 {
		return nil
	}

	var out []FieldSuggestion
	var misses []string
	for _, h := range headers {
		if r.cache != nil {
			s, ok, err := r.cache.Get(ctx, h)
			if err != nil {
				slog.Warn("suggestion cache read failed", "header", h, "error", err)
			} else if ok {
				s.Header = h
				out = append(out, *s)
				continue
			}
		}
		misses = append(misses, h)
	}
	if len(misses) == 0 {
		return out
	}

	fresh, err := r.classifier.Classify(ctx, misses, samples)
	if err != nil {
		slog.Warn("header classification failed, falling back to heuristics", "headers", len(misses), "error", err)
		return out
	}
	for i := range fresh {
		out = append(out, fresh[i])
		if r.cache != nil {
			if err := r.cache.Set(ctx, fresh[i].Header, &fresh[i]); err != nil {
				slog.Warn("suggestion cache write failed", "header", fresh[i].Header, "error", err)
			}
		}
	}
	return out
}

// resolveFieldCollisions keeps at most one column per field, preferring the
// higher confidence. The losing column drops back to unmatched.
func resolveFieldCollisions(headers []string, best map[string]candidate) {
	winner := make(map[string]string, len(best))
	for _, h := range headers {
		c, ok := best[h]
		if !ok || c.field == "" {
			continue
		}
		prev, taken := winner[c.field]
		if !taken {
			winner[c.field] = h
			continue
		}
		if c.confidence > best[prev].confidence {
			delete(best, prev)
			winner[c.field] = h
		} else {
			delete(best, h)
		}
	}
}

func (r *MappingResolver) buildProposal(headers []string, best map[string]candidate) *MappingProposal {
	proposal := &MappingProposal{}
	for _, h := range headers {
		c, ok := best[h]
		if !ok || c.field == "" {
			proposal.Mappings = append(proposal.Mappings, ColumnMapping{
				Column: h,
				Action: ActionCustom,
			})
			proposal.OpenQuestions = append(proposal.OpenQuestions, OpenQuestion{Column: h})
			continue
		}

		f := FieldByName(c.field)
		m := ColumnMapping{
			Column:     h,
			Field:      c.field,
			FieldType:  f.Type,
			Required:   f.Required,
			Confidence: c.confidence,
			Origin:     c.origin,
			Action:     ActionMap,
		}
		if c.confidence < r.threshold {
			m.Action = ActionCustom
			m.Field = ""
			proposal.OpenQuestions = append(proposal.OpenQuestions, OpenQuestion{
				Column:     h,
				Suggestion: c.field,
				Confidence: c.confidence,
			})
		}
		proposal.Mappings = append(proposal.Mappings, m)
	}
	return proposal
}

// =========================================================================
// Mapping validation
// =========================================================================

// ValidateMapping checks a mapping the operator wants to apply. It enforces
// that every column exists, every target field is known and assigned at most
// once, and that the required fields are mapped, unambiguous and explicitly
// confirmed by a human.
func ValidateMapping(headers []string, mappings []ColumnMapping) error {
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}

	fieldColumn := make(map[string]string)
	for _, m := range mappings {
		if !known[m.Column] {
			return fmt.Errorf("%q is not a column in the uploaded file", m.Column)
		}
		if m.Action != ActionMap {
			continue
		}
		if FieldByName(m.Field) == nil {
			return fmt.Errorf("unknown target field %q for column %q", m.Field, m.Column)
		}
		if prev, ok := fieldColumn[m.Field]; ok {
			return fmt.Errorf("field %q is assigned more than one column (%q and %q)", m.Field, prev, m.Column)
		}
		fieldColumn[m.Field] = m.Column
	}

	// Ambiguity outranks the required-field checks below: pointing two
	// required fields at one column must surface as ambiguity, not as a
	// missing mapping.
	columnFields := make(map[string][]string)
	for _, m := range mappings {
		if m.Action != ActionMap {
			continue
		}
		if f := FieldByName(m.Field); f != nil && f.Required {
			columnFields[m.Column] = append(columnFields[m.Column], m.Field)
		}
	}
	for col, fields := range columnFields {
		if len(fields) > 1 {
			sort.Strings(fields)
			quoted := make([]string, len(fields))
			for i, f := range fields {
				quoted[i] = fmt.Sprintf("%q", f)
			}
			return &AmbiguousFieldError{Column: col, Fields: quoted}
		}
	}

	for _, name := range RequiredFieldNames() {
		m := mappingForField(mappings, name)
		if m == nil {
			return &RequiredFieldError{Field: name}
		}
		if !m.Confirmed {
			return fmt.Errorf("required field %q must be confirmed", name)
		}
	}
	return nil
}

func mappingForField(mappings []ColumnMapping, field string) *ColumnMapping {
	for i := range mappings {
		if mappings[i].Action == ActionMap && mappings[i].Field == field {
			return &mappings[i]
		}
	}
	return nil
}

// NormalizeMapping fills derived attributes (field type, required flag) and
// defaults the action so stored mappings are self-contained.
func NormalizeMapping(mappings []ColumnMapping) []ColumnMapping {
	out := make([]ColumnMapping, len(mappings))
	copy(out, mappings)
	for i := range out {
		if out[i].Action == "" {
			if out[i].Field != "" {
				out[i].Action = ActionMap
			} else {
				out[i].Action = ActionIgnore
			}
		}
		if f := FieldByName(out[i].Field); f != nil && out[i].Action == ActionMap {
			out[i].FieldType = f.Type
			out[i].Required = f.Required
		}
	}
	return out
}
