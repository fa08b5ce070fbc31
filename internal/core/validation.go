package core

// validation.go grades staged rows before commit.
//
// Every row gets a status:
//   - valid: commits as-is
//   - warning: commits, but the operator should look (odd email, possible
//     duplicate)
//   - invalid: never commits (missing required value, unparseable date,
//     unknown category)
//
// Validation is idempotent: running it twice over unchanged rows produces
// identical statuses, errors and counts. It runs over the effective values,
// meaning cleaned cells with the operator's saved edits on top, so fixing a
// cell in the preview and re-validating clears its error.

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

var validate = validator.New()

// Row-level error codes stored on FieldError.Code.
const (
	CodeRequiredMissing  = "required_missing"
	CodeBadDate          = "bad_date"
	CodeBadInteger       = "bad_integer"
	CodeBadEnum          = "bad_enum"
	CodeBadEmail         = "bad_email"
	CodeBadPhone         = "bad_phone"
	CodeBadPostal        = "bad_postal"
	CodeDuplicateInBatch = "duplicate_in_batch"
	CodeExistingMatch    = "existing_customer_match"
)

// ValidateRows grades every effective row against the batch's confirmed
// mapping. Row status and errors are updated in place; rows the cleaning
// engine removed are reset to unchecked. The returned summary counts only
// the rows that survived cleaning.
//
// customers may be nil, in which case the existing-customer check is
// skipped.
func ValidateRows(ctx context.Context, customers CustomerStore, batch *ImportBatch, rows []*StagingRow, effective []EffectiveRow) (*ValidationSummary, error) {
	byIndex := make(map[int]*StagingRow, len(rows))
	for _, row := range rows {
		byIndex[row.Index] = row
	}

	// Field checks first.
	values := make(map[int]map[string]string, len(effective))
	for _, eff := range effective {
		row := byIndex[eff.Index]
		if row == nil {
			continue
		}
		vals := overlayEdits(batch.Mapping, row, eff.Values)
		values[eff.Index] = vals
		row.Errors = checkRow(batch.Mapping, vals)
	}

	// Duplicate detection on the normalized name + address key. The first
	// occurrence in the file stays clean; later ones are flagged. Rows with
	// an incomplete key already carry a required-field error.
	keys := make(map[int]string, len(effective))
	firstSeen := make(map[string]int)
	for _, eff := range effective {
		row := byIndex[eff.Index]
		if row == nil {
			continue
		}
		name := mappedValue(batch.Mapping, values[eff.Index], FieldNavn)
		addr := mappedValue(batch.Mapping, values[eff.Index], FieldAdresse)
		if strings.TrimSpace(name) == "" || strings.TrimSpace(addr) == "" {
			continue
		}
		key := DuplicateKey(name, addr)
		keys[eff.Index] = key
		if first, ok := firstSeen[key]; ok {
			row.Errors = append(row.Errors, FieldError{
				Field:    FieldNavn,
				Value:    name,
				Severity: ProblemWarning,
				Message:  fmt.Sprintf("duplicate row: same name and address as row %d", first+1),
				Code:     CodeDuplicateInBatch,
			})
		} else {
			firstSeen[key] = eff.Index
		}
	}

	if customers != nil && len(keys) > 0 {
		unique := make([]string, 0, len(keys))
		seen := make(map[string]bool, len(keys))
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				unique = append(unique, k)
			}
		}
		existing, err := customers.MatchKeys(ctx, batch.TenantID, unique)
		if err != nil {
			return nil, fmt.Errorf("match existing customers: %w", err)
		}
		for _, eff := range effective {
			row := byIndex[eff.Index]
			key, ok := keys[eff.Index]
			if row == nil || !ok {
				continue
			}
			if id, found := existing[key]; found {
				row.Errors = append(row.Errors, FieldError{
					Field:    FieldNavn,
					Value:    mappedValue(batch.Mapping, values[eff.Index], FieldNavn),
					Severity: ProblemWarning,
					Message:  fmt.Sprintf("matches existing customer %s", id),
					Code:     CodeExistingMatch,
				})
			}
		}
	}

	// Grade rows and tally the summary.
	summary := &ValidationSummary{}
	inEffective := make(map[int]bool, len(effective))
	for _, eff := range effective {
		inEffective[eff.Index] = true
		row := byIndex[eff.Index]
		if row == nil {
			continue
		}
		row.Status = statusFor(row.Errors)
		switch row.Status {
		case RowValid:
			summary.ValidCount++
		case RowWarning:
			summary.WarningCount++
		case RowInvalid:
			summary.ErrorCount++
		}
	}
	for _, row := range rows {
		if !inEffective[row.Index] {
			row.Status = RowUnchecked
			row.Errors = nil
		}
	}

	return summary, nil
}

// checkRow validates every mapped field of one row.
func checkRow(mappings []ColumnMapping, values map[string]string) []FieldError {
	var errs []FieldError
	for _, m := range mappings {
		if m.Action != ActionMap {
			continue
		}
		f := FieldByName(m.Field)
		if f == nil {
			continue
		}
		value := strings.TrimSpace(values[m.Column])
		if fe := CheckValue(f, value); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

// CheckValue validates a single value against its field spec. Returns nil
// when the value is acceptable. Empty optional values are always fine.
func CheckValue(f *FieldSpec, value string) *FieldError {
	if value == "" {
		if f.Required {
			return &FieldError{
				Field:    f.Name,
				Severity: ProblemError,
				Message:  "required field is empty",
				Code:     CodeRequiredMissing,
			}
		}
		return nil
	}

	switch f.Type {
	case FieldEmail:
		return checkEmail(f.Name, value)
	case FieldPhone:
		if !phoneOK(NormalizePhone(value)) {
			return &FieldError{
				Field:    f.Name,
				Value:    value,
				Severity: ProblemWarning,
				Message:  "does not look like a phone number",
				Code:     CodeBadPhone,
			}
		}
	case FieldPostal:
		norm := NormalizePostal(value)
		if !isDigits(norm) || len(norm) != 4 {
			return &FieldError{
				Field:    f.Name,
				Value:    value,
				Severity: ProblemWarning,
				Message:  "postal codes have four digits",
				Code:     CodeBadPostal,
			}
		}
	case FieldInteger:
		if _, err := ParseInteger(value); err != nil {
			return &FieldError{
				Field:    f.Name,
				Value:    value,
				Severity: ProblemError,
				Message:  "must be a whole number",
				Code:     CodeBadInteger,
			}
		}
	case FieldDate:
		if _, err := ParseDate(value); err != nil {
			return &FieldError{
				Field:    f.Name,
				Value:    value,
				Severity: ProblemError,
				Message:  "invalid date (use DD.MM.YYYY or YYYY-MM-DD)",
				Code:     CodeBadDate,
			}
		}
	case FieldEnum:
		for _, ev := range f.EnumValues {
			if strings.EqualFold(ev, value) {
				return nil
			}
		}
		return &FieldError{
			Field:    f.Name,
			Value:    value,
			Severity: ProblemError,
			Message:  fmt.Sprintf("value must be one of: %s", strings.Join(f.EnumValues, ", ")),
			Code:     CodeBadEnum,
		}
	}
	return nil
}

// checkEmail flags syntactically broken addresses and well-known domain
// typos. Both are warnings: a bad email should not block an otherwise good
// customer record.
func checkEmail(field, value string) *FieldError {
	if err := validate.Var(value, "email"); err != nil {
		return &FieldError{
			Field:      field,
			Value:      value,
			Severity:   ProblemWarning,
			Message:    "email address looks invalid",
			Code:       CodeBadEmail,
			Suggestion: suggestEmail(value),
		}
	}
	if fix := domainTypoFix(value); fix != "" {
		return &FieldError{
			Field:      field,
			Value:      value,
			Severity:   ProblemWarning,
			Message:    "email domain looks misspelled",
			Code:       CodeBadEmail,
			Suggestion: fix,
		}
	}
	return nil
}

var emailDomainFixes = map[string]string{
	"gmail.con":   "gmail.com",
	"gmail.co":    "gmail.com",
	"gamil.com":   "gmail.com",
	"gmial.com":   "gmail.com",
	"hotmail.con": "hotmail.com",
	"hotmal.com":  "hotmail.com",
	"outlook.con": "outlook.com",
	"yaho.com":    "yahoo.com",
	"yahooo.com":  "yahoo.com",
}

var knownEmailDomains = []string{
	"gmail.com", "hotmail.com", "outlook.com", "yahoo.com", "icloud.com",
	"online.no", "live.no", "live.com",
}

// suggestEmail proposes a repair for a malformed address. It fixes known
// domain typos, close misspellings of common domains, and a missing @ in
// front of a common domain. Empty when no confident repair exists.
func suggestEmail(value string) string {
	at := strings.LastIndex(value, "@")
	if at < 0 {
		lower := strings.ToLower(value)
		for _, d := range knownEmailDomains {
			if strings.HasSuffix(lower, "."+d) && len(value) > len(d)+1 {
				return value[:len(value)-len(d)-1] + "@" + d
			}
		}
		return ""
	}
	if at == 0 || at == len(value)-1 {
		return ""
	}
	return domainTypoFix(value)
}

// domainTypoFix returns the corrected address when the domain is a known or
// near-miss typo of a common provider, or empty.
func domainTypoFix(value string) string {
	at := strings.LastIndex(value, "@")
	if at <= 0 || at == len(value)-1 {
		return ""
	}
	local, domain := value[:at], strings.ToLower(value[at+1:])

	if fix, ok := emailDomainFixes[domain]; ok {
		return local + "@" + fix
	}
	for _, d := range knownEmailDomains {
		if domain == d {
			return ""
		}
		if fuzzy.LevenshteinDistance(domain, d) == 1 {
			return local + "@" + d
		}
	}
	return ""
}

func phoneOK(normalized string) bool {
	if !strings.HasPrefix(normalized, "+") {
		return false
	}
	digits := normalized[1:]
	return isDigits(digits) && len(digits) >= 8 && len(digits) <= 15
}

func statusFor(errs []FieldError) RowStatus {
	status := RowValid
	for _, e := range errs {
		if e.Severity == ProblemError {
			return RowInvalid
		}
		status = RowWarning
	}
	return status
}

// mappedValue returns the effective value feeding a target field, or ""
// when the field is unmapped.
func mappedValue(mappings []ColumnMapping, values map[string]string, field string) string {
	for _, m := range mappings {
		if m.Action == ActionMap && m.Field == field {
			return values[m.Column]
		}
	}
	return ""
}

// columnForField returns the source column mapped to a target field, or ""
// when the field is unmapped.
func columnForField(mappings []ColumnMapping, field string) string {
	for _, m := range mappings {
		if m.Action == ActionMap && m.Field == field {
			return m.Column
		}
	}
	return ""
}

// overlayEdits applies the operator's saved edits on a row's cleaned values.
// Edits are keyed by target field and win over the cleaned value of the
// mapped column; edits on fields the mapping does not cover have no effect.
func overlayEdits(mappings []ColumnMapping, row *StagingRow, values map[string]string) map[string]string {
	if len(row.Edits) == 0 {
		return values
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	for field, v := range row.Edits {
		if col := columnForField(mappings, field); col != "" {
			out[col] = v
		}
	}
	return out
}
