package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// TwoDigitYearPivot defines how 2-digit years are interpreted. Years that
// would land more than this many years in the future are assumed to be in
// the previous century. Example with pivot=20 in 2026: "48" → 1948, "25" → 2025.
var TwoDigitYearPivot = 20

// Date layouts split by year format so 2-digit years get pivot handling.
var (
	twoDigitYearLayouts = []string{
		"2.1.06", "02.01.06", "2/1/06", "02/01/06", "2-1-06",
	}
	fourDigitYearLayouts = []string{
		"2.1.2006", "02.01.2006", "2/1/2006", "02/01/2006",
		"2-1-2006", "02-01-2006",
		"2006-01-02", "2006/01/02", "2006.01.02",
		"2 Jan 2006", "Jan 2, 2006",
		"20060102",
	}
)

// ParseDate parses a cell into a date. Norwegian day-first forms are tried
// before ISO; two-digit years are adjusted by TwoDigitYearPivot.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	for _, layout := range twoDigitYearLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() > time.Now().Year()+TwoDigitYearPivot {
			t = t.AddDate(-100, 0, 0)
		}
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unrecognized date format: %q", s)
}

// NormalizeDate reformats a recognized date to ISO (2006-01-02). Unparseable
// input is returned unchanged; the validator reports it later.
func NormalizeDate(s string) string {
	t, err := ParseDate(s)
	if err != nil {
		return s
	}
	return t.Format("2006-01-02")
}

var phoneJunk = regexp.MustCompile(`[\s\-\.\(\)/]+`)

// NormalizePhone canonicalizes Norwegian phone numbers: strips separators,
// converts 0047 to +47, and prefixes bare 8-digit numbers with +47.
// Values that do not look like a phone number are returned unchanged.
func NormalizePhone(s string) string {
	cleaned := phoneJunk.ReplaceAllString(strings.TrimSpace(s), "")
	if cleaned == "" {
		return s
	}

	if strings.HasPrefix(cleaned, "0047") {
		cleaned = "+47" + cleaned[4:]
	}

	digits := cleaned
	if strings.HasPrefix(digits, "+47") {
		digits = digits[3:]
	} else if strings.HasPrefix(digits, "+") {
		// Foreign number: keep as-is once separators are gone.
		if isDigits(digits[1:]) {
			return digits
		}
		return s
	}

	if !isDigits(digits) {
		return s
	}
	if len(digits) == 8 {
		return "+47" + digits
	}
	return cleaned
}

// NormalizePostal canonicalizes Norwegian postal codes: strips spaces and
// zero-pads 3-digit codes (leading zeros are commonly lost in spreadsheets).
func NormalizePostal(s string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if !isDigits(cleaned) {
		return s
	}
	if len(cleaned) == 3 {
		return "0" + cleaned
	}
	return cleaned
}

// NormalizeEmail lowercases and trims an email cell and strips a mailto:
// prefix pasted from mail clients.
func NormalizeEmail(s string) string {
	out := strings.TrimSpace(strings.ToLower(s))
	out = strings.TrimPrefix(out, "mailto:")
	return out
}

// CollapseWhitespace trims the cell and collapses internal whitespace runs
// to single spaces.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CleanCell strips spreadsheet-export artifacts from a raw cell: the Excel
// text-format prefix (="value") and stray wrapping quotes.
func CleanCell(value string) string {
	value = strings.TrimSpace(value)

	if strings.HasPrefix(value, `="`) && strings.HasSuffix(value, `"`) && len(value) >= 3 {
		value = value[2 : len(value)-1]
	}
	if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		value = value[1 : len(value)-1]
	}

	return strings.TrimSpace(value)
}

// ParseInteger parses a whole-number cell, tolerating surrounding space and
// a thousands separator.
func ParseInteger(s string) (int, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	n, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0, fmt.Errorf("not a whole number: %q", s)
	}
	return n, nil
}

// DuplicateKey builds the normalized name+address key used for duplicate
// detection, both within a batch and against existing customers. The fold is
// Unicode-normalizing (NFKC) so visually identical Norwegian text compares
// equal, lowercase, and whitespace-collapsed.
func DuplicateKey(name, address string) string {
	return foldForKey(name) + "|" + foldForKey(address)
}

func foldForKey(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	return CollapseWhitespace(s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
