package importer

// clean.go provides cell cleanup and lenient value parsing for user-provided
// tabular data:
//   - Multiple date formats (US, EU, ISO, etc.) with 2-digit year pivot
//   - Currency symbols, thousand separators, accounting negatives
//   - Boolean literal pairs (true/false, yes/no, 1/0)
//   - Excel formula prefixes (="value") and stray quotes
//
// Parse* functions report ok=false for empty or unparseable input; callers
// decide whether that is a validation error.

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/importcsv/importcsv-go/internal/schema"
)

// numberPattern validates a numeric literal after cleanup. Matches integers,
// decimals, and scientific notation.
var numberPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// digitsOnlyPattern matches values made of digits alone; date columns reject
// these so a bare year or spreadsheet serial is never treated as a date.
var digitsOnlyPattern = regexp.MustCompile(`^\d+$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted. Parsed years
// more than this many years in the future roll back a century.
var TwoDigitYearPivot = 20

var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"2006-01-02", "2006/01/02", "2006.01.02",
		"Jan 2, 2006", "2 Jan 2006",
	}
)

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace, Excel formula prefixes (="..."), and stray
// surrounding quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.Trim(s, `"'`)
}

// NormalizeHeader reduces a header or label to its matching form: lowercase
// with all whitespace and punctuation stripped. "First Name", "first_name",
// and "first-name" all normalize to "firstname".
func NormalizeHeader(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// ParseDate parses a value as a calendar date. Digit-only strings are
// rejected outright. Two-digit years are pivoted so "1/2/98" lands in the
// previous century.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || digitsOnlyPattern.MatchString(s) {
		return time.Time{}, false
	}

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}

	return time.Time{}, false
}

// ParseNumber parses a value as a numeric literal, tolerating currency
// symbols, thousands separators, and accounting-format negatives "(123.45)".
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if !numberPattern.MatchString(s) {
		return 0, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// boolPairs maps each template to its accepted literals.
var boolPairs = map[schema.BoolTemplate][2]string{
	schema.BoolTrueFalse: {"true", "false"},
	schema.BoolYesNo:     {"yes", "no"},
	schema.BoolOneZero:   {"1", "0"},
}

// ParseBool parses a value against a boolean template. The template is
// column-global: with template "yes/no", the value "true" is rejected even
// though it matches another pair. An empty template accepts all three pairs.
func ParseBool(s string, template schema.BoolTemplate) (bool, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return false, false
	}

	if template == "" {
		for _, pair := range boolPairs {
			if s == pair[0] {
				return true, true
			}
			if s == pair[1] {
				return false, true
			}
		}
		return false, false
	}

	pair, ok := boolPairs[template]
	if !ok {
		return false, false
	}
	switch s {
	case pair[0]:
		return true, true
	case pair[1]:
		return false, true
	default:
		return false, false
	}
}

// PhoneDigits strips a phone value to its digits, preserving a leading "+".
// Returns "" when the value contains no digits.
func PhoneDigits(s string) string {
	s = strings.TrimSpace(s)
	plus := strings.HasPrefix(s, "+")

	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	if plus {
		return "+" + b.String()
	}
	return b.String()
}
