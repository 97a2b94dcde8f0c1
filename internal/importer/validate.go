package importer

// validate.go is the per-cell rule engine. Evaluation order for a cell:
//
//  1. A required validator with an empty value short-circuits immediately.
//  2. An empty value on an optional column is always valid.
//  3. The column type's own check runs, then the declared validators
//     left-to-right; the first violation wins.
//
// At most one error is ever produced per cell per pass, keeping the error
// list one-to-one with cells. Uniqueness is a cross-row concern and is
// evaluated by the scheduler, never here.

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/importcsv/importcsv-go/internal/schema"
)

// emailPattern is the standard single-@ check: one local part, one domain
// with at least one dot, no whitespace.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Phone numbers are accepted with 7 to 15 digits after formatting is
// stripped (ITU e.164 upper bound).
const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// regexCache avoids recompiling validator patterns for every cell.
var regexCache sync.Map // pattern string -> *regexp.Regexp

func compiledPattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := regexCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// violation builds the error for a failed validator, preferring the
// author-supplied message over the generated default.
func violation(v schema.Validator, fallback string) error {
	if v.Message != "" {
		return errors.New(v.Message)
	}
	return errors.New(fallback)
}

// ValidateCell evaluates one cell value against a column's rules.
// Returns nil when the cell is valid, otherwise exactly one error.
func ValidateCell(value string, col schema.Column) error {
	empty := strings.TrimSpace(value) == ""

	for _, v := range col.Validators {
		if v.Type == schema.ValidatorRequired {
			if empty {
				return violation(v, fmt.Sprintf("%s is required", col.Label))
			}
			break
		}
	}

	// Empty optional values are always valid, regardless of other rules.
	if empty {
		return nil
	}

	if err := validateType(value, col); err != nil {
		return err
	}

	for _, v := range col.Validators {
		switch v.Type {
		case schema.ValidatorRequired, schema.ValidatorUnique:
			// required handled above; unique is cross-row.

		case schema.ValidatorRegex:
			re, err := compiledPattern(v.Pattern)
			if err != nil {
				return violation(v, fmt.Sprintf("invalid pattern for %s", col.Label))
			}
			if !re.MatchString(value) {
				return violation(v, fmt.Sprintf("%s does not match the required format", col.Label))
			}

		case schema.ValidatorMin:
			if n, ok := ParseNumber(value); ok && n < v.Value {
				return violation(v, fmt.Sprintf("%s must be at least %v", col.Label, v.Value))
			}

		case schema.ValidatorMax:
			if n, ok := ParseNumber(value); ok && n > v.Value {
				return violation(v, fmt.Sprintf("%s must be at most %v", col.Label, v.Value))
			}

		case schema.ValidatorMinLength:
			if utf8.RuneCountInString(value) < int(v.Value) {
				return violation(v, fmt.Sprintf("%s must be at least %d characters", col.Label, int(v.Value)))
			}

		case schema.ValidatorMaxLength:
			if utf8.RuneCountInString(value) > int(v.Value) {
				return violation(v, fmt.Sprintf("%s must be at most %d characters", col.Label, int(v.Value)))
			}
		}
	}

	return nil
}

// validateType applies the column type's own semantics to a non-empty value.
func validateType(value string, col schema.Column) error {
	switch col.Type {
	case schema.TypeNumber:
		if _, ok := ParseNumber(value); !ok {
			return errors.New("invalid number format")
		}

	case schema.TypeDate:
		if _, ok := ParseDate(value); !ok {
			return errors.New("invalid date format (use YYYY-MM-DD or similar)")
		}

	case schema.TypeBoolean:
		if _, ok := ParseBool(value, col.BoolTemplate); !ok {
			return fmt.Errorf("must be %s", boolTemplateHint(col.BoolTemplate))
		}

	case schema.TypeEmail:
		if !emailPattern.MatchString(strings.TrimSpace(value)) {
			return errors.New("invalid email address")
		}

	case schema.TypePhone:
		digits := strings.TrimPrefix(PhoneDigits(value), "+")
		if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
			return errors.New("invalid phone number")
		}

	case schema.TypeSelect:
		for _, opt := range col.Options {
			if strings.EqualFold(opt, strings.TrimSpace(value)) {
				return nil
			}
		}
		return fmt.Errorf("value must be one of: %s", strings.Join(col.Options, ", "))

	case schema.TypeString, schema.TypeRegex, "":
		// No type-level constraint; custom_regex relies on its declared
		// regex validator.
	}

	return nil
}

func boolTemplateHint(t schema.BoolTemplate) string {
	switch t {
	case schema.BoolTrueFalse:
		return "true/false"
	case schema.BoolYesNo:
		return "yes/no"
	case schema.BoolOneZero:
		return "1/0"
	default:
		return "yes/no, true/false, or 1/0"
	}
}
