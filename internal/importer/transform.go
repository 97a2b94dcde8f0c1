package importer

// transform.go applies a column's ordered transformer list to a cell value.
// The list is split into two fixed stages:
//
//   pre:  shape normalization the validators rely on (trim, case folding,
//         replace, default fill, phone normalization); its output is what
//         the validator engine sees and what the editable grid shows.
//   post: output formatting applied only to values that already passed
//         validation (capitalize, date normalization, custom functions);
//         it surfaces only in the final ImportResult.
//
// The stage of each transformer type is fixed, not user-configurable.
// Every transformer is total: one that cannot act on a malformed value
// returns the value unchanged.

import (
	"strings"

	"github.com/importcsv/importcsv-go/internal/schema"
)

// preStage holds the transformer types that run before validation.
var preStage = map[schema.TransformerType]bool{
	schema.TransformTrim:           true,
	schema.TransformUppercase:      true,
	schema.TransformLowercase:      true,
	schema.TransformReplace:        true,
	schema.TransformDefault:        true,
	schema.TransformNormalizePhone: true,
}

// ApplyPre runs the pre-validation stage in declared order.
func ApplyPre(value string, transformers []schema.Transformer) string {
	for _, tr := range transformers {
		if preStage[tr.Type] {
			value = applyOne(value, tr)
		}
	}
	return value
}

// ApplyPost runs the post-validation stage in declared order. The input is
// the already-validated pre-stage value.
func ApplyPost(value string, transformers []schema.Transformer) string {
	for _, tr := range transformers {
		if !preStage[tr.Type] {
			value = applyOne(value, tr)
		}
	}
	return value
}

// applyOne applies a single transformer. Custom functions are the one place
// third-party code runs, so panics there degrade to the unchanged value.
func applyOne(value string, tr schema.Transformer) (out string) {
	switch tr.Type {
	case schema.TransformTrim:
		return strings.TrimSpace(value)

	case schema.TransformUppercase:
		return strings.ToUpper(value)

	case schema.TransformLowercase:
		return strings.ToLower(value)

	case schema.TransformCapitalize:
		return capitalizeWords(value)

	case schema.TransformNormalizePhone:
		if digits := PhoneDigits(value); digits != "" {
			return digits
		}
		return value

	case schema.TransformNormalizeDate:
		t, ok := ParseDate(value)
		if !ok {
			return value
		}
		return t.Format(dateLayout(tr.Format))

	case schema.TransformDefault:
		if strings.TrimSpace(value) == "" {
			return tr.Value
		}
		return value

	case schema.TransformReplace:
		if tr.Find == "" {
			return value
		}
		return strings.ReplaceAll(value, tr.Find, tr.Replace)

	case schema.TransformCustom:
		if tr.Fn == nil {
			return value
		}
		defer func() {
			if recover() != nil {
				out = value
			}
		}()
		return tr.Fn(value)
	}

	return value
}

// capitalizeWords upper-cases the first letter of each space-separated word
// and lower-cases the rest: "john doe" -> "John Doe".
func capitalizeWords(s string) string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return s
	}
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// dateLayout converts a schema-facing date format ("YYYY-MM-DD") to a Go
// time layout. Go layouts pass through untouched; an empty format means ISO.
func dateLayout(format string) string {
	if format == "" {
		return "2006-01-02"
	}
	if strings.ContainsAny(format, "YMD") {
		r := strings.NewReplacer(
			"YYYY", "2006", "YY", "06",
			"MM", "01", "M", "1",
			"DD", "02", "D", "2",
		)
		return r.Replace(format)
	}
	return format
}
