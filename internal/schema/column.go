// Package schema defines the declarative import schema: target columns with
// their types, validators, and transformers, grouped into named importer
// definitions. Everything here is pure data; rule evaluation lives in
// internal/importer.
package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// ColumnType is the expected data type for a target column.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeNumber  ColumnType = "number"
	TypeEmail   ColumnType = "email"
	TypeDate    ColumnType = "date"
	TypePhone   ColumnType = "phone"
	TypeBoolean ColumnType = "boolean"
	TypeSelect  ColumnType = "select"
	TypeRegex   ColumnType = "custom_regex"
)

// columnTypes lists every valid ColumnType for definition validation.
var columnTypes = map[ColumnType]bool{
	TypeString: true, TypeNumber: true, TypeEmail: true, TypeDate: true,
	TypePhone: true, TypeBoolean: true, TypeSelect: true, TypeRegex: true,
}

// ValidatorType identifies a validation rule.
type ValidatorType string

const (
	ValidatorRequired  ValidatorType = "required"
	ValidatorUnique    ValidatorType = "unique"
	ValidatorRegex     ValidatorType = "regex"
	ValidatorMin       ValidatorType = "min"
	ValidatorMax       ValidatorType = "max"
	ValidatorMinLength ValidatorType = "min_length"
	ValidatorMaxLength ValidatorType = "max_length"
)

var validatorTypes = map[ValidatorType]bool{
	ValidatorRequired: true, ValidatorUnique: true, ValidatorRegex: true,
	ValidatorMin: true, ValidatorMax: true,
	ValidatorMinLength: true, ValidatorMaxLength: true,
}

// Validator is one validation rule on a column. Pattern is used by regex
// validators, Value by min/max/min_length/max_length. Message, when set,
// replaces the generated error text.
type Validator struct {
	Type    ValidatorType `yaml:"type" json:"type"`
	Pattern string        `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Value   float64       `yaml:"value,omitempty" json:"value,omitempty"`
	Message string        `yaml:"message,omitempty" json:"message,omitempty"`
}

// TransformerType identifies a value transformation.
type TransformerType string

const (
	TransformTrim           TransformerType = "trim"
	TransformUppercase      TransformerType = "uppercase"
	TransformLowercase      TransformerType = "lowercase"
	TransformCapitalize     TransformerType = "capitalize"
	TransformNormalizePhone TransformerType = "normalize_phone"
	TransformNormalizeDate  TransformerType = "normalize_date"
	TransformDefault        TransformerType = "default"
	TransformReplace        TransformerType = "replace"
	TransformCustom         TransformerType = "custom"
)

var transformerTypes = map[TransformerType]bool{
	TransformTrim: true, TransformUppercase: true, TransformLowercase: true,
	TransformCapitalize: true, TransformNormalizePhone: true,
	TransformNormalizeDate: true, TransformDefault: true,
	TransformReplace: true, TransformCustom: true,
}

// Transformer is one value transformation on a column. Format is the target
// layout for normalize_date (e.g. "YYYY-MM-DD"), Value the fill value for
// default, Find/Replace the arguments for replace. Fn carries a custom
// transformation and is only settable in code, never from YAML.
type Transformer struct {
	Type    TransformerType     `yaml:"type" json:"type"`
	Format  string              `yaml:"format,omitempty" json:"format,omitempty"`
	Value   string              `yaml:"value,omitempty" json:"value,omitempty"`
	Find    string              `yaml:"find,omitempty" json:"find,omitempty"`
	Replace string              `yaml:"replace,omitempty" json:"replace,omitempty"`
	Fn      func(string) string `yaml:"-" json:"-"`
}

// BoolTemplate names the literal pair a boolean column accepts. The template
// is column-global: a value matching a different pair is rejected. An empty
// template accepts all three pairs.
type BoolTemplate string

const (
	BoolTrueFalse BoolTemplate = "true/false"
	BoolYesNo     BoolTemplate = "yes/no"
	BoolOneZero   BoolTemplate = "1/0"
)

var boolTemplates = map[BoolTemplate]bool{
	"": true, BoolTrueFalse: true, BoolYesNo: true, BoolOneZero: true,
}

// Column describes one target field. Columns are immutable once a validation
// pass starts; the pipeline references them without owning them.
type Column struct {
	ID           string        `yaml:"id" json:"id"`
	Label        string        `yaml:"label" json:"label"`
	Type         ColumnType    `yaml:"type" json:"type"`
	Validators   []Validator   `yaml:"validators,omitempty" json:"validators,omitempty"`
	Transformers []Transformer `yaml:"transformers,omitempty" json:"transformers,omitempty"`

	// Options holds the accepted values for select columns.
	Options []string `yaml:"options,omitempty" json:"options,omitempty"`

	// BoolTemplate restricts boolean columns to one literal pair.
	BoolTemplate BoolTemplate `yaml:"bool_template,omitempty" json:"bool_template,omitempty"`

	// MustMatch blocks the mapping step until an uploaded header is
	// mapped to this column.
	MustMatch bool `yaml:"must_match,omitempty" json:"must_match,omitempty"`
}

// HasValidator reports whether the column declares a validator of type t.
func (c Column) HasValidator(t ValidatorType) bool {
	for _, v := range c.Validators {
		if v.Type == t {
			return true
		}
	}
	return false
}

// Options are host-level behavior flags for one importer definition.
type Options struct {
	// IncludeUnmatchedColumns preserves uploaded columns with no target
	// under _unmatched in the result.
	IncludeUnmatchedColumns bool `yaml:"include_unmatched_columns" json:"includeUnmatchedColumns"`

	// FilterInvalidRows excludes rows with validation errors from the
	// result instead of blocking completion.
	FilterInvalidRows bool `yaml:"filter_invalid_rows" json:"filterInvalidRows"`

	// DisableOnInvalidRows refuses completion while any error exists.
	DisableOnInvalidRows bool `yaml:"disable_on_invalid_rows" json:"disableOnInvalidRows"`

	// AutoDetectHeaderRow skips the row-selection step and treats row 0
	// as the header.
	AutoDetectHeaderRow bool `yaml:"auto_detect_header_row" json:"autoDetectHeaderRow"`
}

// Definition is a named importer schema: the predefined columns, any
// dynamic columns resolved at runtime, and the host behavior flags.
type Definition struct {
	Key            string   `yaml:"key" json:"key"`
	Name           string   `yaml:"name" json:"name"`
	Columns        []Column `yaml:"columns" json:"columns"`
	DynamicColumns []Column `yaml:"dynamic_columns,omitempty" json:"dynamicColumns,omitempty"`
	Options        Options  `yaml:"options" json:"options"`
}

// Merged returns the predefined and dynamic columns as one list,
// predefined first.
func (d Definition) Merged() []Column {
	merged := make([]Column, 0, len(d.Columns)+len(d.DynamicColumns))
	merged = append(merged, d.Columns...)
	merged = append(merged, d.DynamicColumns...)
	return merged
}

// ColumnByID looks up a column in the merged set.
func (d Definition) ColumnByID(id string) (Column, bool) {
	for _, c := range d.Merged() {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// IsDynamic reports whether id belongs to the dynamic column set.
func (d Definition) IsDynamic(id string) bool {
	for _, c := range d.DynamicColumns {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Validate checks the definition for configuration errors: missing key,
// duplicate column ids across the merged set, unknown types, select columns
// without options, and regex validators that do not compile. These are
// author mistakes, not runtime conditions, so loading fails fast.
func (d Definition) Validate() error {
	var errs []string

	if strings.TrimSpace(d.Key) == "" {
		errs = append(errs, "definition key is required")
	}

	seen := make(map[string]bool)
	for _, c := range d.Merged() {
		if c.ID == "" {
			errs = append(errs, fmt.Sprintf("column %q has no id", c.Label))
			continue
		}
		if seen[c.ID] {
			errs = append(errs, fmt.Sprintf("duplicate column id %q", c.ID))
		}
		seen[c.ID] = true

		if c.Type != "" && !columnTypes[c.Type] {
			errs = append(errs, fmt.Sprintf("column %q: unknown type %q", c.ID, c.Type))
		}
		if c.Type == TypeSelect && len(c.Options) == 0 {
			errs = append(errs, fmt.Sprintf("column %q: select type requires options", c.ID))
		}
		if !boolTemplates[c.BoolTemplate] {
			errs = append(errs, fmt.Sprintf("column %q: unknown bool template %q", c.ID, c.BoolTemplate))
		}

		for _, v := range c.Validators {
			if !validatorTypes[v.Type] {
				errs = append(errs, fmt.Sprintf("column %q: unknown validator %q", c.ID, v.Type))
				continue
			}
			if v.Type == ValidatorRegex {
				if v.Pattern == "" {
					errs = append(errs, fmt.Sprintf("column %q: regex validator requires a pattern", c.ID))
				} else if _, err := regexp.Compile(v.Pattern); err != nil {
					errs = append(errs, fmt.Sprintf("column %q: invalid regex pattern: %v", c.ID, err))
				}
			}
		}

		for _, tr := range c.Transformers {
			if !transformerTypes[tr.Type] {
				errs = append(errs, fmt.Sprintf("column %q: unknown transformer %q", c.ID, tr.Type))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid definition %q:\n  - %s", d.Key, strings.Join(errs, "\n  - "))
	}
	return nil
}
