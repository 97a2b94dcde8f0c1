// Package importer provides the import processing pipeline: column-mapping
// resolution, the validator/transformer rule engine, progressive chunked
// validation, the step state machine, and output restructuring.
// This package has no UI dependencies and can be driven by any frontend.
package importer

import (
	"github.com/importcsv/importcsv-go/internal/schema"
)

// FileRow is one row of raw uploaded text, values ordered by uploaded-column
// position. Rows are immutable after parse except for copy-on-write cell
// edits applied during the validation step.
type FileRow struct {
	Index  int      `json:"index"`
	Values []string `json:"values"`
}

// FileData is the already-parsed upload handed over by the file-parsing
// collaborator. Only the first sheet of a multi-sheet file is processed.
type FileData struct {
	FileName  string    `json:"fileName"`
	Rows      []FileRow `json:"rows"`
	SheetList []string  `json:"sheetList,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
}

// MappedColumn is one resolved mapping entry: the target column id and
// whether the uploaded column is included in the import.
type MappedColumn struct {
	ID      string `json:"id"`
	Include bool   `json:"include"`
}

// ColumnMapping maps uploaded-column indices to target columns. Indices
// absent from the map are unmatched. Built once after header-row selection,
// mutable during the mapping step, frozen entering validation.
type ColumnMapping map[int]MappedColumn

// IncludedIndices returns the mapped-and-included uploaded-column indices
// in ascending order.
func (m ColumnMapping) IncludedIndices() []int {
	indices := make([]int, 0, len(m))
	for idx, entry := range m {
		if entry.Include && entry.ID != "" {
			indices = append(indices, idx)
		}
	}
	sortInts(indices)
	return indices
}

// MappedIDs returns the set of target column ids currently mapped and
// included.
func (m ColumnMapping) MappedIDs() map[string]bool {
	ids := make(map[string]bool, len(m))
	for _, entry := range m {
		if entry.Include && entry.ID != "" {
			ids[entry.ID] = true
		}
	}
	return ids
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// ValidationError pins one problem to a specific cell. Errors are a derived
// view, recomputed on every validation pass and never patched in place.
type ValidationError struct {
	RowIndex    int    `json:"rowIndex"`
	ColumnIndex int    `json:"columnIndex"`
	Message     string `json:"message"`
}

// ValidationProgress is one published snapshot of an in-flight validation
// pass. Errors within a pass are reported in row-index order and later
// snapshots strictly extend earlier ones; a new pass replaces all prior
// results atomically.
type ValidationProgress struct {
	SessionID string            `json:"sessionId"`
	Pass      int               `json:"pass"`
	Validated int               `json:"validated"`
	TotalRows int               `json:"totalRows"`
	Percent   int               `json:"percent"`
	Errors    []ValidationError `json:"errors"`
	Done      bool              `json:"done"`
}

// ResultColumns describes the three-way column partition of an import.
type ResultColumns struct {
	Predefined []schema.Column `json:"predefined"`
	Dynamic    []schema.Column `json:"dynamic"`
	Unmatched  []string        `json:"unmatched"`
}

// ImportResult is the final dataset delivered exactly once at completion.
// Each row optionally carries _custom_fields (dynamic columns) and
// _unmatched (uploaded columns with no target); both are omitted when empty.
type ImportResult struct {
	Rows    []map[string]any `json:"rows"`
	Columns ResultColumns    `json:"columns"`
}

// Keys of the per-row bags in ImportResult rows.
const (
	CustomFieldsKey = "_custom_fields"
	UnmatchedKey    = "_unmatched"
)
