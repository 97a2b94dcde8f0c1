package importer

// mapper.go resolves the correspondence between uploaded file columns and
// target schema columns. Matching is best-effort and purely a function of
// its inputs: case-insensitive exact label match first, then normalized
// (whitespace/punctuation-stripped, lowercased) match. Dynamic columns
// participate identically; the resulting dynamic-id set drives output
// restructuring later.

import (
	"fmt"
	"strings"

	"github.com/importcsv/importcsv-go/internal/schema"
)

// SuggestMapping builds a best-effort ColumnMapping from uploaded header
// strings against the definition's merged column set. Headers that match no
// column are left out of the mapping entirely; each target column is claimed
// by at most one header, first match winning.
func SuggestMapping(headers []string, def schema.Definition) ColumnMapping {
	mapping := make(ColumnMapping)
	claimed := make(map[string]bool)
	columns := def.Merged()

	// Exact label match, case-insensitive.
	for idx, header := range headers {
		h := CleanCell(header)
		if h == "" {
			continue
		}
		for _, col := range columns {
			if claimed[col.ID] {
				continue
			}
			if strings.EqualFold(h, col.Label) {
				mapping[idx] = MappedColumn{ID: col.ID, Include: true}
				claimed[col.ID] = true
				break
			}
		}
	}

	// Normalized match for the remainder.
	for idx, header := range headers {
		if _, ok := mapping[idx]; ok {
			continue
		}
		h := NormalizeHeader(CleanCell(header))
		if h == "" {
			continue
		}
		for _, col := range columns {
			if claimed[col.ID] {
				continue
			}
			if h == NormalizeHeader(col.Label) {
				mapping[idx] = MappedColumn{ID: col.ID, Include: true}
				claimed[col.ID] = true
				break
			}
		}
	}

	return mapping
}

// ValidateMapping checks that every included entry targets a column that
// exists in the merged set. Violations are author/caller mistakes surfaced
// before the mapping freezes.
func ValidateMapping(mapping ColumnMapping, def schema.Definition) error {
	for idx, entry := range mapping {
		if !entry.Include {
			continue
		}
		if entry.ID == "" {
			return fmt.Errorf("uploaded column %d is included but maps to no target column", idx)
		}
		if _, ok := def.ColumnByID(entry.ID); !ok {
			return fmt.Errorf("uploaded column %d maps to unknown column %q", idx, entry.ID)
		}
	}
	return nil
}

// MissingRequired returns the must-match columns that have no included
// mapping entry. A non-empty result blocks the mapping step; the first
// missing column names the actionable error.
func MissingRequired(mapping ColumnMapping, def schema.Definition) []schema.Column {
	mapped := mapping.MappedIDs()

	var missing []schema.Column
	for _, col := range def.Merged() {
		if col.MustMatch && !mapped[col.ID] {
			missing = append(missing, col)
		}
	}
	return missing
}

// DynamicIDs returns the mapped target ids that came from the dynamic
// column set. Consumed by the output restructurer.
func DynamicIDs(mapping ColumnMapping, def schema.Definition) map[string]bool {
	ids := make(map[string]bool)
	for _, entry := range mapping {
		if entry.Include && def.IsDynamic(entry.ID) {
			ids[entry.ID] = true
		}
	}
	return ids
}

// UnmatchedIndices returns the uploaded-column indices with no included
// mapping, in ascending order. These flow into _unmatched when the host
// opted in to preserving them.
func UnmatchedIndices(mapping ColumnMapping, headerCount int) []int {
	var unmatched []int
	for idx := 0; idx < headerCount; idx++ {
		entry, ok := mapping[idx]
		if !ok || !entry.Include || entry.ID == "" {
			unmatched = append(unmatched, idx)
		}
	}
	return unmatched
}
