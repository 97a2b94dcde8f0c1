package importer

// restructure.go partitions final row values into the three-part output
// shape: predefined fields stay at the row's top level, dynamic column
// values move under _custom_fields, and values from unmatched uploaded
// columns land under _unmatched. A pure transform with no side effects;
// empty bags are omitted, never emitted as empty objects.

// RestructureRow partitions one row's field values. Keys in dynamicIDs land
// in _custom_fields; everything else stays top-level. Unmatched values
// arrive in their own bag rather than mixed into the field map, so an
// uploaded header that happens to equal a column's id can never overwrite
// the validated field.
func RestructureRow(row map[string]any, dynamicIDs map[string]bool, unmatched map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	var custom map[string]any

	for key, value := range row {
		if dynamicIDs[key] {
			if custom == nil {
				custom = make(map[string]any)
			}
			custom[key] = value
			continue
		}
		out[key] = value
	}

	if custom != nil {
		out[CustomFieldsKey] = custom
	}
	if len(unmatched) > 0 {
		out[UnmatchedKey] = unmatched
	}
	return out
}

// RestructureRows applies RestructureRow to every row, preserving order.
// unmatched, when non-nil, carries one bag per row.
func RestructureRows(rows []map[string]any, dynamicIDs map[string]bool, unmatched []map[string]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		var bag map[string]any
		if i < len(unmatched) {
			bag = unmatched[i]
		}
		out[i] = RestructureRow(row, dynamicIDs, bag)
	}
	return out
}
