package normalize

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// normalizeTabular parses a delimited-text payload against the declared
// column schema. The first row is the header.
func normalizeTabular(sourceID string, spec TransformSpec, payload []byte) ([]Row, []string, error) {
	reader := csv.NewReader(bytes.NewReader(payload))
	if spec.Delimiter != 0 {
		reader.Comma = spec.Delimiter
	}
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, &Error{SourceID: sourceID, Reason: "payload is not valid delimited text", Err: err}
	}
	if len(records) == 0 {
		return nil, nil, &Error{SourceID: sourceID, Reason: "payload is empty"}
	}

	return extractRows(sourceID, spec.Columns, records[0], records[1:])
}

// extractRows applies a column schema to header + data rows. Shared between
// the tabular and workbook strategies.
func extractRows(sourceID string, columns []Column, header []string, data [][]string) ([]Row, []string, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(h)] = i
	}
	for _, col := range columns {
		if _, ok := index[col.Source]; !ok && col.Required {
			return nil, nil, &Error{
				SourceID: sourceID,
				Reason:   fmt.Sprintf("required column %q missing from header", col.Source),
			}
		}
	}

	var (
		rows     []Row
		warnings []string
	)
	for i, record := range data {
		row := make(Row, len(columns))
		ok := true
		for _, col := range columns {
			idx, present := index[col.Source]
			var raw string
			if present && idx < len(record) {
				raw = strings.TrimSpace(record[idx])
			}
			if raw == "" {
				if col.Required {
					warnings = append(warnings, fmt.Sprintf("row %d: missing required field %q", i+1, col.Name))
					ok = false
					break
				}
				continue
			}
			value, err := convertValue(raw, col.Type, col.TimeLayout)
			if err != nil {
				if col.Required {
					warnings = append(warnings, fmt.Sprintf("row %d: field %q: %v", i+1, col.Name, err))
					ok = false
					break
				}
				warnings = append(warnings, fmt.Sprintf("row %d: dropped optional field %q: %v", i+1, col.Name, err))
				continue
			}
			row[col.Name] = value
		}
		if ok {
			rows = append(rows, row)
		}
	}
	return rows, warnings, nil
}
