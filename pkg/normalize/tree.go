package normalize

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// normalizeTree extracts declared paths from a JSON payload. RootPath must
// resolve to the array of records; each field path is evaluated relative to
// one array element.
func normalizeTree(sourceID string, spec TransformSpec, payload []byte) ([]Row, []string, error) {
	if !gjson.ValidBytes(payload) {
		return nil, nil, &Error{SourceID: sourceID, Reason: "payload is not valid JSON"}
	}

	root := gjson.ParseBytes(payload)
	if spec.RootPath != "" {
		root = root.Get(spec.RootPath)
	}
	if !root.Exists() {
		return nil, nil, &Error{
			SourceID: sourceID,
			Reason:   fmt.Sprintf("root path %q not found in payload", spec.RootPath),
		}
	}
	if !root.IsArray() {
		return nil, nil, &Error{
			SourceID: sourceID,
			Reason:   fmt.Sprintf("root path %q does not resolve to an array", spec.RootPath),
		}
	}

	var (
		rows     []Row
		warnings []string
	)
	elements := root.Array()
	for i, elem := range elements {
		row := make(Row, len(spec.Fields))
		ok := true
		for _, f := range spec.Fields {
			result := elem.Get(f.Path)
			if !result.Exists() || result.Type == gjson.Null {
				if f.Required {
					warnings = append(warnings, fmt.Sprintf("element %d: missing required field %q", i, f.Name))
					ok = false
					break
				}
				continue
			}
			value, err := convertValue(result.String(), f.Type, f.TimeLayout)
			if err != nil {
				if f.Required {
					warnings = append(warnings, fmt.Sprintf("element %d: field %q: %v", i, f.Name, err))
					ok = false
					break
				}
				warnings = append(warnings, fmt.Sprintf("element %d: dropped optional field %q: %v", i, f.Name, err))
				continue
			}
			row[f.Name] = value
		}
		if ok {
			rows = append(rows, row)
		}
	}
	return rows, warnings, nil
}
