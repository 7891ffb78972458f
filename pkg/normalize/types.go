// Package normalize converts raw transport payloads into canonical typed
// records. One strategy exists per payload kind (tabular text, tree-
// structured JSON, spreadsheet workbook), dispatched by the source's
// declared kind rather than by runtime inspection of the payload.
package normalize

import (
	"fmt"
	"time"

	"github.com/openreliefdata/datahub/pkg/sources"
)

// FieldType declares the Go type a field is coerced to.
type FieldType string

// Supported field types.
const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
	TypeTime   FieldType = "time"
)

func (t FieldType) valid() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeTime:
		return true
	}
	return false
}

// Column maps one output field to a header column of a tabular or workbook
// payload.
type Column struct {
	// Name is the canonical field name in the normalized row.
	Name string
	// Source is the header name of the column in the payload.
	Source string
	Type   FieldType
	// Required columns must be present and convertible; rows failing a
	// required column are skipped with a warning.
	Required bool
	// TimeLayout overrides the layouts tried for TypeTime columns.
	TimeLayout string
}

// Field maps one output field to a path in a tree-structured payload.
type Field struct {
	Name       string
	Path       string
	Type       FieldType
	Required   bool
	TimeLayout string
}

// TransformSpec is the declarative per-source schema driving normalization.
type TransformSpec struct {
	Kind sources.PayloadKind

	// Tabular settings.
	Delimiter rune
	// Columns applies to tabular and workbook payloads.
	Columns []Column

	// Workbook settings.
	Sheet string

	// Tree settings. RootPath selects the record array; empty means the
	// payload root itself is the array.
	RootPath string
	Fields   []Field
}

// Validate checks that the spec is complete for its kind.
func (s *TransformSpec) Validate() error {
	switch s.Kind {
	case sources.PayloadTabular, sources.PayloadWorkbook:
		if len(s.Columns) == 0 {
			return fmt.Errorf("%s transform requires at least one column", s.Kind)
		}
		for _, c := range s.Columns {
			if c.Name == "" || c.Source == "" {
				return fmt.Errorf("%s transform: column name and source must not be empty", s.Kind)
			}
			if !c.Type.valid() {
				return fmt.Errorf("%s transform: unknown field type %q for column %s", s.Kind, c.Type, c.Name)
			}
		}
		if s.Kind == sources.PayloadWorkbook && s.Sheet == "" {
			return fmt.Errorf("workbook transform requires a sheet name")
		}
	case sources.PayloadTree:
		if len(s.Fields) == 0 {
			return fmt.Errorf("tree transform requires at least one field")
		}
		for _, f := range s.Fields {
			if f.Name == "" || f.Path == "" {
				return fmt.Errorf("tree transform: field name and path must not be empty")
			}
			if !f.Type.valid() {
				return fmt.Errorf("tree transform: unknown field type %q for field %s", f.Type, f.Name)
			}
		}
	default:
		return fmt.Errorf("unknown payload kind %q", s.Kind)
	}
	return nil
}

// Row is one normalized record row with typed values.
type Row map[string]any

// Record is the canonical output shape. Rows always conform to the source's
// declared schema; a failed normalization produces an error, never a
// partially-typed record.
type Record struct {
	SourceID  string    `json:"source_id"`
	FetchedAt time.Time `json:"fetched_at"`
	Rows      []Row     `json:"rows"`
	// Warnings lists non-fatal per-row parse issues, such as skipped rows
	// missing a required field.
	Warnings []string `json:"warnings,omitempty"`
}

// Error reports a payload that could not be normalized at all: structurally
// unparsable for its declared transport, or yielding zero usable records.
type Error struct {
	SourceID string
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("normalization failed for source %s: %s: %v", e.SourceID, e.Reason, e.Err)
	}
	return fmt.Sprintf("normalization failed for source %s: %s", e.SourceID, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }
