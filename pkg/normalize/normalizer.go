package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openreliefdata/datahub/pkg/sources"
)

// Normalizer dispatches payloads to the transform registered for their
// source. Specs are registered once at construction.
type Normalizer struct {
	specs map[string]TransformSpec
}

// New validates and registers the given transform specs.
func New(specs map[string]TransformSpec) (*Normalizer, error) {
	m := make(map[string]TransformSpec, len(specs))
	for id, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("source %s: %w", id, err)
		}
		m[id] = spec
	}
	return &Normalizer{specs: m}, nil
}

// Normalize converts a raw payload into a Record using the source's
// registered transform. Rows failing required-field checks are skipped and
// reported as warnings; the call fails only when the payload is structurally
// unparsable or no rows survive.
func (n *Normalizer) Normalize(sourceID string, payload []byte, fetchedAt time.Time) (*Record, error) {
	spec, ok := n.specs[sourceID]
	if !ok {
		return nil, &Error{SourceID: sourceID, Reason: "no transform registered"}
	}

	var (
		rows     []Row
		warnings []string
		err      error
	)
	switch spec.Kind {
	case sources.PayloadTabular:
		rows, warnings, err = normalizeTabular(sourceID, spec, payload)
	case sources.PayloadTree:
		rows, warnings, err = normalizeTree(sourceID, spec, payload)
	case sources.PayloadWorkbook:
		rows, warnings, err = normalizeWorkbook(sourceID, spec, payload)
	default:
		return nil, &Error{SourceID: sourceID, Reason: fmt.Sprintf("unknown payload kind %q", spec.Kind)}
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &Error{SourceID: sourceID, Reason: "payload yields zero usable records"}
	}

	return &Record{
		SourceID:  sourceID,
		FetchedAt: fetchedAt,
		Rows:      rows,
		Warnings:  warnings,
	}, nil
}

// convertValue coerces a raw string value to the declared field type.
// Numeric values tolerate thousands separators, which humanitarian CSV
// exports use routinely.
func convertValue(raw string, typ FieldType, timeLayout string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch typ {
	case TypeString:
		return raw, nil
	case TypeInt:
		v, err := strconv.ParseInt(stripThousands(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", raw)
		}
		return v, nil
	case TypeFloat:
		v, err := strconv.ParseFloat(stripThousands(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", raw)
		}
		return v, nil
	case TypeBool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("not a boolean: %q", raw)
		}
		return v, nil
	case TypeTime:
		layouts := []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"}
		if timeLayout != "" {
			layouts = []string{timeLayout}
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("not a timestamp: %q", raw)
	default:
		return nil, fmt.Errorf("unknown field type %q", typ)
	}
}

func stripThousands(s string) string {
	return strings.ReplaceAll(s, ",", "")
}
