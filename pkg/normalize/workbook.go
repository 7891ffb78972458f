package normalize

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// normalizeWorkbook decodes an XLSX payload, selects the declared sheet, and
// applies the same header/column extraction as the tabular strategy.
func normalizeWorkbook(sourceID string, spec TransformSpec, payload []byte) ([]Row, []string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, nil, &Error{SourceID: sourceID, Reason: "payload is not a valid workbook", Err: err}
	}
	defer func() {
		_ = f.Close()
	}()

	records, err := f.GetRows(spec.Sheet)
	if err != nil {
		return nil, nil, &Error{
			SourceID: sourceID,
			Reason:   fmt.Sprintf("sheet %q not readable", spec.Sheet),
			Err:      err,
		}
	}
	if len(records) == 0 {
		return nil, nil, &Error{SourceID: sourceID, Reason: fmt.Sprintf("sheet %q is empty", spec.Sheet)}
	}

	return extractRows(sourceID, spec.Columns, records[0], records[1:])
}
