package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// readCSV returns a comma-separated table as a Grid. Rows may have different field counts.
func readCSV(content []byte) (Grid, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}
	return Grid(rows), nil
}
