package extract

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// readExcel returns the first sheet of an OOXML workbook as a Grid.
func readExcel(content []byte) (Grid, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoSheet
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("get rows for sheet %q: %w", sheets[0], err)
	}
	return Grid(rows), nil
}
