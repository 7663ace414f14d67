package extract

import (
	"regexp"
	"strings"

	"github.com/hyperjump/faqbot/internal/models"
)

var (
	questionMarker = regexp.MustCompile(`(?i)^Q\.\s*`)
	answerMarker   = regexp.MustCompile(`(?i)^A\.\s*`)
)

// Grid is a sheet of cell text addressed by row then column. Rows may be ragged; missing
// cells read as empty.
type Grid [][]string

// Cell returns the text at (col, row), or "" outside the grid.
func (g Grid) Cell(col, row int) string {
	if row < 0 || row >= len(g) || col < 0 || col >= len(g[row]) {
		return ""
	}
	return g[row][col]
}

// Columns returns the width of the widest row.
func (g Grid) Columns() int {
	n := 0
	for _, row := range g {
		if len(row) > n {
			n = len(row)
		}
	}
	return n
}

// ParsePairs scans g column by column, top to bottom. A cell starting with "Q." whose cell
// directly below starts with "A." yields one pair with both markers stripped. Cells are
// trimmed before matching and markers are case-insensitive. Pairs with an empty question
// or answer are skipped.
func ParsePairs(g Grid) []models.QAPair {
	var pairs []models.QAPair
	cols := g.Columns()
	for c := 0; c < cols; c++ {
		for r := 0; r < len(g); r++ {
			q := strings.TrimSpace(g.Cell(c, r))
			if !questionMarker.MatchString(q) {
				continue
			}
			a := strings.TrimSpace(g.Cell(c, r+1))
			if !answerMarker.MatchString(a) {
				continue
			}
			pair := models.QAPair{
				Question: strings.TrimSpace(questionMarker.ReplaceAllString(q, "")),
				Answer:   strings.TrimSpace(answerMarker.ReplaceAllString(a, "")),
			}
			if !pair.Valid() {
				continue
			}
			pairs = append(pairs, pair)
		}
	}
	return pairs
}
