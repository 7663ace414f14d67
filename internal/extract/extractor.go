// Package extract reads curated Q&A pairs out of spreadsheet documents.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/faqbot/internal/models"
)

var (
	// ErrNoSheet is returned for a workbook without any sheet.
	ErrNoSheet = errors.New("workbook has no sheets")
	// ErrUnsupportedFormat is returned for a source whose extension has no reader.
	ErrUnsupportedFormat = errors.New("unsupported source format")
)

// Extractor turns source documents into Q&A pairs.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Supported reports whether the file extension of path can be read.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xltx", ".csv":
		return true
	}
	return false
}

// Extract reads the file at path and returns the Q&A pairs of its first sheet.
// Returns an error if the file cannot be read or the format is unsupported.
func (e *Extractor) Extract(path string) ([]models.QAPair, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ExtractBytes parses content based on the given extension.
// ext should include the leading dot (e.g. ".xlsx").
func (e *Extractor) ExtractBytes(content []byte, ext string) ([]models.QAPair, error) {
	grid, err := e.ReadGrid(content, ext)
	if err != nil {
		return nil, err
	}
	return ParsePairs(grid), nil
}

// ReadGrid returns the first sheet of content as a Grid.
func (e *Extractor) ReadGrid(content []byte, ext string) (Grid, error) {
	switch strings.ToLower(ext) {
	case ".xlsx", ".xlsm", ".xltx":
		return readExcel(content)
	case ".csv":
		return readCSV(content)
	default:
		return nil, fmt.Errorf("%w %q (supported: .xlsx, .xlsm, .xltx, .csv)", ErrUnsupportedFormat, ext)
	}
}
