// Package storage persists the ingestion ledger: the history of ingestion runs and the ids
// each run wrote to the vector index.
package storage

import (
	"context"

	"github.com/hyperjump/faqbot/internal/models"
)

// Ledger records ingestion runs.
type Ledger interface {
	// RecordRun stores a finished run together with the pairs it wrote. pairs[i] was
	// written under point id i+1.
	RecordRun(ctx context.Context, run *models.IngestRun, pairs []models.QAPair) error
	// LastRun returns the most recent run, or models.ErrNotFound.
	LastRun(ctx context.Context) (*models.IngestRun, error)
	ListRuns(ctx context.Context, limit int) ([]*models.IngestRun, error)
	// RunPairs returns the pairs written by a run, ordered by point id.
	RunPairs(ctx context.Context, runID string) ([]models.QAPair, error)
	// MaxPointID returns the highest point id any run has written, or 0.
	MaxPointID(ctx context.Context) (uint64, error)

	Close() error
}
