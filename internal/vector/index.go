// Package vector provides the similarity index that stores question vectors and their payloads.
package vector

import (
	"context"

	"github.com/hyperjump/faqbot/internal/models"
)

// VectorIndex stores records and answers nearest-neighbour queries.
//
// Search returns hits ordered by descending score. When scoreThreshold is non-nil only hits
// with score >= *scoreThreshold are returned; an empty result is not an error.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, collection string, dims int) error
	Upsert(ctx context.Context, collection string, records []models.IndexedRecord, wait bool) error
	Search(ctx context.Context, collection string, query []float32, topK int, scoreThreshold *float64) ([]models.SearchHit, error)
	Count(ctx context.Context, collection string) (uint64, error)
	Close() error
}

// Threshold is a convenience for passing a literal threshold to Search.
func Threshold(v float64) *float64 {
	return &v
}
