// Package models defines core data structures for Q&A pairs, index records, and answers.
package models

import (
	"strings"
	"time"
)

// QAPair is one curated question/answer pair extracted from the source document.
type QAPair struct {
	Question string `json:"question" yaml:"question"`
	Answer   string `json:"answer" yaml:"answer"`
}

// Valid reports whether both question and answer are non-empty after trimming.
func (p QAPair) Valid() bool {
	return strings.TrimSpace(p.Question) != "" && strings.TrimSpace(p.Answer) != ""
}

// Payload is the structured record stored alongside each vector.
type Payload struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Source   string `json:"source"`
}

// IndexedRecord is a vector plus payload keyed by a 1-based ordinal id.
type IndexedRecord struct {
	ID      uint64
	Vector  []float32
	Payload Payload
}

// SearchHit is a single nearest-neighbour result.
type SearchHit struct {
	ID      uint64  `json:"id"`
	Score   float64 `json:"score"`
	Payload Payload `json:"payload"`
}

// IngestRun records one completed ingestion run.
type IngestRun struct {
	ID          string    `json:"id" db:"id"`
	Source      string    `json:"source" db:"source"`
	Fingerprint string    `json:"fingerprint" db:"fingerprint"`
	PairCount   int       `json:"pair_count" db:"pair_count"`
	StaleIDs    []uint64  `json:"stale_ids,omitempty" db:"-"`
	StartedAt   time.Time `json:"started_at" db:"started_at"`
	FinishedAt  time.Time `json:"finished_at" db:"finished_at"`
}
