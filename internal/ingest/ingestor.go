// Package ingest loads curated Q&A pairs from a source document into the vector index.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/faqbot/internal/embedding"
	"github.com/hyperjump/faqbot/internal/extract"
	"github.com/hyperjump/faqbot/internal/fileid"
	"github.com/hyperjump/faqbot/internal/models"
	"github.com/hyperjump/faqbot/internal/storage"
	"github.com/hyperjump/faqbot/internal/vector"
	"go.uber.org/zap"
)

var (
	// ErrIngestInProgress is returned when a run starts while another is still running.
	ErrIngestInProgress = errors.New("ingestion already in progress")
	// ErrNoPairs is returned when the source yields no Q&A pairs. Nothing is written.
	ErrNoPairs = errors.New("no Q&A pairs found in source")
)

// Snapshotter is implemented by indexes that persist themselves to a file.
type Snapshotter interface {
	Save(path string) error
}

// Report describes a finished run.
type Report struct {
	Run   *models.IngestRun `json:"run,omitempty"`
	Pairs []models.QAPair   `json:"pairs"`
	// Stale names the question each stale id last held, when the ledger recorded it.
	Stale []StaleRecord `json:"stale,omitempty"`
	// Skipped is set when IngestFileIfChanged found the source unchanged.
	Skipped bool `json:"skipped"`
}

// StaleRecord is an id beyond the current source and the question an earlier run wrote there.
type StaleRecord struct {
	ID       uint64 `json:"id"`
	Question string `json:"question"`
}

// staleLookupRuns bounds how far back the ledger is searched for stale questions.
const staleLookupRuns = 20

// Ingestor embeds each question and writes all pairs to the index in one batch.
type Ingestor struct {
	extractor    *extract.Extractor
	embedder     embedding.Embedder
	index        vector.VectorIndex
	collection   string
	ledger       storage.Ledger // optional
	snapshotPath string
	logger       *zap.Logger

	mu sync.Mutex
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithLogger sets the logger for run progress and stale-record warnings.
func WithLogger(l *zap.Logger) IngestorOption {
	return func(i *Ingestor) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithLedger records each run and enables stale-id detection across runs.
func WithLedger(l storage.Ledger) IngestorOption {
	return func(i *Ingestor) { i.ledger = l }
}

// WithSnapshot saves the index to path after each run when it implements Snapshotter.
func WithSnapshot(path string) IngestorOption {
	return func(i *Ingestor) { i.snapshotPath = path }
}

// NewIngestor creates an ingestor writing to collection in index.
func NewIngestor(embedder embedding.Embedder, index vector.VectorIndex, collection string, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{
		extractor:  extract.NewExtractor(),
		embedder:   embedder,
		index:      index,
		collection: collection,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IngestFile extracts pairs from the first sheet of path and ingests them.
func (i *Ingestor) IngestFile(ctx context.Context, path string) (*Report, error) {
	if !extract.Supported(path) {
		return nil, fmt.Errorf("%w: %s", extract.ErrUnsupportedFormat, path)
	}
	content, err := i.readSource(path)
	if err != nil {
		return nil, err
	}
	pairs, err := i.extractor.ExtractBytes(content, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("failed to extract pairs: %w", err)
	}
	i.logger.Info("extracted pairs", zap.String("source", path), zap.Int("pairs", len(pairs)))
	return i.Ingest(ctx, fileid.SourceName(path), fileid.Fingerprint(content), pairs)
}

// IngestFileIfChanged is IngestFile that skips the run when the ledger's last run already
// ingested identical source bytes. Without a ledger it always ingests.
func (i *Ingestor) IngestFileIfChanged(ctx context.Context, path string) (*Report, error) {
	if i.ledger != nil {
		fp, err := fileid.FileFingerprint(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read source: %w", err)
		}
		last, err := i.ledger.LastRun(ctx)
		switch {
		case err == nil && last.Fingerprint == fp && last.Source == fileid.SourceName(path):
			i.logger.Debug("source unchanged, skipping ingestion", zap.String("source", path))
			return &Report{Run: last, Skipped: true}, nil
		case err != nil && !errors.Is(err, models.ErrNotFound):
			i.logger.Warn("failed to read last ingestion run", zap.Error(err))
		}
	}
	return i.IngestFile(ctx, path)
}

func (i *Ingestor) readSource(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	return content, nil
}

// Ingest embeds every question and upserts all pairs with ids 1..N in one call that waits
// for the index to apply the write. Only one run executes at a time.
func (i *Ingestor) Ingest(ctx context.Context, source, fingerprint string, pairs []models.QAPair) (*Report, error) {
	if !i.mu.TryLock() {
		return nil, ErrIngestInProgress
	}
	defer i.mu.Unlock()

	if len(pairs) == 0 {
		return nil, ErrNoPairs
	}
	started := time.Now()
	run := &models.IngestRun{
		ID:          uuid.New().String(),
		Source:      source,
		Fingerprint: fingerprint,
		PairCount:   len(pairs),
		StartedAt:   started,
	}
	log := i.logger.With(zap.String("run_id", run.ID))

	records := make([]models.IndexedRecord, len(pairs))
	for n, p := range pairs {
		log.Debug("embedding question", zap.Int("n", n+1), zap.Int("total", len(pairs)), zap.String("question", p.Question))
		vec, err := i.embedder.Embed(ctx, p.Question)
		if err != nil {
			return nil, fmt.Errorf("failed to embed question %d: %w", n+1, err)
		}
		if len(vec) == 0 {
			return nil, &models.EmbeddingError{Op: "feature-extraction", Err: fmt.Errorf("empty vector for question %d", n+1)}
		}
		records[n] = models.IndexedRecord{
			ID:      uint64(n + 1),
			Vector:  vec,
			Payload: models.Payload{Question: p.Question, Answer: p.Answer, Source: source},
		}
	}

	if err := i.index.EnsureCollection(ctx, i.collection, len(records[0].Vector)); err != nil {
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}
	if err := i.index.Upsert(ctx, i.collection, records, true); err != nil {
		return nil, fmt.Errorf("failed to upsert records: %w", err)
	}
	log.Info("upserted records", zap.Int("count", len(records)), zap.String("collection", i.collection))

	run.StaleIDs = i.staleIDs(ctx, uint64(len(records)))
	var stale []StaleRecord
	if len(run.StaleIDs) > 0 {
		stale = i.staleRecords(ctx, run.StaleIDs)
		questions := make([]string, len(stale))
		for n, r := range stale {
			questions[n] = r.Question
		}
		log.Warn("index holds records beyond the current source; they remain searchable",
			zap.Int("stale", len(run.StaleIDs)),
			zap.Uint64("first_stale_id", run.StaleIDs[0]),
			zap.Uint64("last_stale_id", run.StaleIDs[len(run.StaleIDs)-1]),
			zap.Strings("stale_questions", questions))
	}
	run.FinishedAt = time.Now()

	if i.ledger != nil {
		if err := i.ledger.RecordRun(ctx, run, pairs); err != nil {
			log.Error("failed to record ingestion run", zap.Error(err))
		}
	}
	if s, ok := i.index.(Snapshotter); ok && i.snapshotPath != "" {
		if err := s.Save(i.snapshotPath); err != nil {
			return nil, fmt.Errorf("failed to save snapshot: %w", err)
		}
	}
	log.Info("ingestion finished", zap.Int("pairs", len(pairs)), zap.Duration("took", run.FinishedAt.Sub(started)))
	return &Report{Run: run, Pairs: pairs, Stale: stale}, nil
}

// staleIDs returns ids above n still present from earlier runs. The ledger's high-water
// mark and the collection size are both consulted; whichever is larger wins.
func (i *Ingestor) staleIDs(ctx context.Context, n uint64) []uint64 {
	var high uint64
	if i.ledger != nil {
		max, err := i.ledger.MaxPointID(ctx)
		if err != nil {
			i.logger.Warn("failed to read ledger high-water mark", zap.Error(err))
		}
		high = max
	}
	if count, err := i.index.Count(ctx, i.collection); err == nil && count > high {
		high = count
	} else if err != nil {
		i.logger.Debug("failed to count collection", zap.Error(err))
	}
	if high <= n {
		return nil
	}
	ids := make([]uint64, 0, high-n)
	for id := n + 1; id <= high; id++ {
		ids = append(ids, id)
	}
	return ids
}

// staleRecords finds, for each id, the newest recorded run that wrote it and the question
// stored there. Ids outside the ledger's recent history are left out.
func (i *Ingestor) staleRecords(ctx context.Context, ids []uint64) []StaleRecord {
	if i.ledger == nil {
		return nil
	}
	runs, err := i.ledger.ListRuns(ctx, staleLookupRuns)
	if err != nil {
		i.logger.Warn("failed to list ingestion runs", zap.Error(err))
		return nil
	}
	written := make(map[string][]models.QAPair)
	var out []StaleRecord
	for _, id := range ids {
		for _, run := range runs {
			if uint64(run.PairCount) < id {
				continue
			}
			pairs, ok := written[run.ID]
			if !ok {
				if pairs, err = i.ledger.RunPairs(ctx, run.ID); err != nil {
					i.logger.Warn("failed to read run pairs", zap.String("run_id", run.ID), zap.Error(err))
					return out
				}
				written[run.ID] = pairs
			}
			if id <= uint64(len(pairs)) {
				out = append(out, StaleRecord{ID: id, Question: pairs[id-1].Question})
			}
			break
		}
	}
	return out
}
