package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperjump/faqbot/internal/embedding"
	"github.com/hyperjump/faqbot/internal/extract"
	"github.com/hyperjump/faqbot/internal/models"
	"github.com/hyperjump/faqbot/internal/query"
	"github.com/hyperjump/faqbot/internal/storage"
	"github.com/hyperjump/faqbot/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const collection = "perso-faq"

var corpus = []models.QAPair{
	{Question: "Perso.ai는 어떤 서비스인가요?", Answer: "Perso.ai는 AI 더빙 서비스입니다."},
	{Question: "이스트소프트는 어떤 회사인가요?", Answer: "이스트소프트는 소프트웨어 회사입니다."},
	{Question: "Perso.ai의 요금제는 어떻게 구성되어 있나요?", Answer: "무료와 유료 플랜이 있습니다."},
}

// writeWorkbook lays pairs out vertically in column B with a header row, the way the
// curated sheet is organised.
func writeWorkbook(t *testing.T, path string, pairs []models.QAPair) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "FAQ")
	row := 2
	for _, p := range pairs {
		q, _ := excelize.CoordinatesToCellName(2, row)
		a, _ := excelize.CoordinatesToCellName(2, row+1)
		f.SetCellValue("Sheet1", q, "Q. "+p.Question)
		f.SetCellValue("Sheet1", a, "A. "+p.Answer)
		row += 3
	}
	require.NoError(t, f.SaveAs(path))
}

type fixture struct {
	dir      string
	source   string
	embedder *embedding.MockEmbedder
	index    *vector.MemoryIndex
	ledger   *storage.SQLiteLedger
	ingestor *Ingestor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	ledger, err := storage.NewSQLiteLedger(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	f := &fixture{
		dir:      dir,
		source:   filepath.Join(dir, "Q&A.xlsx"),
		embedder: embedding.NewMockEmbedder(32),
		index:    vector.NewMemoryIndex(collection),
		ledger:   ledger,
	}
	f.ingestor = NewIngestor(f.embedder, f.index, collection, WithLedger(ledger))
	return f
}

func (f *fixture) count(t *testing.T) uint64 {
	t.Helper()
	n, err := f.index.Count(context.Background(), collection)
	require.NoError(t, err)
	return n
}

func TestIngestFile(t *testing.T) {
	f := newFixture(t)
	writeWorkbook(t, f.source, corpus)

	report, err := f.ingestor.IngestFile(context.Background(), f.source)
	require.NoError(t, err)
	assert.Equal(t, corpus, report.Pairs)
	assert.Equal(t, 3, report.Run.PairCount)
	assert.Equal(t, "Q&A.xlsx", report.Run.Source)
	assert.Empty(t, report.Run.StaleIDs)
	assert.EqualValues(t, 3, f.count(t))

	last, err := f.ledger.LastRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.Run.ID, last.ID)
	assert.Equal(t, report.Run.Fingerprint, last.Fingerprint)
}

func TestIngest_idsAndPayloads(t *testing.T) {
	f := newFixture(t)
	_, err := f.ingestor.Ingest(context.Background(), "Q&A.xlsx", "fp", corpus)
	require.NoError(t, err)

	for i, p := range corpus {
		vec, err := f.embedder.Embed(context.Background(), p.Question)
		require.NoError(t, err)
		hits, err := f.index.Search(context.Background(), collection, vec, 1, nil)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.EqualValues(t, i+1, hits[0].ID, "ids follow extraction order")
		assert.Equal(t, models.Payload{Question: p.Question, Answer: p.Answer, Source: "Q&A.xlsx"}, hits[0].Payload)
	}
}

func TestIngest_roundTripSelfMatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.ingestor.Ingest(context.Background(), "Q&A.xlsx", "fp", corpus)
	require.NoError(t, err)
	svc := query.NewService(f.embedder, f.index, collection)

	for _, p := range corpus {
		result, err := svc.Answer(context.Background(), p.Question)
		require.NoError(t, err)
		m, ok := result.(*models.Matched)
		require.True(t, ok, "stored question %q should match itself", p.Question)
		assert.Equal(t, p.Answer, m.Answer)
		assert.GreaterOrEqual(t, m.Score, query.ScoreThreshold)
	}
}

func TestIngest_idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ingestor.Ingest(ctx, "Q&A.xlsx", "fp", corpus)
	require.NoError(t, err)
	vec, _ := f.embedder.Embed(ctx, corpus[1].Question)
	before, err := f.index.Search(ctx, collection, vec, 3, nil)
	require.NoError(t, err)

	report, err := f.ingestor.Ingest(ctx, "Q&A.xlsx", "fp", corpus)
	require.NoError(t, err)
	assert.Empty(t, report.Run.StaleIDs)
	after, err := f.index.Search(ctx, collection, vec, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.EqualValues(t, 3, f.count(t))
}

// Shrinking the source leaves the dropped tail record in the index. It keeps answering
// questions phrased like the removed entry; the run reports it as stale.
func TestIngest_shrinkingSourceLeavesStaleRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	writeWorkbook(t, f.source, corpus)
	_, err := f.ingestor.IngestFile(ctx, f.source)
	require.NoError(t, err)

	writeWorkbook(t, f.source, corpus[:2])
	report, err := f.ingestor.IngestFile(ctx, f.source)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Run.PairCount)
	assert.Equal(t, []uint64{3}, report.Run.StaleIDs)
	assert.Equal(t, []StaleRecord{{ID: 3, Question: corpus[2].Question}}, report.Stale)
	assert.EqualValues(t, 3, f.count(t), "stale record is not removed")

	svc := query.NewService(f.embedder, f.index, collection)
	result, err := svc.Answer(ctx, corpus[2].Question)
	require.NoError(t, err)
	m, ok := result.(*models.Matched)
	require.True(t, ok, "removed entry still answers; got %T", result)
	assert.Equal(t, corpus[2].Answer, m.Answer)
}

func TestIngest_staleDetectedWithoutLedger(t *testing.T) {
	idx := vector.NewMemoryIndex(collection)
	ing := NewIngestor(embedding.NewMockEmbedder(16), idx, collection)
	ctx := context.Background()
	_, err := ing.Ingest(ctx, "Q&A.xlsx", "a", corpus)
	require.NoError(t, err)

	report, err := ing.Ingest(ctx, "Q&A.xlsx", "b", corpus[:1])
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3}, report.Run.StaleIDs)
	assert.Empty(t, report.Stale, "no ledger, no stale questions")
}

func TestIngest_staleQuestionsComeFromNewestCoveringRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ingestor.Ingest(ctx, "Q&A.xlsx", "a", corpus)
	require.NoError(t, err)
	renamed := []models.QAPair{corpus[0], {Question: "바뀐 두 번째 질문", Answer: "바뀐 답변"}}
	_, err = f.ingestor.Ingest(ctx, "Q&A.xlsx", "b", renamed)
	require.NoError(t, err)

	report, err := f.ingestor.Ingest(ctx, "Q&A.xlsx", "c", corpus[:1])
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3}, report.Run.StaleIDs)
	assert.Equal(t, []StaleRecord{
		{ID: 2, Question: "바뀐 두 번째 질문"},
		{ID: 3, Question: corpus[2].Question},
	}, report.Stale)
}

func TestIngestFile_unsupportedFormat(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "faq.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0600))

	_, err := f.ingestor.IngestFile(context.Background(), path)
	assert.ErrorIs(t, err, extract.ErrUnsupportedFormat)
	assert.Zero(t, f.count(t))
}

func TestIngestFile_noPairs(t *testing.T) {
	f := newFixture(t)
	writeWorkbook(t, f.source, nil)

	_, err := f.ingestor.IngestFile(context.Background(), f.source)
	assert.ErrorIs(t, err, ErrNoPairs)
	assert.Zero(t, f.count(t))
	_, err = f.ledger.LastRun(context.Background())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestIngestFile_missingSource(t *testing.T) {
	f := newFixture(t)
	_, err := f.ingestor.IngestFile(context.Background(), filepath.Join(f.dir, "missing.xlsx"))
	assert.Error(t, err)
}

func TestIngestFileIfChanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	writeWorkbook(t, f.source, corpus)

	first, err := f.ingestor.IngestFileIfChanged(ctx, f.source)
	require.NoError(t, err)
	assert.False(t, first.Skipped)

	second, err := f.ingestor.IngestFileIfChanged(ctx, f.source)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, first.Run.ID, second.Run.ID)

	writeWorkbook(t, f.source, corpus[:1])
	third, err := f.ingestor.IngestFileIfChanged(ctx, f.source)
	require.NoError(t, err)
	assert.False(t, third.Skipped)
	assert.Equal(t, 1, third.Run.PairCount)
}

func TestIngest_embeddingFailureWritesNothing(t *testing.T) {
	idx := vector.NewMemoryIndex(collection)
	emb := &failingEmbedder{failAt: 2}
	ing := NewIngestor(emb, idx, collection)

	_, err := ing.Ingest(context.Background(), "Q&A.xlsx", "fp", corpus)
	var ee *models.EmbeddingError
	require.ErrorAs(t, err, &ee)
	n, _ := idx.Count(context.Background(), collection)
	assert.Zero(t, n)
}

func TestIngest_savesSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faq.idx")
	idx := vector.NewMemoryIndex(collection)
	ing := NewIngestor(embedding.NewMockEmbedder(8), idx, collection, WithSnapshot(path))
	_, err := ing.Ingest(context.Background(), "Q&A.xlsx", "fp", corpus)
	require.NoError(t, err)

	restored := vector.NewMemoryIndex(collection)
	require.NoError(t, restored.Load(path))
	n, _ := restored.Count(context.Background(), collection)
	assert.EqualValues(t, 3, n)
}

func TestIngest_concurrentRunIsRejected(t *testing.T) {
	emb := &blockingEmbedder{entered: make(chan struct{}), release: make(chan struct{})}
	ing := NewIngestor(emb, vector.NewMemoryIndex(collection), collection)

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = ing.Ingest(context.Background(), "Q&A.xlsx", "fp", corpus[:1])
	}()
	<-emb.entered

	_, err := ing.Ingest(context.Background(), "Q&A.xlsx", "fp", corpus[:1])
	assert.ErrorIs(t, err, ErrIngestInProgress)

	close(emb.release)
	wg.Wait()
	assert.NoError(t, firstErr)
}

type failingEmbedder struct {
	calls  int
	failAt int
}

func (e *failingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.calls++
	if e.calls == e.failAt {
		return nil, &models.EmbeddingError{Op: "feature-extraction", Err: errors.New("status 503")}
	}
	return []float32{1, 0}, nil
}

func (e *failingEmbedder) Close() error { return nil }

type blockingEmbedder struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (e *blockingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.once.Do(func() { close(e.entered) })
	<-e.release
	return []float32{1, 0}, nil
}

func (e *blockingEmbedder) Close() error { return nil }
