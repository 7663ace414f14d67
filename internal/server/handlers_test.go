package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/faqbot/internal/config"
	"github.com/hyperjump/faqbot/internal/embedding"
	"github.com/hyperjump/faqbot/internal/models"
	"github.com/hyperjump/faqbot/internal/query"
	"github.com/hyperjump/faqbot/internal/storage"
	"github.com/hyperjump/faqbot/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type answerFunc func(ctx context.Context, question string) (models.AnswerResult, error)

func (f answerFunc) Answer(ctx context.Context, question string) (models.AnswerResult, error) {
	return f(ctx, question)
}

func testConfig() *config.Config {
	cfg := &config.Config{Vector: config.VectorConfig{Backend: "memory", Collection: "perso-faq"}}
	config.ApplyDefaults(cfg)
	cfg.Storage.LedgerPath = ""
	return cfg
}

func newTestServer(t *testing.T, answerer Answerer, cfg *config.Config, ledger storage.Ledger) (*Server, *vector.MemoryIndex) {
	t.Helper()
	idx := vector.NewMemoryIndex(cfg.Vector.Collection)
	return NewServer(answerer, idx, ledger, cfg, zap.NewNop()), idx
}

func postAsk(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandleAsk_matched(t *testing.T) {
	srv, _ := newTestServer(t, answerFunc(func(_ context.Context, q string) (models.AnswerResult, error) {
		assert.Equal(t, "Perso.ai는 어떤 서비스인가요?", q)
		return &models.Matched{Answer: "Perso.ai는 AI 더빙 서비스입니다.", Question: "Perso.ai는 어떤 서비스인가요?", Score: 0.93}, nil
	}), testConfig(), nil)

	w := postAsk(t, srv.Handler(), `{"question":"Perso.ai는 어떤 서비스인가요?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["matched"])
	assert.Equal(t, "Perso.ai는 AI 더빙 서비스입니다.", body["answer"])
	assert.Equal(t, "Perso.ai는 어떤 서비스인가요?", body["question"])
	assert.InDelta(t, 0.93, body["score"], 1e-9)
	assert.NotContains(t, body, "reason")
}

func TestHandleAsk_unmatched(t *testing.T) {
	srv, _ := newTestServer(t, answerFunc(func(context.Context, string) (models.AnswerResult, error) {
		return &models.Unmatched{Reason: query.UnmatchedReason}, nil
	}), testConfig(), nil)

	w := postAsk(t, srv.Handler(), `{"question":"오늘 점심 뭐 먹을까?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["matched"])
	assert.Contains(t, body, "answer")
	assert.Nil(t, body["answer"])
	assert.Equal(t, query.UnmatchedReason, body["reason"])
	assert.NotContains(t, body, "score")
}

func TestHandleAsk_badInput(t *testing.T) {
	called := false
	svc := query.NewService(nil, nil, "perso-faq")
	srv, _ := newTestServer(t, answerFunc(func(ctx context.Context, q string) (models.AnswerResult, error) {
		called = true
		return svc.Answer(ctx, q)
	}), testConfig(), nil)

	for _, body := range []string{``, `not json`, `{}`, `{"question":null}`, `{"question":42}`, `{"question":""}`} {
		called = false
		w := postAsk(t, srv.Handler(), body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
		assert.JSONEq(t, `{"error":"question is required"}`, w.Body.String(), "body %q", body)
		if strings.Contains(body, `""`) {
			assert.True(t, called, "empty string reaches the service, which rejects it")
		}
	}
}

func TestHandleAsk_whitespaceQuestionIsUnmatched(t *testing.T) {
	idx := vector.NewMemoryIndex("perso-faq")
	svc := query.NewService(embedding.NewMockEmbedder(8), idx, "perso-faq")
	srv := NewServer(svc, idx, nil, testConfig(), zap.NewNop())

	w := postAsk(t, srv.Handler(), `{"question":"   "}`)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["matched"])
	assert.Nil(t, body["answer"])
	assert.Equal(t, query.UnmatchedReason, body["reason"])
}

func TestHandleAsk_internalErrorIsGeneric(t *testing.T) {
	srv, _ := newTestServer(t, answerFunc(func(context.Context, string) (models.AnswerResult, error) {
		return nil, &models.StorageError{Op: "query", Err: errors.New("dial tcp 10.0.0.7:6334: connection refused")}
	}), testConfig(), nil)

	w := postAsk(t, srv.Handler(), `{"question":"질문"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
}

func TestHandleAsk_panicRecovered(t *testing.T) {
	srv, _ := newTestServer(t, answerFunc(func(context.Context, string) (models.AnswerResult, error) {
		panic("boom")
	}), testConfig(), nil)

	w := postAsk(t, srv.Handler(), `{"question":"질문"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil, testConfig(), nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandleStatus(t *testing.T) {
	cfg := testConfig()
	ledger, err := storage.NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()
	run := &models.IngestRun{ID: "run-1", Source: "Q&A.xlsx", Fingerprint: "sha256:ab", PairCount: 2, StartedAt: time.Now(), FinishedAt: time.Now()}
	require.NoError(t, ledger.RecordRun(context.Background(), run, []models.QAPair{{Question: "q1", Answer: "a1"}, {Question: "q2", Answer: "a2"}}))

	srv, idx := newTestServer(t, nil, cfg, ledger)
	require.NoError(t, idx.Upsert(context.Background(), "", []models.IndexedRecord{
		{ID: 1, Vector: []float32{1, 0}, Payload: models.Payload{Question: "q1", Answer: "a1", Source: "Q&A.xlsx"}},
		{ID: 2, Vector: []float32{0, 1}, Payload: models.Payload{Question: "q2", Answer: "a2", Source: "Q&A.xlsx"}},
	}, true))

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 2, resp.Points)
	assert.Equal(t, "perso-faq", resp.Collection)
	assert.Equal(t, query.ScoreThreshold, resp.ScoreThreshold)
	assert.Equal(t, "nlpai-lab/KoE5", resp.Embedding.Model)
	require.NotNil(t, resp.LastRun)
	assert.Equal(t, "run-1", resp.LastRun.ID)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimit = 1
	cfg.Server.RateBurst = 2
	srv, _ := newTestServer(t, answerFunc(func(context.Context, string) (models.AnswerResult, error) {
		return &models.Unmatched{Reason: "x"}, nil
	}), cfg, nil)
	h := srv.Handler()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodPost, "/api/ask", bytes.NewBufferString(`{"question":"q"}`))
		r.RemoteAddr = "203.0.113.9:5555"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	r := httptest.NewRequest(http.MethodPost, "/api/ask", bytes.NewBufferString(`{"question":"q"}`))
	r.RemoteAddr = "198.51.100.1:5555"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code, "limits are per client")
}

func TestRateLimiter_sweepsIdleClients(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(1, 1, func() time.Time { return now })
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))

	now = now.Add(idleLimiterTTL + time.Second)
	assert.True(t, rl.allow("b"))
	rl.mu.Lock()
	_, kept := rl.clients["a"]
	rl.mu.Unlock()
	assert.False(t, kept)
}

func TestTracingWrapsHandler(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Tracing = true
	srv, _ := newTestServer(t, nil, cfg, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
