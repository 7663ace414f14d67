package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/faqbot/internal/config"
	"github.com/hyperjump/faqbot/internal/models"
	"github.com/hyperjump/faqbot/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hfFixture struct {
	srv   *httptest.Server
	calls atomic.Int32
	last  atomic.Value // last request inputs
}

func newHFFixture(t *testing.T, handler func(w http.ResponseWriter, inputs string)) *hfFixture {
	t.Helper()
	f := &hfFixture{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		assert.Equal(t, "/nlpai-lab/KoE5/pipeline/feature-extraction", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req featureExtractionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.last.Store(req.Inputs)
		handler(w, req.Inputs)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *hfFixture) config() *config.EmbeddingConfig {
	return &config.EmbeddingConfig{
		Provider:  ProviderHuggingFace,
		Model:     "nlpai-lab/KoE5",
		APIKey:    "test-key",
		Endpoint:  f.srv.URL + "/",
		Timeout:   time.Second,
		CacheSize: 16,
	}
}

func TestHFEmbedder_flatVector(t *testing.T) {
	f := newHFFixture(t, func(w http.ResponseWriter, _ string) {
		_, _ = w.Write([]byte(`[3, 4]`))
	})
	e := NewHFEmbedder(f.config())
	defer e.Close()

	vec, err := e.Embed(context.Background(), "  Perso.ai는   어떤 서비스인가요?  ")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
	assert.Equal(t, "Perso.ai는 어떤 서비스인가요?", f.last.Load())
}

func TestHFEmbedder_batchTakesFirstRow(t *testing.T) {
	f := newHFFixture(t, func(w http.ResponseWriter, _ string) {
		_, _ = w.Write([]byte(`[[0, 2, 0], [9, 9, 9]]`))
	})
	e := NewHFEmbedder(f.config())

	vec, err := e.Embed(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, vec)
}

func TestHFEmbedder_normIsOneOrZero(t *testing.T) {
	f := newHFFixture(t, func(w http.ResponseWriter, inputs string) {
		_, _ = w.Write([]byte(`[0.12, -3.5, 7.25, 0.001]`))
	})
	e := NewHFEmbedder(f.config())

	for _, text := range []string{"a", "Perso.ai의 요금제는?", "   ", ""} {
		vec, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		norm := utils.L2Norm(vec)
		if len(vec) == 0 {
			assert.Zero(t, norm, "text %q", text)
			continue
		}
		assert.InDelta(t, 1.0, norm, 1e-6, "text %q", text)
	}
	assert.EqualValues(t, 2, f.calls.Load(), "blank inputs must not reach the model")
}

func TestHFEmbedder_cacheAvoidsSecondCall(t *testing.T) {
	f := newHFFixture(t, func(w http.ResponseWriter, _ string) {
		_, _ = w.Write([]byte(`[1, 1]`))
	})
	e := NewHFEmbedder(f.config())

	first, err := e.Embed(context.Background(), "same question")
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), "same   question")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestHFEmbedder_missingCredential(t *testing.T) {
	f := newHFFixture(t, func(w http.ResponseWriter, _ string) {})
	cfg := f.config()
	cfg.APIKey = ""
	e := NewHFEmbedder(cfg)

	_, err := e.Embed(context.Background(), "question")
	var ce *models.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "HF_API_KEY", ce.Key)

	_, err = e.Embed(context.Background(), "question")
	require.ErrorAs(t, err, &ce, "configuration failure is cached")
	assert.Zero(t, f.calls.Load())
}

func TestHFEmbedder_upstreamErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler func(w http.ResponseWriter, _ string)
	}{
		{"server error", func(w http.ResponseWriter, _ string) {
			http.Error(w, `{"error":"model loading"}`, http.StatusServiceUnavailable)
		}},
		{"empty vector", func(w http.ResponseWriter, _ string) {
			_, _ = w.Write([]byte(`[]`))
		}},
		{"empty batch", func(w http.ResponseWriter, _ string) {
			_, _ = w.Write([]byte(`[[]]`))
		}},
		{"not json", func(w http.ResponseWriter, _ string) {
			_, _ = w.Write([]byte(`<html>`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHFFixture(t, tt.handler)
			e := NewHFEmbedder(f.config())
			_, err := e.Embed(context.Background(), "question")
			var ee *models.EmbeddingError
			assert.ErrorAs(t, err, &ee)
		})
	}
}

func TestHFEmbedder_timeout(t *testing.T) {
	release := make(chan struct{})
	f := newHFFixture(t, func(w http.ResponseWriter, _ string) {
		<-release
	})
	defer close(release)
	cfg := f.config()
	cfg.Timeout = 20 * time.Millisecond
	e := NewHFEmbedder(cfg)

	_, err := e.Embed(context.Background(), "slow question")
	var ee *models.EmbeddingError
	require.ErrorAs(t, err, &ee)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDecodeFeatures(t *testing.T) {
	vec, err := decodeFeatures([]byte(`[0.5, 0.25]`))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)

	vec, err = decodeFeatures([]byte(`[[1.5], [2.5]]`))
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5}, vec)

	_, err = decodeFeatures([]byte(`{"error":"x"}`))
	assert.Error(t, err)
}

func TestMockEmbedder(t *testing.T) {
	e := NewMockEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Perso.ai는 어떤 서비스인가요?")
	require.NoError(t, err)
	b, err := e.Embed(ctx, " Perso.ai는  어떤 서비스인가요? ")
	require.NoError(t, err)
	assert.Equal(t, a, b, "whitespace differences are normalized away")
	assert.InDelta(t, 1.0, utils.L2Norm(a), 1e-6)

	c, err := e.Embed(ctx, "오늘 점심 뭐 먹을까?")
	require.NoError(t, err)
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(c[i])
	}
	assert.Less(t, math.Abs(dot), 0.75)

	empty, err := e.Embed(ctx, "\t\n")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNewEmbedder(t *testing.T) {
	e, err := NewEmbedder(&config.EmbeddingConfig{Provider: ProviderMock, Dimensions: 8}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MockEmbedder{}, e)

	e, err = NewEmbedder(&config.EmbeddingConfig{Provider: ProviderHuggingFace}, nil)
	require.NoError(t, err)
	assert.IsType(t, &HFEmbedder{}, e)

	e, err = NewEmbedder(&config.EmbeddingConfig{Provider: ProviderONNX}, nil)
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "x")
	var ce *models.ConfigError
	assert.ErrorAs(t, err, &ce, "onnx without a model path is a configuration error")

	_, err = NewEmbedder(&config.EmbeddingConfig{Provider: "openai"}, nil)
	assert.Error(t, err)
}
