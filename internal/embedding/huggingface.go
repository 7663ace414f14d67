package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/faqbot/internal/config"
	"github.com/hyperjump/faqbot/internal/models"
	"github.com/hyperjump/faqbot/pkg/utils"
	"go.uber.org/zap"
)

// HFEmbedder calls a Hugging Face feature-extraction endpoint. It also works against
// self-hosted inference servers that expose the same route.
type HFEmbedder struct {
	cfg        config.EmbeddingConfig
	httpClient *http.Client
	cache      *EmbeddingCache
	logger     *zap.Logger

	once     sync.Once
	initErr  error
	endpoint string // resolved feature-extraction URL
}

// HFOption configures an HFEmbedder.
type HFOption func(*HFEmbedder)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) HFOption {
	return func(e *HFEmbedder) { e.logger = utils.OrNop(l) }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) HFOption {
	return func(e *HFEmbedder) { e.httpClient = c }
}

// NewHFEmbedder returns an embedder for cfg. The credential is resolved on the first Embed call.
func NewHFEmbedder(cfg *config.EmbeddingConfig, opts ...HFOption) *HFEmbedder {
	e := &HFEmbedder{
		cfg:        *cfg,
		httpClient: &http.Client{},
		cache:      NewEmbeddingCache(cfg.CacheSize),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *HFEmbedder) init() error {
	e.once.Do(func() {
		if e.cfg.APIKey == "" {
			e.initErr = &models.ConfigError{Key: "HF_API_KEY"}
			return
		}
		if e.cfg.Model == "" {
			e.initErr = &models.ConfigError{Key: "HF_MODEL"}
			return
		}
		base := strings.TrimRight(e.cfg.Endpoint, "/")
		if base == "" {
			base = config.DefaultHFEndpoint
		}
		e.endpoint = base + "/" + e.cfg.Model + "/pipeline/feature-extraction"
		if _, err := url.Parse(e.endpoint); err != nil {
			e.initErr = &models.ConfigError{Key: "HF_ENDPOINT", Err: err}
			return
		}
		e.logger.Debug("embedding client initialized",
			zap.String("model", e.cfg.Model),
			zap.String("endpoint", e.endpoint))
	})
	return e.initErr
}

type featureExtractionRequest struct {
	Inputs string `json:"inputs"`
}

// Embed returns the unit-normalized embedding for text, using cache when available.
func (e *HFEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.init(); err != nil {
		return nil, err
	}
	input := Preprocess(text)
	if input == "" {
		return []float32{}, nil
	}
	if cached, ok := e.cache.Get(input); ok {
		return cached, nil
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	vec, err := e.call(ctx, input)
	if err != nil {
		return nil, &models.EmbeddingError{Op: "feature-extraction", Err: err}
	}
	utils.NormalizeL2(vec)
	e.cache.Set(input, vec)
	return vec, nil
}

func (e *HFEmbedder) call(ctx context.Context, input string) ([]float32, error) {
	body, err := json.Marshal(featureExtractionRequest{Inputs: input})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s: %w", time.Since(start).Round(time.Millisecond), err)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, utils.Truncate(string(raw), 200))
	}
	e.logger.Debug("embedding call",
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))
	return decodeFeatures(raw)
}

// decodeFeatures accepts either a flat vector or a batch and returns the first row.
func decodeFeatures(raw []byte) ([]float32, error) {
	var flat []float32
	if err := json.Unmarshal(raw, &flat); err == nil {
		if len(flat) == 0 {
			return nil, errors.New("empty vector in response")
		}
		return flat, nil
	}
	var batch [][]float32
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(batch) == 0 || len(batch[0]) == 0 {
		return nil, errors.New("no vector in response")
	}
	return batch[0], nil
}

// Close releases idle connections.
func (e *HFEmbedder) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}
