// Package embedding converts question text into unit-normalized vectors.
package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/faqbot/internal/config"
	"github.com/hyperjump/faqbot/pkg/utils"
	"go.uber.org/zap"
)

// Embedder produces vector embeddings for text.
// Embed returns an empty vector when text is blank after Preprocess.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Close() error
}

// Provider names accepted by NewEmbedder.
const (
	ProviderHuggingFace = "huggingface"
	ProviderONNX        = "onnx"
	ProviderMock        = "mock"
)

// Preprocess trims text and collapses internal whitespace runs to one space.
func Preprocess(text string) string {
	return utils.CollapseSpace(text)
}

// NewEmbedder creates the embedder named by cfg.Provider.
// Credentials are not checked here; providers resolve them once on first use.
func NewEmbedder(cfg *config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	switch cfg.Provider {
	case ProviderHuggingFace, "":
		return NewHFEmbedder(cfg, WithLogger(logger)), nil
	case ProviderONNX:
		return NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens, cfg.CacheSize), nil
	case ProviderMock:
		return NewMockEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: huggingface, onnx, mock)", cfg.Provider)
	}
}
