//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"

	"github.com/hyperjump/faqbot/internal/models"
)

// ONNXEmbedder stub type when built without CGO (see onnx.go for real implementation).
type ONNXEmbedder struct{}

// NewONNXEmbedder returns an embedder whose Embed always fails with a ConfigError.
func NewONNXEmbedder(_ string, _, _, _ int) *ONNXEmbedder {
	return &ONNXEmbedder{}
}

// Embed reports that ONNX is unavailable in this build.
func (e *ONNXEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, &models.ConfigError{
		Key: "embedding.provider",
		Err: errors.New("ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime"),
	}
}

// Close is a no-op.
func (e *ONNXEmbedder) Close() error { return nil }
