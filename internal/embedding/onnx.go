//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hyperjump/faqbot/internal/models"
	"github.com/hyperjump/faqbot/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEmbedder runs a local sentence-embedding model with ONNX Runtime. It requires CGO and
// the onnxruntime shared library. The session is created once, on the first Embed call.
type ONNXEmbedder struct {
	modelPath  string
	dimensions int
	maxTokens  int
	cache      *EmbeddingCache
	tokenizer  Tokenizer

	once    sync.Once
	initErr error

	session             *ort.AdvancedSession
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	tokenTypeIDsTensor  *ort.Tensor[int64]
	outputTensor        *ort.Tensor[float32]
	mu                  sync.Mutex // guards the shared tensors during Run
}

// NewONNXEmbedder returns an ONNX embedder for the model at modelPath.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens, cacheSize int) *ONNXEmbedder {
	return &ONNXEmbedder{
		modelPath:  modelPath,
		dimensions: dimensions,
		maxTokens:  maxTokens,
		cache:      NewEmbeddingCache(cacheSize),
		tokenizer:  &SimpleTokenizer{},
	}
}

func (e *ONNXEmbedder) init() error {
	e.once.Do(func() {
		if e.modelPath == "" {
			e.initErr = &models.ConfigError{Key: "embedding.model_path"}
			return
		}
		if e.dimensions <= 0 {
			e.initErr = &models.ConfigError{Key: "embedding.dimensions", Err: errors.New("must be positive")}
			return
		}
		e.initErr = e.openSession()
	})
	return e.initErr
}

func (e *ONNXEmbedder) openSession() error {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return &models.ConfigError{Key: "onnxruntime", Err: err}
		}
	}

	inputIDs, attentionMask, tokenTypeIDs := e.tokenizer.Tokenize("", e.maxTokens)
	shape := ort.NewShape(1, int64(len(inputIDs)))

	var err error
	if e.inputIDsTensor, err = ort.NewTensor(shape, inputIDs); err != nil {
		return fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	if e.attentionMaskTensor, err = ort.NewTensor(shape, attentionMask); err != nil {
		e.destroy()
		return fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	if e.tokenTypeIDsTensor, err = ort.NewTensor(shape, tokenTypeIDs); err != nil {
		e.destroy()
		return fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	if e.outputTensor, err = ort.NewTensor(ort.NewShape(1, int64(e.dimensions)), make([]float32, e.dimensions)); err != nil {
		e.destroy()
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	e.session, err = ort.NewAdvancedSession(
		e.modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		[]ort.ArbitraryTensor{e.inputIDsTensor, e.attentionMaskTensor, e.tokenTypeIDsTensor},
		[]ort.ArbitraryTensor{e.outputTensor},
		nil,
	)
	if err != nil {
		e.destroy()
		return &models.ConfigError{Key: "embedding.model_path", Err: err}
	}
	return nil
}

// Embed returns the unit-normalized embedding for text, using cache when available.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
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
	if err := ctx.Err(); err != nil {
		return nil, &models.EmbeddingError{Op: "onnx", Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	inputIDs, attentionMask, tokenTypeIDs := e.tokenizer.Tokenize(input, e.maxTokens)
	copy(e.inputIDsTensor.GetData(), inputIDs)
	copy(e.attentionMaskTensor.GetData(), attentionMask)
	copy(e.tokenTypeIDsTensor.GetData(), tokenTypeIDs)

	if err := e.session.Run(); err != nil {
		return nil, &models.EmbeddingError{Op: "onnx", Err: fmt.Errorf("inference failed: %w", err)}
	}

	embedding := make([]float32, e.dimensions)
	copy(embedding, e.outputTensor.GetData())
	utils.NormalizeL2(embedding)
	e.cache.Set(input, embedding)
	return embedding, nil
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	e.destroy()
	return err
}

func (e *ONNXEmbedder) destroy() {
	if e.inputIDsTensor != nil {
		_ = e.inputIDsTensor.Destroy()
		e.inputIDsTensor = nil
	}
	if e.attentionMaskTensor != nil {
		_ = e.attentionMaskTensor.Destroy()
		e.attentionMaskTensor = nil
	}
	if e.tokenTypeIDsTensor != nil {
		_ = e.tokenTypeIDsTensor.Destroy()
		e.tokenTypeIDsTensor = nil
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
		e.outputTensor = nil
	}
}
