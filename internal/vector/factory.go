package vector

import (
	"fmt"

	"github.com/hyperjump/faqbot/internal/config"
	"go.uber.org/zap"
)

// Backend names accepted in vector.backend.
const (
	BackendQdrant = "qdrant"
	BackendMemory = "memory"
)

// NewVectorIndex creates the index selected by cfg.Backend. The memory backend loads
// cfg.SnapshotPath when it exists.
func NewVectorIndex(cfg *config.VectorConfig, logger *zap.Logger) (VectorIndex, error) {
	switch cfg.Backend {
	case BackendQdrant, "":
		return NewQdrantIndex(cfg, WithLogger(logger)), nil
	case BackendMemory:
		idx := NewMemoryIndex(cfg.Collection)
		if err := idx.Load(cfg.SnapshotPath); err != nil {
			return nil, fmt.Errorf("failed to load snapshot: %w", err)
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (supported: qdrant, memory)", cfg.Backend)
	}
}
