package vector

import (
	"context"
	"testing"

	"github.com/hyperjump/faqbot/internal/config"
)

func TestNewVectorIndex_Memory(t *testing.T) {
	idx, err := NewVectorIndex(&config.VectorConfig{Backend: "memory", Collection: "faq"}, nil)
	if err != nil {
		t.Fatalf("NewVectorIndex(memory): %v", err)
	}
	defer idx.Close()
	if _, ok := idx.(*MemoryIndex); !ok {
		t.Errorf("got %T, want *MemoryIndex", idx)
	}
}

func TestNewVectorIndex_QdrantIsLazy(t *testing.T) {
	idx, err := NewVectorIndex(&config.VectorConfig{Backend: "qdrant"}, nil)
	if err != nil {
		t.Fatalf("construction must not validate settings: %v", err)
	}
	defer idx.Close()
	if _, err := idx.Count(context.Background(), ""); err == nil {
		t.Error("expected configuration error on first use")
	}
}

func TestNewVectorIndex_Unknown(t *testing.T) {
	if _, err := NewVectorIndex(&config.VectorConfig{Backend: "faiss"}, nil); err == nil {
		t.Error("expected error for unknown backend")
	}
}
