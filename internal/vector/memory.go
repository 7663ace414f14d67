package vector

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/faqbot/internal/models"
)

// MemoryIndex is an in-process vector index using brute-force inner product search.
// Suitable for tests, local development, and small FAQ sets. Records are replaced by id.
type MemoryIndex struct {
	defaultCollection string
	collections       map[string]*memCollection
	mu                sync.RWMutex
}

type memCollection struct {
	dimensions int
	order      []uint64 // insertion order, used to break score ties
	records    map[uint64]models.IndexedRecord
}

// NewMemoryIndex creates an empty in-memory index. defaultCollection is used when a call
// passes an empty collection name.
func NewMemoryIndex(defaultCollection string) *MemoryIndex {
	return &MemoryIndex{
		defaultCollection: defaultCollection,
		collections:       make(map[string]*memCollection),
	}
}

func (m *MemoryIndex) name(collection string) string {
	if collection == "" {
		return m.defaultCollection
	}
	return collection
}

// EnsureCollection creates the collection if needed. dims of 0 lets the first upsert decide.
func (m *MemoryIndex) EnsureCollection(ctx context.Context, collection string, dims int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collection(m.name(collection), dims)
	return nil
}

// collection returns the named collection, creating it. Caller holds the write lock.
func (m *MemoryIndex) collection(name string, dims int) *memCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memCollection{dimensions: dims, records: make(map[uint64]models.IndexedRecord)}
		m.collections[name] = c
	}
	return c
}

// Upsert inserts or replaces records by id. The wait flag has no effect: writes are visible
// as soon as Upsert returns.
func (m *MemoryIndex) Upsert(ctx context.Context, collection string, records []models.IndexedRecord, wait bool) error {
	if err := ctx.Err(); err != nil {
		return &models.StorageError{Op: "upsert", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(m.name(collection), 0)
	for _, r := range records {
		if c.dimensions == 0 {
			c.dimensions = len(r.Vector)
		}
		if len(r.Vector) != c.dimensions {
			return &models.StorageError{Op: "upsert", Err: fmt.Errorf("record %d: vector dimension mismatch: got %d, expected %d", r.ID, len(r.Vector), c.dimensions)}
		}
	}
	for _, r := range records {
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		if _, exists := c.records[r.ID]; !exists {
			c.order = append(c.order, r.ID)
		}
		c.records[r.ID] = models.IndexedRecord{ID: r.ID, Vector: vec, Payload: r.Payload}
	}
	return nil
}

// Search returns the top-k records by inner product, which equals cosine similarity for
// normalized vectors. Equal scores keep insertion order.
func (m *MemoryIndex) Search(ctx context.Context, collection string, query []float32, topK int, scoreThreshold *float64) ([]models.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, &models.StorageError{Op: "query", Err: err}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[m.name(collection)]
	if !ok || topK <= 0 || len(query) == 0 || len(c.order) == 0 {
		return nil, nil
	}
	if len(query) != c.dimensions {
		return nil, &models.StorageError{Op: "query", Err: fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), c.dimensions)}
	}
	hits := make([]models.SearchHit, 0, len(c.order))
	for _, id := range c.order {
		r := c.records[id]
		score := innerProduct(query, r.Vector)
		if scoreThreshold != nil && score < *scoreThreshold {
			continue
		}
		hits = append(hits, models.SearchHit{ID: id, Score: score, Payload: r.Payload})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

// Count returns the number of records in the collection.
func (m *MemoryIndex) Count(ctx context.Context, collection string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[m.name(collection)]
	if !ok {
		return 0, nil
	}
	return uint64(len(c.order)), nil
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}

// Save persists the default collection to path. The directory is created if needed.
// Format: dimension (4), n (4), then per record: id (8), vector (dimension*4 bytes),
// payloadLen (4), payload JSON.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[m.defaultCollection]
	if !ok {
		c = &memCollection{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer f.Close()
	if err := binary.Write(f, binary.LittleEndian, uint32(c.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(c.order))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, id := range c.order {
		r := c.records[id]
		if err := binary.Write(f, binary.LittleEndian, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := f.Write(float32SliceToBytes(r.Vector)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
		payload, err := json.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		if err := binary.Write(f, binary.LittleEndian, uint32(len(payload))); err != nil {
			return fmt.Errorf("write payload len: %w", err)
		}
		if _, err := f.Write(payload); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
	}
	return nil
}

// Load replaces the default collection with the snapshot at path.
// If the file does not exist, no error is returned and the index is unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat snapshot file: %w", err)
	}
	var dim, n uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	// Each record takes at least an id, its vector and a payload length.
	remaining := uint64(info.Size()) - snapshotHeaderSize
	if n > 0 && 12+uint64(dim)*4 > remaining/uint64(n) {
		return &models.IntegrityError{Reason: fmt.Sprintf("snapshot %s truncated or corrupt: %d records of %d dimensions in %d bytes", path, n, dim, info.Size())}
	}
	c := &memCollection{
		dimensions: int(dim),
		order:      make([]uint64, 0, n),
		records:    make(map[uint64]models.IndexedRecord, n),
	}
	buf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		var id uint64
		if err := binary.Read(f, binary.LittleEndian, &id); err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(f, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		var payloadLen uint32
		if err := binary.Read(f, binary.LittleEndian, &payloadLen); err != nil {
			return fmt.Errorf("read payload len: %w", err)
		}
		if uint64(payloadLen) > remaining {
			return &models.IntegrityError{ID: id, Reason: fmt.Sprintf("payload length %d exceeds snapshot size", payloadLen)}
		}
		raw := make([]byte, payloadLen)
		if _, err := io.ReadFull(f, raw); err != nil {
			return fmt.Errorf("read payload: %w", err)
		}
		var payload models.Payload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return &models.IntegrityError{ID: id, Reason: err.Error()}
		}
		c.order = append(c.order, id)
		c.records[id] = models.IndexedRecord{ID: id, Vector: bytesToFloat32Slice(buf), Payload: payload}
	}
	m.mu.Lock()
	m.collections[m.defaultCollection] = c
	m.mu.Unlock()
	return nil
}

// snapshotHeaderSize is the dimension and record count prefix.
const snapshotHeaderSize = 8

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
