package vector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/hyperjump/faqbot/internal/config"
	"github.com/hyperjump/faqbot/internal/models"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultQdrantPort is the Qdrant gRPC port used when the URL omits one.
const DefaultQdrantPort = 6334

// Payload keys stored on every point.
const (
	payloadQuestion = "question"
	payloadAnswer   = "answer"
	payloadSource   = "source"
)

// pointsAPI is the subset of *qdrant.Client used by QdrantIndex.
type pointsAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Close() error
}

var errIndexClosed = errors.New("index closed")

// QdrantIndex stores records in a Qdrant collection over gRPC. The connection is opened on
// first use and shared afterwards.
type QdrantIndex struct {
	cfg    config.VectorConfig
	logger *zap.Logger
	dial   func(*qdrant.Config) (pointsAPI, error)

	once    sync.Once
	client  pointsAPI
	initErr error
}

// QdrantOption configures a QdrantIndex.
type QdrantOption func(*QdrantIndex)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) QdrantOption {
	return func(q *QdrantIndex) {
		if l != nil {
			q.logger = l
		}
	}
}

// withClient injects a ready client; used by tests.
func withClient(c pointsAPI) QdrantOption {
	return func(q *QdrantIndex) {
		q.dial = func(*qdrant.Config) (pointsAPI, error) { return c, nil }
	}
}

// NewQdrantIndex returns an index for cfg. Nothing is dialed until the first call.
func NewQdrantIndex(cfg *config.VectorConfig, opts ...QdrantOption) *QdrantIndex {
	q := &QdrantIndex{
		cfg:    *cfg,
		logger: zap.NewNop(),
		dial: func(c *qdrant.Config) (pointsAPI, error) {
			return qdrant.NewClient(c)
		},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// ParseQdrantURL converts a URL such as https://host:6334 into client settings. A missing
// port defaults to DefaultQdrantPort and the https scheme enables TLS.
func ParseQdrantURL(raw string) (*qdrant.Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("missing host in %q", raw)
	}
	cfg := &qdrant.Config{Host: u.Hostname(), Port: DefaultQdrantPort}
	switch u.Scheme {
	case "https":
		cfg.UseTLS = true
	case "http", "":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", p)
		}
		cfg.Port = port
	}
	return cfg, nil
}

func (q *QdrantIndex) init() (pointsAPI, error) {
	q.once.Do(func() {
		if q.cfg.URL == "" {
			q.initErr = &models.ConfigError{Key: "QDRANT_URL"}
			return
		}
		if q.cfg.Collection == "" {
			q.initErr = &models.ConfigError{Key: "QDRANT_COLLECTION"}
			return
		}
		clientCfg, err := ParseQdrantURL(q.cfg.URL)
		if err != nil {
			q.initErr = &models.ConfigError{Key: "QDRANT_URL", Err: err}
			return
		}
		clientCfg.APIKey = q.cfg.APIKey
		client, err := q.dial(clientCfg)
		if err != nil {
			q.initErr = &models.StorageError{Op: "connect", Err: err}
			return
		}
		q.client = client
		q.logger.Debug("qdrant client initialized",
			zap.String("host", clientCfg.Host),
			zap.Int("port", clientCfg.Port),
			zap.Bool("tls", clientCfg.UseTLS))
	})
	return q.client, q.initErr
}

// collectionName falls back to the configured collection.
func (q *QdrantIndex) collectionName(collection string) string {
	if collection != "" {
		return collection
	}
	return q.cfg.Collection
}

// EnsureCollection creates the collection with cosine distance if it does not exist.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, collection string, dims int) error {
	client, err := q.init()
	if err != nil {
		return err
	}
	name := q.collectionName(collection)
	exists, err := client.CollectionExists(ctx, name)
	if err != nil {
		return storageError("collection exists", err)
	}
	if exists {
		return nil
	}
	if dims <= 0 {
		return &models.ConfigError{Key: "embedding.dimensions", Err: fmt.Errorf("must be positive, got %d", dims)}
	}
	err = client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return storageError("create collection", err)
	}
	q.logger.Info("created collection", zap.String("collection", name), zap.Int("dimensions", dims))
	return nil
}

// Upsert writes all records in a single request. With wait set the call returns only after
// the records are searchable.
func (q *QdrantIndex) Upsert(ctx context.Context, collection string, records []models.IndexedRecord, wait bool) error {
	client, err := q.init()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadQuestion: r.Payload.Question,
				payloadAnswer:   r.Payload.Answer,
				payloadSource:   r.Payload.Source,
			}),
		}
	}
	_, err = client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName(collection),
		Wait:           qdrant.PtrOf(wait),
		Points:         points,
	})
	if err != nil {
		return storageError("upsert", err)
	}
	return nil
}

// Search returns up to topK hits with score >= scoreThreshold when one is given.
func (q *QdrantIndex) Search(ctx context.Context, collection string, query []float32, topK int, scoreThreshold *float64) ([]models.SearchHit, error) {
	client, err := q.init()
	if err != nil {
		return nil, err
	}
	if topK <= 0 || len(query) == 0 {
		return nil, nil
	}
	req := &qdrant.QueryPoints{
		CollectionName: q.collectionName(collection),
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if scoreThreshold != nil {
		req.ScoreThreshold = qdrant.PtrOf(float32(*scoreThreshold))
	}
	points, err := client.Query(ctx, req)
	if err != nil {
		return nil, storageError("query", err)
	}
	hits := make([]models.SearchHit, 0, len(points))
	for _, p := range points {
		id := p.GetId().GetNum()
		payload, err := decodePayload(id, p.GetPayload())
		if err != nil {
			return nil, err
		}
		hits = append(hits, models.SearchHit{ID: id, Score: float64(p.GetScore()), Payload: payload})
	}
	return hits, nil
}

// Count returns the exact number of points in the collection.
func (q *QdrantIndex) Count(ctx context.Context, collection string) (uint64, error) {
	client, err := q.init()
	if err != nil {
		return 0, err
	}
	n, err := client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collectionName(collection),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, storageError("count", err)
	}
	return n, nil
}

// Close closes the gRPC connection if one was opened. It waits for an in-flight connect, and
// calls made after Close fail instead of dialing.
func (q *QdrantIndex) Close() error {
	q.once.Do(func() {
		q.initErr = &models.StorageError{Op: "connect", Err: errIndexClosed}
	})
	if q.client == nil {
		return nil
	}
	return q.client.Close()
}

func decodePayload(id uint64, payload map[string]*qdrant.Value) (models.Payload, error) {
	question, ok := stringField(payload, payloadQuestion)
	if !ok {
		return models.Payload{}, &models.IntegrityError{ID: id, Reason: "payload has no string question"}
	}
	answer, ok := stringField(payload, payloadAnswer)
	if !ok {
		return models.Payload{}, &models.IntegrityError{ID: id, Reason: "payload has no string answer"}
	}
	source, ok := stringField(payload, payloadSource)
	if !ok {
		return models.Payload{}, &models.IntegrityError{ID: id, Reason: "payload has no string source"}
	}
	return models.Payload{Question: question, Answer: answer, Source: source}, nil
}

func stringField(payload map[string]*qdrant.Value, key string) (string, bool) {
	v, ok := payload[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.GetKind().(*qdrant.Value_StringValue)
	if !ok {
		return "", false
	}
	return s.StringValue, true
}

func storageError(op string, err error) error {
	if status.Code(err) == codes.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return &models.StorageError{Op: op, Err: fmt.Errorf("timed out: %w", context.DeadlineExceeded)}
	}
	return &models.StorageError{Op: op, Err: err}
}
