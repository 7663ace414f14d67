// Package query answers user questions from the curated FAQ by nearest-neighbour lookup.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/faqbot/internal/embedding"
	"github.com/hyperjump/faqbot/internal/models"
	"github.com/hyperjump/faqbot/internal/vector"
	"go.uber.org/zap"
)

// ScoreThreshold is the minimum cosine similarity for a stored question to count as a
// match. Scores equal to the threshold match.
const ScoreThreshold = 0.75

// UnmatchedReason is returned whenever no stored question is similar enough.
const UnmatchedReason = "현재 등록된 Q&A는 Perso.ai / 이스트소프트 관련 내용만 포함하고 있어요. 입력하신 질문과 비슷한 내용을 데이터에서 찾지 못했습니다."

// Service maps a question to at most one stored answer.
type Service struct {
	embedder      embedding.Embedder
	index         vector.VectorIndex
	collection    string
	searchTimeout time.Duration
	logger        *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSearchTimeout bounds each index lookup; 0 leaves it to the caller's context.
func WithSearchTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.searchTimeout = d }
}

// NewService creates a query service reading from collection in index.
func NewService(embedder embedding.Embedder, index vector.VectorIndex, collection string, opts ...ServiceOption) *Service {
	s := &Service{
		embedder:   embedder,
		index:      index,
		collection: collection,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Answer returns *models.Matched with the stored answer of the single most similar question
// when its score is at least ScoreThreshold, and *models.Unmatched otherwise. Only the empty
// string is a *models.ValidationError; whitespace-only input embeds to an empty vector and is
// unmatched.
func (s *Service) Answer(ctx context.Context, question string) (models.AnswerResult, error) {
	if question == "" {
		return nil, &models.ValidationError{Field: "question", Reason: "question is required"}
	}

	vec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		s.logger.Error("failed to embed question", zap.String("question", question), zap.Error(err))
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	if len(vec) == 0 {
		return &models.Unmatched{Reason: UnmatchedReason}, nil
	}

	searchCtx := ctx
	if s.searchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, s.searchTimeout)
		defer cancel()
	}
	hits, err := s.index.Search(searchCtx, s.collection, vec, 1, vector.Threshold(ScoreThreshold))
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}
	if len(hits) == 0 || hits[0].Score < ScoreThreshold {
		s.logger.Debug("no match", zap.String("question", question))
		return &models.Unmatched{Reason: UnmatchedReason}, nil
	}

	top := hits[0]
	s.logger.Info("matched question",
		zap.String("question", question),
		zap.String("stored_question", top.Payload.Question),
		zap.Float64("score", top.Score))
	return &models.Matched{
		Answer:   top.Payload.Answer,
		Question: top.Payload.Question,
		Score:    top.Score,
	}, nil
}
