package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hyperjump/faqbot/internal/config"
	"github.com/hyperjump/faqbot/internal/models"
	"github.com/hyperjump/faqbot/internal/query"
	"github.com/hyperjump/faqbot/internal/storage"
	"github.com/hyperjump/faqbot/internal/vector"
	"github.com/hyperjump/faqbot/pkg/utils"
	"go.uber.org/zap"
)

const (
	msgQuestionRequired = "question is required"
	msgInternal         = "internal server error"
)

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req models.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == nil {
		s.respondError(w, http.StatusBadRequest, msgQuestionRequired)
		return
	}
	result, err := s.answerer.Answer(r.Context(), *req.Question)
	if err != nil {
		if models.IsClientError(err) {
			s.logger.Debug("rejected question", zap.Error(err))
			s.respondError(w, http.StatusBadRequest, msgQuestionRequired)
			return
		}
		s.logger.Error("ask failed", zap.String("question", *req.Question), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	resp, err := models.NewAskResponse(result)
	if err != nil {
		s.logger.Error("ask failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := CollectStatus(r.Context(), s.index, s.ledger, s.config, s.logger)
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// CollectStatus reports the point count, the last ingestion run and on-disk usage. ledger may be nil.
func CollectStatus(ctx context.Context, index vector.VectorIndex, ledger storage.Ledger, cfg *config.Config, logger *zap.Logger) (*models.StatusResponse, error) {
	points, err := index.Count(ctx, cfg.Vector.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to count points: %w", err)
	}
	resp := &models.StatusResponse{
		Collection:     cfg.Vector.Collection,
		Points:         points,
		ScoreThreshold: query.ScoreThreshold,
		Embedding:      models.EmbeddingStatus{Provider: cfg.Embedding.Provider, Model: cfg.Embedding.Model},
		VectorBackend:  cfg.Vector.Backend,
	}
	if ledger != nil {
		run, err := ledger.LastRun(ctx)
		switch {
		case err == nil:
			resp.LastRun = run
		case !errors.Is(err, models.ErrNotFound):
			utils.OrNop(logger).Warn("status: last run lookup failed", zap.Error(err))
		}
	}
	paths := append(storage.LedgerFiles(cfg.Storage.LedgerPath), cfg.Vector.SnapshotPath)
	if n, err := storage.DiskUsageBytes(paths...); err == nil {
		resp.DiskUsageBytes = n
	}
	return resp, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	respondJSON(w, status, data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
