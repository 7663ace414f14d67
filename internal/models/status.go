package models

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Collection     string          `json:"collection"`
	Points         uint64          `json:"points"`
	ScoreThreshold float64         `json:"score_threshold"`
	Embedding      EmbeddingStatus `json:"embedding"`
	VectorBackend  string          `json:"vector_backend"`
	LastRun        *IngestRun      `json:"last_run,omitempty"`
	DiskUsageBytes int64           `json:"disk_usage_bytes,omitempty"`
}

// EmbeddingStatus names the embedding provider and model.
type EmbeddingStatus struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}
