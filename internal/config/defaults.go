package config

import (
	"strconv"
	"time"
)

// DefaultHFEndpoint is the Hugging Face serverless inference base URL.
const DefaultHFEndpoint = "https://router.huggingface.co/hf-inference/models"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = int(cfg.Server.RateLimit) + 1
	}
	if cfg.Storage.LedgerPath == "" {
		cfg.Storage.LedgerPath = "/usr/local/var/faqbot/data/ledger.db"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "huggingface"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nlpai-lab/KoE5"
	}
	if cfg.Embedding.Endpoint == "" {
		cfg.Embedding.Endpoint = DefaultHFEndpoint
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 10 * time.Second
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1024
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "qdrant"
	}
	if cfg.Query.SearchTimeout == 0 {
		cfg.Query.SearchTimeout = 5 * time.Second
	}
	if cfg.Ingest.SourcePath == "" {
		cfg.Ingest.SourcePath = "./Q&A.xlsx"
	}
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg fields from environment variables. Set-but-empty values are ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("QDRANT_URL", &cfg.Vector.URL)
	str("QDRANT_API_KEY", &cfg.Vector.APIKey)
	str("QDRANT_COLLECTION", &cfg.Vector.Collection)
	str("HF_API_KEY", &cfg.Embedding.APIKey)
	str("HF_MODEL", &cfg.Embedding.Model)
	str("HF_ENDPOINT", &cfg.Embedding.Endpoint)
	str("FAQBOT_SOURCE", &cfg.Ingest.SourcePath)
	if v, ok := lookup("FAQBOT_DEBUG"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
}
