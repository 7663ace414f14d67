// Package config provides configuration loading and structs for the faqbot server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Query     QueryConfig     `yaml:"query"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	Tracing   bool    `yaml:"tracing"`
}

// StorageConfig holds the ingestion ledger path.
type StorageConfig struct {
	LedgerPath string `yaml:"ledger_path"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is one of "huggingface", "onnx", "mock".
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	Endpoint  string        `yaml:"endpoint"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cache_size"`
	// ONNX-only settings.
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
}

// VectorConfig selects and configures the vector index.
type VectorConfig struct {
	// Backend is one of "qdrant", "memory".
	Backend    string `yaml:"backend"`
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
	// SnapshotPath is where the memory backend saves and loads its contents.
	SnapshotPath string `yaml:"snapshot_path"`
}

// QueryConfig holds read-path settings. The score threshold is deliberately absent.
type QueryConfig struct {
	SearchTimeout time.Duration `yaml:"search_timeout"`
}

// IngestConfig holds write-path settings.
type IngestConfig struct {
	SourcePath string `yaml:"source_path"`
}

// Load reads and parses the config file at path, expands the paths it names,
// then applies environment overrides and defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Only paths written in the file are expanded; environment values are used as given.
	configDir := filepath.Dir(path)
	cfg.Storage.LedgerPath = expandPath(cfg.Storage.LedgerPath, configDir)
	cfg.Ingest.SourcePath = expandPath(cfg.Ingest.SourcePath, configDir)
	cfg.Vector.SnapshotPath = expandPath(cfg.Vector.SnapshotPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)

	ApplyEnv(&cfg, os.LookupEnv)
	ApplyDefaults(&cfg)

	return &cfg, nil
}

// FromEnv builds a config from environment variables and defaults only.
// Used when no config file exists.
func FromEnv() *Config {
	var cfg Config
	ApplyEnv(&cfg, os.LookupEnv)
	ApplyDefaults(&cfg)
	return &cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
