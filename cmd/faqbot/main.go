// Package main is the faqbot CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/faqbot/internal/calibrate"
	"github.com/hyperjump/faqbot/internal/cli"
	"github.com/hyperjump/faqbot/internal/config"
	"github.com/hyperjump/faqbot/internal/embedding"
	"github.com/hyperjump/faqbot/internal/ingest"
	"github.com/hyperjump/faqbot/internal/models"
	"github.com/hyperjump/faqbot/internal/query"
	"github.com/hyperjump/faqbot/internal/server"
	"github.com/hyperjump/faqbot/internal/storage"
	"github.com/hyperjump/faqbot/internal/vector"
	"github.com/hyperjump/faqbot/internal/watcher"
	"github.com/hyperjump/faqbot/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/faqbot/config.yaml"

// loadConfig loads config from path. When path is the default, ./config.yaml is preferred if it
// exists, and when neither file exists the config is built from environment variables alone.
// Returns the config and the path that was actually loaded ("" for environment only).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			return config.FromEnv(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ask":
		runAsk()
	case "ingest":
		runIngest()
	case "compare":
		runCompare()
	case "status":
		runStatus()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("faqbot version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// mustSetup loads config and creates the logger, exiting on failure.
func mustSetup(configPath string, debugFlag bool) (*config.Config, string, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if debugFlag {
		cfg.Debug = true
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, resolved, logger
}

func mustFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	watch := fs.Bool("watch", false, "re-ingest the source file when it changes")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger := mustSetup(*configPath, *debug)
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug),
		zap.String("collection", cfg.Vector.Collection),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if *watch {
		ing := components.Ingestor
		w, err := watcher.NewWatcher(cfg.Ingest.SourcePath,
			func(path string) {
				report, err := ing.IngestFileIfChanged(watchCtx, path)
				if err != nil {
					logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
					return
				}
				if !report.Skipped {
					logger.Info("source re-ingested", zap.String("path", path), zap.Int("pairs", len(report.Pairs)))
				}
			},
			watcher.WithLogger(logger),
			watcher.WithOnRemove(func(path string) {
				logger.Warn("source removed; index keeps the last ingested pairs", zap.String("path", path))
			}),
		)
		if err != nil {
			logger.Fatal("Failed to create watcher", zap.Error(err))
		}
		if err := w.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	srv := server.NewServer(components.Service, components.Index, components.Ledger, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// argsReorder moves any flags (and their values) that appear after the positional arguments
// to the front so that flag.Parse sees them. The flag package stops at the first non-flag
// argument, so "faqbot ask 요금제 알려줘 -output json" would otherwise leave -output unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuestion joins all positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = answer directly without a running server)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	question := buildQuestion(fs.Args())
	if question == "" {
		fmt.Println("Usage: faqbot ask [flags] <question>")
		os.Exit(1)
	}
	format := mustFormat(*outputFormat)

	var result models.AnswerResult
	if *serverURL != "" {
		resp, err := askViaHTTP(*serverURL, question)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
		result = resp.Result()
	} else {
		cfg, _, logger := mustSetup(*configPath, false)
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		if result, err = components.Service.Answer(context.Background(), question); err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteAnswer(os.Stdout, result, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func askViaHTTP(serverURL, question string) (*models.AskResponse, error) {
	body, err := json.Marshal(models.AskRequest{Question: &question})
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(strings.TrimRight(serverURL, "/")+"/api/ask", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out models.AskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := mustFormat(*outputFormat)

	cfg, _, logger := mustSetup(*configPath, false)
	defer logger.Sync()

	source := cfg.Ingest.SourcePath
	if fs.NArg() > 0 {
		source = fs.Arg(0)
	}

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	report, err := components.Ingestor.IngestFile(context.Background(), source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingestion failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteIngestReport(os.Stdout, report, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runCompare() {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	pairsPath := fs.String("pairs", "", "YAML file with calibration pairs (default: built-in set)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := mustFormat(*outputFormat)

	cfg, _, logger := mustSetup(*configPath, false)
	defer logger.Sync()

	pairs := calibrate.DefaultPairs()
	if *pairsPath != "" {
		loaded, err := calibrate.LoadPairs(*pairsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load pairs: %v\n", err)
			os.Exit(1)
		}
		pairs = loaded
	}

	embedder, err := embedding.NewEmbedder(&cfg.Embedding, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize embedder: %v\n", err)
		os.Exit(1)
	}
	defer embedder.Close()

	report, err := calibrate.Run(context.Background(), embedder, pairs, cfg.Embedding.Model, query.ScoreThreshold)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Comparison failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteCalibration(os.Stdout, report, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "", "server URL (empty = read the index and ledger directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := mustFormat(*outputFormat)

	var status *models.StatusResponse
	if *serverURL != "" {
		s, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = s
	} else {
		cfg, _, logger := mustSetup(*configPath, false)
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		s, err := server.CollectStatus(context.Background(), components.Index, components.Ledger, cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = s
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*models.StatusResponse, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var s models.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", "config.yaml", "where to write the config file")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(os.Args[2:])

	if err := writeDefaultConfig(*path, *force); err != nil {
		fmt.Fprintf(os.Stderr, "Init failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s; set vector.url and vector.collection (or QDRANT_URL, QDRANT_COLLECTION) and HF_API_KEY before ingesting.\n", *path)
}

// writeDefaultConfig saves a config holding only defaults. Credentials are never written.
func writeDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return config.Save(path, cfg)
}

// Components holds initialized services.
type Components struct {
	Embedder embedding.Embedder
	Index    vector.VectorIndex
	Ledger   storage.Ledger
	Ingestor *ingest.Ingestor
	Service  *query.Service
}

func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Ledger != nil {
		_ = c.Ledger.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	embedder, err := embedding.NewEmbedder(&cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	index, err := vector.NewVectorIndex(&cfg.Vector, logger)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	c := &Components{Embedder: embedder, Index: index}

	ingestOpts := []ingest.IngestorOption{ingest.WithLogger(logger), ingest.WithSnapshot(cfg.Vector.SnapshotPath)}
	if cfg.Storage.LedgerPath != "" {
		ledger, err := storage.NewSQLiteLedger(cfg.Storage.LedgerPath)
		if err != nil {
			logger.Warn("ingestion ledger unavailable; runs will not be recorded",
				zap.String("path", cfg.Storage.LedgerPath), zap.Error(err))
		} else {
			c.Ledger = ledger
			ingestOpts = append(ingestOpts, ingest.WithLedger(ledger))
		}
	}

	c.Ingestor = ingest.NewIngestor(embedder, index, cfg.Vector.Collection, ingestOpts...)
	c.Service = query.NewService(embedder, index, cfg.Vector.Collection,
		query.WithLogger(logger),
		query.WithSearchTimeout(cfg.Query.SearchTimeout),
	)
	logger.Debug("components initialized",
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("vector_backend", cfg.Vector.Backend))
	return c, nil
}

func printUsage() {
	fmt.Println(`faqbot - semantic FAQ answering over a curated Q&A sheet

Usage:
  faqbot server [flags]             Start the HTTP server (POST /api/ask)
  faqbot ask [flags] <question>     Answer one question
  faqbot ingest [flags] [<source>]  Load Q&A pairs from a spreadsheet into the index
  faqbot compare [flags]            Report embedding similarity for related/unrelated pairs
  faqbot status [flags]             Show collection and ingestion status
  faqbot init [flags]               Write a config file with default settings
  faqbot version                    Show version
  faqbot help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/faqbot/config.yaml, then ./config.yaml)
  --debug            Enable debug logging
  --watch            Re-ingest ingest.source_path when the file changes

Ask Flags:
  --config string    Config file path (direct mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to answer without a server.
  --output string    Output format: text or json (default: text)

Ingest Flags:
  --config string    Config file path
  --output string    Output format: text or json (default: text)

Compare Flags:
  --config string    Config file path
  --pairs string     YAML file with calibration pairs (default: built-in Korean set)
  --output string    Output format: text or json (default: text)

Status Flags:
  --config string    Config file path (direct mode)
  --server string    Server URL; empty reads the index and ledger directly
  --output string    Output format: text or json (default: text)

Init Flags:
  --config string    Where to write the config file (default: config.yaml)
  --force            Overwrite an existing file

Environment:
  QDRANT_URL, QDRANT_API_KEY, QDRANT_COLLECTION, HF_API_KEY, HF_MODEL, HF_ENDPOINT,
  FAQBOT_SOURCE, FAQBOT_DEBUG override the config file.

Examples:
  faqbot ingest ./Q&A.xlsx
  faqbot server --watch
  faqbot ask Perso.ai는 어떤 서비스인가요?
  faqbot ask --output json "Perso.ai 요금제 알려줘"
  faqbot compare --pairs pairs.yaml
  faqbot status --output json`)
}
