// Package cli renders command results for the faqbot CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/faqbot/internal/calibrate"
	"github.com/hyperjump/faqbot/internal/ingest"
	"github.com/hyperjump/faqbot/internal/models"
	"github.com/hyperjump/faqbot/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// WriteAnswer writes the answer to one question.
func WriteAnswer(w io.Writer, result models.AnswerResult, format OutputFormat) error {
	if format == OutputJSON {
		resp, err := models.NewAskResponse(result)
		if err != nil {
			return err
		}
		return writeJSON(w, resp)
	}
	switch r := result.(type) {
	case *models.Matched:
		_, err := fmt.Fprintf(w, "%s\n\n(matched %q, score %.4f)\n", r.Answer, r.Question, r.Score)
		return err
	case *models.Unmatched:
		_, err := fmt.Fprintf(w, "%s\n", r.Reason)
		return err
	default:
		return fmt.Errorf("unknown answer result %T", result)
	}
}

// WriteStatus writes collection and ingestion status.
func WriteStatus(w io.Writer, status *models.StatusResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	fmt.Fprintf(w, "collection:         %s\n", status.Collection)
	fmt.Fprintf(w, "points:             %d   # records in the vector index\n", status.Points)
	fmt.Fprintf(w, "score_threshold:    %.2f\n", status.ScoreThreshold)
	fmt.Fprintf(w, "embedding:          %s (%s)\n", status.Embedding.Model, status.Embedding.Provider)
	fmt.Fprintf(w, "vector_backend:     %s\n", status.VectorBackend)
	if status.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # ledger + snapshot on disk\n", status.DiskUsageBytes)
	}
	if run := status.LastRun; run != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# last ingestion")
		writeRun(w, run)
	}
	return nil
}

func writeRun(w io.Writer, run *models.IngestRun) {
	fmt.Fprintf(w, "run_id:             %s\n", run.ID)
	fmt.Fprintf(w, "source:             %s\n", run.Source)
	fmt.Fprintf(w, "fingerprint:        %s\n", run.Fingerprint)
	fmt.Fprintf(w, "pairs:              %d\n", run.PairCount)
	fmt.Fprintf(w, "finished_at:        %s (%s)\n",
		run.FinishedAt.Format(time.RFC3339), run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	if len(run.StaleIDs) > 0 {
		fmt.Fprintf(w, "stale_ids:          %v   # left over from a longer source\n", run.StaleIDs)
	}
}

// WriteIngestReport writes the outcome of an ingestion run.
func WriteIngestReport(w io.Writer, report *ingest.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	if report.Skipped {
		_, err := fmt.Fprintln(w, "Source unchanged since last run; nothing ingested.")
		return err
	}
	fmt.Fprintf(w, "Ingested %d Q&A pair(s)\n\n", len(report.Pairs))
	for i, p := range report.Pairs {
		fmt.Fprintf(w, "%3d  %s\n", i+1, utils.Truncate(p.Question, 60))
	}
	if report.Run != nil {
		fmt.Fprintln(w)
		writeRun(w, report.Run)
	}
	if len(report.Stale) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# still searchable from earlier runs")
		for _, r := range report.Stale {
			fmt.Fprintf(w, "%3d  %s\n", r.ID, utils.Truncate(r.Question, 60))
		}
	}
	return nil
}

// WriteCalibration writes per-pair similarities and the positive/negative means.
func WriteCalibration(w io.Writer, report *calibrate.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "model: %s   threshold: %.2f\n\n", report.Label, report.Threshold)
	for _, r := range report.Results {
		tag := "POS"
		if r.Kind == calibrate.Negative {
			tag = "NEG"
		}
		mark := ""
		if !r.Separated {
			mark = "   <- wrong side of threshold"
		}
		fmt.Fprintf(w, "[%s] %s: %.4f%s\n", tag, r.Name, r.Score, mark)
	}
	fmt.Fprintf(w, "\nPOS mean: %.4f\nNEG mean: %.4f\n", report.PositiveMean, report.NegativeMean)
	if n := report.Misclassified(); n > 0 {
		fmt.Fprintf(w, "%d of %d pair(s) on the wrong side of the threshold\n", n, len(report.Results))
	}
	return nil
}
