package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/claimsagent/internal/apperr"
	"github.com/ppiankov/claimsagent/internal/model"
	"github.com/ppiankov/claimsagent/internal/worker"
)

var (
	concurrency  int
	batchTimeout time.Duration
	batchJSON    bool
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Assess many claims from a file in parallel",
	Long: `Batch assesses claims concurrently:
- Read claim ids from the input file (one per line, # starts a comment)
- Assess claims in parallel with a bounded worker count
- Print a per-claim line and a summary by risk level

Example:
  claimsagent batch claims.txt
  claimsagent batch claims.txt --concurrency 8 --timeout 5m
  claimsagent batch claims.txt --json > assessments.json`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent workers (default: concurrency.workers)")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 10*time.Minute, "total timeout for batch processing")
	batchCmd.Flags().BoolVar(&batchJSON, "json", false, "print assessments as a JSON array")
}

// batchEntry is one line of --json output.
type batchEntry struct {
	ClaimID    string            `json:"claim_id"`
	Assessment *model.Assessment `json:"assessment,omitempty"`
	Error      string            `json:"error,omitempty"`
	Kind       apperr.Kind       `json:"error_kind,omitempty"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	workers := concurrency
	if workers <= 0 {
		workers = a.cfg.Concurrency.Workers
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	creds := a.credentials(asUser)
	assessor := worker.AssessorFunc(func(ctx context.Context, claimID string) (*model.Assessment, error) {
		return a.agent.Assess(ctx, claimID, creds)
	})

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Claims Batch Assessment\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", workers)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n\n", batchTimeout)

	start := time.Now()
	processor := worker.NewBatchProcessor(assessor, workers, a.logger)
	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if batchJSON {
		entries := make([]batchEntry, 0, len(results))
		for _, r := range results {
			e := batchEntry{ClaimID: r.ClaimID, Assessment: r.Assessment}
			if r.Error != nil {
				e.Error = r.Error.Error()
				e.Kind = apperr.KindOf(r.Error)
			}
			entries = append(entries, e)
		}
		if err := writeJSON(out, entries); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			fmt.Fprintln(out, resultLine(r))
		}
	}

	summary := worker.Summarize(results)
	fmt.Fprintf(os.Stderr, "\n  Total: %d  Succeeded: %d  Failed: %d  (%v)\n",
		summary.Total, summary.Succeeded, summary.Failed, time.Since(start).Round(time.Millisecond))

	levels := make([]string, 0, len(summary.ByLevel))
	for level := range summary.ByLevel {
		levels = append(levels, string(level))
	}
	sort.Strings(levels)
	for _, level := range levels {
		fmt.Fprintf(os.Stderr, "    %-10s %d\n", level, summary.ByLevel[model.RiskLevel(level)])
	}
	fmt.Fprintln(os.Stderr)

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d claims failed", summary.Failed, summary.Total)
	}
	return nil
}

func resultLine(r *worker.ClaimResult) string {
	if r.Error != nil {
		return fmt.Sprintf("✗ %-16s %s", r.ClaimID, apperr.KindOf(r.Error))
	}
	level := "unclassified"
	if r.Assessment.Risk != nil {
		level = string(r.Assessment.Risk.RiskLevel)
	}
	line := fmt.Sprintf("✓ %-16s %-12s", r.ClaimID, level)
	if r.Assessment.Sentiment != nil {
		line += " " + string(r.Assessment.Sentiment.UrgencyLevel) + " urgency"
	}
	if n := len(r.Assessment.Warnings); n > 0 {
		line += fmt.Sprintf(" (%d warnings)", n)
	}
	return line
}
