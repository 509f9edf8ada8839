package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/claimsagent/internal/logging"
	"github.com/ppiankov/claimsagent/internal/model"
)

// Assessor runs the full assessment for one claim.
type Assessor interface {
	Assess(ctx context.Context, claimID string) (*model.Assessment, error)
}

// AssessorFunc adapts a function to Assessor
type AssessorFunc func(ctx context.Context, claimID string) (*model.Assessment, error)

func (f AssessorFunc) Assess(ctx context.Context, claimID string) (*model.Assessment, error) {
	return f(ctx, claimID)
}

// ClaimJob assesses a single claim
type ClaimJob struct {
	Index    int
	ClaimID  string
	Assessor Assessor
}

// Execute executes the claim job
func (j *ClaimJob) Execute(ctx context.Context) Result {
	start := time.Now()
	assessment, err := j.Assessor.Assess(ctx, j.ClaimID)
	return &ClaimResult{
		Index:      j.Index,
		ClaimID:    j.ClaimID,
		Assessment: assessment,
		Error:      err,
		Elapsed:    time.Since(start),
	}
}

// ClaimResult represents the result of a claim job
type ClaimResult struct {
	Index      int
	ClaimID    string
	Assessment *model.Assessment
	Error      error
	Elapsed    time.Duration
}

// GetError returns the error from the claim result
func (r *ClaimResult) GetError() error {
	return r.Error
}

// BatchProcessor assesses many claims concurrently
type BatchProcessor struct {
	assessor    Assessor
	concurrency int
	logger      *zap.Logger
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(assessor Assessor, concurrency int, logger *zap.Logger) *BatchProcessor {
	return &BatchProcessor{
		assessor:    assessor,
		concurrency: concurrency,
		logger:      logging.OrNop(logger),
	}
}

// ProcessClaims assesses claimIDs concurrently. Results come back in input
// order; claims never started because ctx ended carry ctx's error.
func (b *BatchProcessor) ProcessClaims(ctx context.Context, claimIDs []string) []*ClaimResult {
	if len(claimIDs) == 0 {
		return []*ClaimResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()
	defer pool.Shutdown()

	go func() {
		defer pool.Close()
		for i, id := range claimIDs {
			if !pool.Submit(&ClaimJob{Index: i, ClaimID: id, Assessor: b.assessor}) {
				return
			}
		}
	}()

	ordered := make([]*ClaimResult, len(claimIDs))
	for result := range pool.Results() {
		r := result.(*ClaimResult)
		ordered[r.Index] = r
		if r.Error != nil {
			b.logger.Warn("claim assessment failed", zap.String("claim_id", r.ClaimID), zap.Error(r.Error))
		}
	}

	for i, r := range ordered {
		if r != nil {
			continue
		}
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		ordered[i] = &ClaimResult{Index: i, ClaimID: claimIDs[i], Error: err}
	}
	return ordered
}

// ProcessFile reads claim IDs from a file and assesses them concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*ClaimResult, error) {
	ids, err := ReadClaimIDsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read claim IDs: %w", err)
	}

	return b.ProcessClaims(ctx, ids), nil
}

// ReadClaimIDsFromFile reads claim IDs from a file (one per line)
func ReadClaimIDsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var ids []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			ids = append(ids, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return ids, nil
}

// Summary counts batch outcomes
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	ByLevel   map[model.RiskLevel]int
}

// Summarize tallies results
func Summarize(results []*ClaimResult) Summary {
	s := Summary{Total: len(results), ByLevel: make(map[model.RiskLevel]int)}
	for _, r := range results {
		if r.Error != nil {
			s.Failed++
			continue
		}
		s.Succeeded++
		if r.Assessment != nil && r.Assessment.Risk != nil {
			s.ByLevel[r.Assessment.Risk.RiskLevel]++
		}
	}
	return s
}
