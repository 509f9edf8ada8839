package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/claimsagent/internal/model"
)

// countingAssessor records executions and tracks peak concurrency.
type countingAssessor struct {
	delay    time.Duration
	failIDs  map[string]bool
	executed int32
	current  int32
	peak     int32
}

func (a *countingAssessor) Assess(ctx context.Context, claimID string) (*model.Assessment, error) {
	atomic.AddInt32(&a.executed, 1)
	cur := atomic.AddInt32(&a.current, 1)
	defer atomic.AddInt32(&a.current, -1)
	for {
		peak := atomic.LoadInt32(&a.peak)
		if cur <= peak || atomic.CompareAndSwapInt32(&a.peak, peak, cur) {
			break
		}
	}

	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.failIDs[claimID] {
		return nil, errors.New("claims system unavailable")
	}
	return &model.Assessment{Claim: model.ClaimRecord{ClaimID: claimID}}, nil
}

func claimJob(i int, a Assessor) *ClaimJob {
	return &ClaimJob{Index: i, ClaimID: fmt.Sprintf("CLM%03d", i), Assessor: a}
}

func TestNewPool(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{5, 5},
		{0, 1},
		{-1, 1},
	}
	for _, tt := range tests {
		if p := NewPool(context.Background(), tt.in); p.workers != tt.want {
			t.Errorf("NewPool(%d): expected %d workers, got %d", tt.in, tt.want, p.workers)
		}
	}
}

func TestPool_Execution(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()

	assessor := &countingAssessor{}
	count := 10
	for i := 0; i < count; i++ {
		pool.Submit(claimJob(i, assessor))
	}

	results := pool.Wait()
	if len(results) != count {
		t.Errorf("expected %d results, got %d", count, len(results))
	}
	if got := atomic.LoadInt32(&assessor.executed); got != int32(count) {
		t.Errorf("expected %d assessments, got %d", count, got)
	}
}

func TestPool_ConcurrencyBounded(t *testing.T) {
	workers := 10
	pool := NewPool(context.Background(), workers)
	pool.Start()

	assessor := &countingAssessor{delay: 10 * time.Millisecond}
	go func() {
		defer pool.Close()
		for i := 0; i < 50; i++ {
			pool.Submit(claimJob(i, assessor))
		}
	}()

	received := 0
	for range pool.Results() {
		received++
	}

	if received != 50 {
		t.Errorf("expected 50 results, got %d", received)
	}
	peak := atomic.LoadInt32(&assessor.peak)
	if peak > int32(workers) {
		t.Errorf("peak concurrency %d exceeded workers %d", peak, workers)
	}
	if peak <= 1 {
		t.Logf("Warning: peak concurrency was %d, expected > 1", peak)
	}
}

func TestPool_ErrorHandling(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()

	assessor := &countingAssessor{failIDs: map[string]bool{"CLM000": true}}
	pool.Submit(claimJob(0, assessor))
	pool.Submit(claimJob(1, assessor))

	results := pool.Wait()
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	failed := 0
	for _, res := range results {
		if res.GetError() != nil {
			failed++
			if id := res.(*ClaimResult).ClaimID; id != "CLM000" {
				t.Errorf("unexpected failure for %s", id)
			}
		}
	}
	if failed != 1 {
		t.Errorf("expected 1 error, got %d", failed)
	}
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()
	pool.Shutdown()

	done := make(chan struct{})
	go func() {
		if pool.Submit(claimJob(0, &countingAssessor{})) {
			t.Error("Submit after shutdown should report false")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Submit after shutdown blocked")
	}
}

func TestPool_ShutdownCancelsRunningJobs(t *testing.T) {
	pool := NewPool(context.Background(), 1)
	pool.Start()

	assessor := &countingAssessor{delay: 5 * time.Second}
	pool.Submit(claimJob(0, assessor))
	for atomic.LoadInt32(&assessor.executed) == 0 {
		time.Sleep(time.Millisecond)
	}

	done := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Shutdown did not cancel the running job")
	}
}

func TestPool_ParentContextCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, 1)
	pool.Start()

	assessor := &countingAssessor{delay: 5 * time.Second}
	pool.Submit(claimJob(0, assessor))
	for atomic.LoadInt32(&assessor.executed) == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	pool.Close()

	done := make(chan struct{})
	go func() {
		for res := range pool.Results() {
			// a result may or may not be delivered once cancelled
			if err := res.GetError(); !errors.Is(err, context.Canceled) {
				t.Errorf("expected cancellation, got %v", err)
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("results not closed after parent cancel")
	}
}
