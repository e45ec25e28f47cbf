package runner

import (
	"sort"
	"time"

	"github.com/ethereum-optimism/infra/op-contest/exitcodes"
	"github.com/ethereum-optimism/infra/op-contest/types"
)

// WorkerResult is the outcome of running one test file in one worker.
type WorkerResult struct {
	ID       int
	File     string
	Failures int
	// Crashed is set when the worker exited abnormally or without reporting done.
	Crashed  bool
	ExitCode int
	Duration time.Duration
	Err      error
	// Tests holds the test results the worker streamed while running.
	Tests   []types.TestResult
	Deploys int
}

// Counts returns the number of passed, failed and skipped tests the worker reported.
func (r WorkerResult) Counts() (passed, failed, skipped int) {
	for _, t := range r.Tests {
		switch {
		case t.Status == types.TestStatusSkip:
			skipped++
		case t.Status.IsFailure():
			failed++
		default:
			passed++
		}
	}
	return passed, failed, skipped
}

// Failed returns the failed test results of r.
func (r WorkerResult) Failed() []types.TestResult {
	var failed []types.TestResult
	for _, t := range r.Tests {
		if t.Status.IsFailure() {
			failed = append(failed, t)
		}
	}
	return failed
}

// Result aggregates every worker of a run.
type Result struct {
	RunID    string
	Workers  []WorkerResult
	Failures int
	Crashed  int
	Duration time.Duration
}

// NewResult sums the failures of workers, ordered by worker id.
func NewResult(runID string, workers []WorkerResult, duration time.Duration) *Result {
	sorted := append([]WorkerResult(nil), workers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	r := &Result{RunID: runID, Workers: sorted, Duration: duration}
	for _, w := range sorted {
		r.Failures += w.Failures
		if w.Crashed {
			r.Crashed++
		}
	}
	return r
}

// ExitCode is the total failure count, clamped to what a process can report.
func (r *Result) ExitCode() int {
	return exitcodes.FromFailures(r.Failures)
}

// Tests returns the number of passed, failed and skipped tests over all workers.
func (r *Result) Tests() (passed, failed, skipped int) {
	for _, w := range r.Workers {
		p, f, s := w.Counts()
		passed += p
		failed += f
		skipped += s
	}
	return passed, failed, skipped
}
