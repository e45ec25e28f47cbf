package runner

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Work is one test file scheduled on the pool.
type Work struct {
	ID   int
	File string
}

// Executor runs one test file in an isolated worker. It never fails as a whole: every
// problem is reported in the returned WorkerResult.
type Executor interface {
	Execute(ctx context.Context, work Work) WorkerResult
}

// Pool runs test files on a bounded number of concurrent workers.
type Pool struct {
	executor    Executor
	concurrency int
	log         log.Logger
	tracer      trace.Tracer

	// OnResult, if set, is called for every finished worker from the collecting goroutine.
	OnResult func(WorkerResult)
}

// NewPool creates a pool running at most concurrency workers at a time. A concurrency of 0
// uses the number of CPUs.
func NewPool(executor Executor, concurrency int, lgr log.Logger) *Pool {
	if executor == nil {
		panic("executor cannot be nil")
	}
	if concurrency < 0 {
		panic("concurrency cannot be negative")
	}
	if concurrency == 0 {
		concurrency = runtime.NumCPU()
	}
	return &Pool{
		executor:    executor,
		concurrency: concurrency,
		log:         lgr.New("component", "pool"),
		tracer:      otel.Tracer("worker pool"),
	}
}

// Concurrency returns the maximum number of workers running at once.
func (p *Pool) Concurrency() int {
	return p.concurrency
}

// Run executes one worker per file and waits for all of them. A failing or crashing worker
// never stops the remaining files. Files that could not be started because ctx was cancelled
// are reported as crashed workers.
func (p *Pool) Run(ctx context.Context, runID string, files []string) *Result {
	start := time.Now()
	if len(files) == 0 {
		p.log.Debug("No test files to run")
		return NewResult(runID, nil, time.Since(start))
	}

	ctx, span := p.tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("files", len(files)),
	))
	defer span.End()

	p.log.Info("Starting workers", "files", len(files), "concurrency", p.concurrency)

	bufferSize := min(p.concurrency*2, 100)
	workChan := make(chan Work, bufferSize)
	resultChan := make(chan WorkerResult, bufferSize)

	var wg sync.WaitGroup
	for i := 0; i < min(p.concurrency, len(files)); i++ {
		wg.Add(1)
		go p.worker(ctx, &wg, workChan, resultChan)
	}

	go func() {
		defer close(workChan)
		for i, file := range files {
			select {
			case workChan <- Work{ID: i, File: file}:
			case <-ctx.Done():
				p.log.Debug("Context cancelled while scheduling test files")
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	seen := make(map[int]bool, len(files))
	results := make([]WorkerResult, 0, len(files))
	for res := range resultChan {
		seen[res.ID] = true
		results = append(results, res)
		if res.Err != nil {
			p.log.Error("Worker failed", "file", res.File, "crashed", res.Crashed, "err", res.Err)
		}
		if p.OnResult != nil {
			p.OnResult(res)
		}
	}
	for i, file := range files {
		if !seen[i] {
			results = append(results, WorkerResult{
				ID:       i,
				File:     file,
				Failures: 1,
				Crashed:  true,
				Err:      fmt.Errorf("not started: %w", context.Cause(ctx)),
			})
		}
	}

	result := NewResult(runID, results, time.Since(start))
	span.SetAttributes(attribute.Int("failures", result.Failures))
	p.log.Info("Workers completed", "files", len(files), "failures", result.Failures,
		"crashed", result.Crashed, "duration", result.Duration)
	return result
}

func (p *Pool) worker(ctx context.Context, wg *sync.WaitGroup, workChan <-chan Work, resultChan chan<- WorkerResult) {
	defer wg.Done()
	for work := range workChan {
		p.log.Debug("Launching worker", "id", work.ID, "file", work.File)
		wctx, span := p.tracer.Start(ctx, fmt.Sprintf("worker %s", work.File))
		res := p.executor.Execute(wctx, work)
		res.ID, res.File = work.ID, work.File
		span.SetAttributes(attribute.Int("failures", res.Failures), attribute.Bool("crashed", res.Crashed))
		span.End()
		resultChan <- res
	}
}
