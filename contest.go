// Package contest runs smart contract test files in isolated worker processes: it builds the
// contract artifacts once, launches one worker per test file on a bounded pool, and turns
// the summed failures into the process exit status.
package contest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-contest/artifacts"
	"github.com/ethereum-optimism/infra/op-contest/channel"
	"github.com/ethereum-optimism/infra/op-contest/exitcodes"
	"github.com/ethereum-optimism/infra/op-contest/metrics"
	"github.com/ethereum-optimism/infra/op-contest/runner"
	"github.com/ethereum-optimism/infra/op-contest/service"
	"github.com/ethereum-optimism/infra/op-contest/testlist"
)

// TestModeEnv is set to "true" for the whole run. Workers and the compiler inherit it.
const TestModeEnv = "CONTEST_TEST_MODE"

// contest implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &contest{}

// contest runs every test file of a project once.
type contest struct {
	config  *Config
	version string
	runID   string
	tracer  trace.Tracer

	builder  artifacts.Builder
	executor runner.Executor // nil runs every file in a worker process
	stdout   io.Writer
	relay    io.Writer
	service  *service.Service

	// worker process overrides, used by tests
	workerBinary string
	workerArgs   []string
	workerEnv    []string

	result  *runner.Result
	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(config *Config, version string, shutdownCallback func(error)) (*contest, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		return nil, errors.New("config.Log is required")
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}
	runID := uuid.New().String()
	config.Log = config.Log.New("run_id", runID)
	config.Log.Debug("Creating contest with config",
		"testPath", config.TestPath,
		"contracts", config.ContractsDir,
		"artifacts", config.ArtifactsDir,
		"concurrency", config.Concurrency,
		"testTimeout", config.TestTimeout)

	return &contest{
		config:           config,
		version:          version,
		runID:            runID,
		tracer:           otel.Tracer("contest"),
		builder:          config.Builder(),
		stdout:           os.Stdout,
		relay:            channel.NewSyncWriter(os.Stderr),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the test files once.
// Start implements the cliapp.Lifecycle interface.
func (c *contest) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			c.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()
	c.running.Store(true)

	if c.config.Metrics {
		c.service = service.New(c.config.Service, c.config.Log)
		c.service.Start(ctx)
	}

	result, err := c.Run(ctx)
	if err != nil {
		c.config.Log.Error("Run failed", "error", err)
		return err
	}
	if result.Failures > 0 {
		c.config.Log.Warn("Run completed with failures", "failures", result.Failures)
		return NewTestFailureError(result.Failures)
	}

	go func() {
		c.shutdownCallback(nil)
	}()
	return nil
}

// Run builds the artifacts, runs every test file in its own worker and prints the summary.
// The build directory is removed on every return path.
func (c *contest) Run(ctx context.Context) (*runner.Result, error) {
	ctx, span := c.tracer.Start(ctx, "contest run", trace.WithAttributes(attribute.String("run_id", c.runID)))
	defer span.End()
	start := time.Now()

	if err := os.Setenv(TestModeEnv, "true"); err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to set %s: %w", TestModeEnv, err))
	}
	defer c.cleanup()

	set, err := c.build(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	files, err := testlist.Discover(c.config.TestPath)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, NewRuntimeError(err)
	}
	if len(files) == 0 {
		c.config.Log.Warn("No test files found", "path", c.config.TestPath)
	}

	pool := runner.NewPool(c.newExecutor(set), c.config.Concurrency, c.config.Log)
	pool.OnResult = progressLogger(c.config.Log, len(files))
	result := pool.Run(ctx, c.runID, files)
	result.Duration = time.Since(start)
	c.result = result

	metrics.RecordRun(c.runID, result.Failures, result.Duration)
	span.SetAttributes(attribute.Int("files", len(files)), attribute.Int("failures", result.Failures))
	c.printSummary(result)
	c.config.Log.Info("Test run completed", "files", len(files), "failures", result.Failures, "duration", result.Duration)
	return result, nil
}

func (c *contest) build(ctx context.Context) (artifacts.Set, error) {
	ctx, span := c.tracer.Start(ctx, "build")
	defer span.End()

	start := time.Now()
	set, err := c.builder.Build(ctx)
	metrics.RecordBuild(c.runID, err, time.Since(start))
	if err != nil {
		metrics.RecordErrorDetails("build", err)
		return nil, NewBuildError(err)
	}
	c.config.Log.Info("Built contracts", "contracts", len(set), "duration", time.Since(start))
	return set, nil
}

func (c *contest) newExecutor(set artifacts.Set) runner.Executor {
	if c.executor != nil {
		return c.executor
	}
	return &runner.ProcessExecutor{
		Binary: c.workerBinary,
		Args:   c.workerArgs,
		Env:    c.workerEnv,
		Options: channel.Options{
			Artifacts:   set,
			Ledger:      c.config.Ledger,
			Versions:    c.config.Versions,
			TestTimeout: c.config.TestTimeout,
			Colors:      c.config.Colors,
		},
		Relay: c.relay,
		RunID: c.runID,
		Log:   c.config.Log,
	}
}

// cleanup removes the transient build directory, and its parent when that is left empty.
func (c *contest) cleanup() {
	if c.config.BuildDir == "" {
		return
	}
	if err := os.RemoveAll(c.config.BuildDir); err != nil {
		c.config.Log.Warn("Failed to remove build directory", "dir", c.config.BuildDir, "err", err)
		return
	}
	_ = os.Remove(filepath.Dir(c.config.BuildDir))
}

// Stop stops the contest service.
// Stop implements the cliapp.Lifecycle interface.
func (c *contest) Stop(ctx context.Context) error {
	if !c.running.Load() {
		c.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	c.running.Store(false)
	if c.service != nil {
		c.service.Shutdown()
	}
	return nil
}

// Stopped returns true if the contest service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (c *contest) Stopped() bool {
	return !c.running.Load()
}

// progressLogger logs every finished test file together with how many of total are done.
func progressLogger(lgr log.Logger, total int) func(runner.WorkerResult) {
	done := 0
	return func(res runner.WorkerResult) {
		done++
		lgr.Info("Test file finished",
			"file", res.File, "failures", res.Failures, "crashed", res.Crashed,
			"progress", fmt.Sprintf("%d/%d", done, total))
	}
}
