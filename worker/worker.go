// Package worker runs one test file in its own process. It receives its options from the
// orchestrator over the channel, owns a private ledger and deployment state, and reports the
// number of failed tests once the file completed.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-contest/channel"
	"github.com/ethereum-optimism/infra/op-contest/ledger"
	"github.com/ethereum-optimism/infra/op-contest/suite"
	"github.com/ethereum-optimism/infra/op-contest/types"
)

// Config attaches a worker to its orchestrator.
type Config struct {
	Endpoint *channel.Endpoint
	// Report receives the reporter output. In a worker process this is stderr.
	Report io.Writer
	Log    log.Logger
}

// Worker is bound to exactly one test file.
type Worker struct {
	file     string
	suite    *suite.Suite
	env      *Env
	ledger   ledger.Ledger
	runner   *suite.Runner
	endpoint *channel.Endpoint
	log      log.Logger
}

// New initializes a worker from the options sent by the orchestrator: it starts the ledger,
// seeds the deployment state with the artifact snapshot and loads the test file.
func New(ctx context.Context, opts channel.Options, cfg Config) (*Worker, error) {
	lgr := cfg.Log
	if lgr == nil {
		lgr = log.Root()
	}
	lgr = lgr.New("file", opts.File)

	s, err := suite.Load(opts.File)
	if err != nil {
		return nil, err
	}
	l, err := ledger.New(ctx, opts.Ledger, lgr)
	if err != nil {
		return nil, fmt.Errorf("failed to start ledger: %w", err)
	}

	w := &Worker{
		file:     opts.File,
		suite:    s,
		ledger:   l,
		env:      NewEnv(l, opts.Artifacts, opts.Versions, lgr),
		endpoint: cfg.Endpoint,
		log:      lgr,
	}
	w.env.OnDeploy = w.reportDeploy

	report := cfg.Report
	if report == nil {
		report = io.Discard
	}
	w.runner = &suite.Runner{
		File:     opts.File,
		Env:      w.env,
		Reporter: suite.NewSpecReporter(report, opts.Colors),
		Timeout:  opts.TestTimeout,
		OnResult: w.reportTest,
		Log:      lgr,
	}
	return w, nil
}

// Env returns the worker's test environment.
func (w *Worker) Env() *Env {
	return w.env
}

// Start runs every test of the file and returns the number of failures.
func (w *Worker) Start(ctx context.Context) int {
	w.log.Debug("Running test file", "tests", w.suite.CountTests(), "chainID", w.ledger.ChainID())
	stats := w.runner.Run(ctx, w.suite)
	w.log.Debug("Test file completed", "passes", stats.Passes, "failures", stats.Failures,
		"pending", stats.Pending, "duration", stats.Duration)
	return stats.Failures
}

// Close releases the ledger.
func (w *Worker) Close() error {
	return w.ledger.Close()
}

func (w *Worker) reportTest(res types.TestResult) {
	if w.endpoint == nil {
		return
	}
	if err := w.endpoint.Send(channel.Response{Result: channel.ResultTest, Test: &res}); err != nil {
		w.log.Warn("Failed to report test result", "test", res.Title, "err", err)
	}
}

func (w *Worker) reportDeploy(report channel.DeployReport) {
	if w.endpoint == nil {
		return
	}
	if err := w.endpoint.Send(channel.Response{Result: channel.ResultDeploy, Deploy: &report}); err != nil {
		w.log.Warn("Failed to report deploy cycle", "err", err)
	}
}

// Serve runs the worker protocol on cfg.Endpoint: it waits for the init request, answers
// initiated, runs the test file and reports done with the failure count. The run is
// cancelled when the orchestrator closes the channel early.
func Serve(ctx context.Context, cfg Config) error {
	if cfg.Endpoint == nil {
		return errors.New("worker endpoint is required")
	}
	req, err := cfg.Endpoint.Receive()
	if err != nil {
		return fmt.Errorf("failed to receive init request: %w", err)
	}
	if req.Action != channel.ActionInit || req.Options == nil {
		return fmt.Errorf("expected %s request with options, got %q", channel.ActionInit, req.Action)
	}

	w, err := New(ctx, *req.Options, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			w.log.Warn("Failed to close ledger", "err", err)
		}
	}()
	if err := cfg.Endpoint.Send(channel.Response{Result: channel.ResultInitiated}); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.watchOrchestrator(cancel)

	failures := w.Start(ctx)
	return cfg.Endpoint.Send(channel.Response{Result: channel.ResultDone, Failures: failures})
}

// watchOrchestrator drains the channel after init. The orchestrator sends nothing else, so
// a closed channel means it went away.
func (w *Worker) watchOrchestrator(cancel context.CancelFunc) {
	for {
		req, err := w.endpoint.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				w.log.Warn("Orchestrator closed the channel, cancelling run")
			} else {
				w.log.Warn("Orchestrator channel failed, cancelling run", "err", err)
			}
			cancel()
			return
		}
		w.log.Debug("Ignoring request", "action", req.Action)
	}
}
