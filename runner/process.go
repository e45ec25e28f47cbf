package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-contest/channel"
	"github.com/ethereum-optimism/infra/op-contest/metrics"
)

// WorkerCommand is the subcommand a worker process is started with.
const WorkerCommand = "worker"

var _ Executor = (*ProcessExecutor)(nil)

// ProcessExecutor runs every test file in a fresh process, by default the running binary
// invoked with the worker subcommand.
type ProcessExecutor struct {
	// Binary defaults to the running executable.
	Binary string
	// Args defaults to the worker subcommand.
	Args []string
	// Env is appended to the orchestrator's environment.
	Env []string
	// Options is sent to every worker with File set to the worker's test file.
	Options channel.Options
	// Relay receives the workers' output, prefixed with their file name.
	Relay io.Writer
	// TailLines of output are kept for crash reports.
	TailLines int
	RunID     string
	Log       log.Logger

	cmdBuilder func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// Execute launches the worker for work, sends it the init request and waits for it to exit.
// A worker that crashes, or exits without reporting done, counts at least one failure.
func (e *ProcessExecutor) Execute(ctx context.Context, work Work) WorkerResult {
	start := time.Now()
	lgr := e.Log
	if lgr == nil {
		lgr = log.Root()
	}
	lgr = lgr.New("file", work.File)
	res := WorkerResult{ID: work.ID, File: work.File}

	binary := e.Binary
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return crashed(res, -1, fmt.Errorf("failed to locate worker binary: %w", err), start)
		}
		binary = self
	}
	args := e.Args
	if args == nil {
		args = []string{WorkerCommand}
	}
	newCmd := e.cmdBuilder
	if newCmd == nil {
		newCmd = exec.CommandContext
	}
	cmd := newCmd(ctx, binary, args...)
	cmd.Env = telemetry.InstrumentEnvironment(ctx, append(os.Environ(), e.Env...))

	proc := channel.NewProcess(cmd, channel.ProcessConfig{
		Prefix:    fmt.Sprintf("[%s] ", filepath.Base(work.File)),
		Relay:     e.Relay,
		TailLines: e.TailLines,
		Log:       lgr,
	})
	// Handlers run on the single goroutine reading the worker's messages, and Wait returns
	// only after that goroutine finished.
	reported := 0
	proc.Once(channel.ResultInitiated, func(channel.Response) {
		lgr.Debug("Worker initiated", "pid", proc.Pid())
	})
	proc.On(channel.ResultTest, func(resp channel.Response) {
		if resp.Test == nil {
			return
		}
		res.Tests = append(res.Tests, *resp.Test)
		metrics.RecordTest(e.RunID, resp.Test.Status)
	})
	proc.On(channel.ResultDeploy, func(resp channel.Response) {
		if resp.Deploy == nil {
			return
		}
		res.Deploys++
		metrics.RecordDeploy(e.RunID, resp.Deploy.Error, resp.Deploy.Duration)
	})
	proc.Once(channel.ResultDone, func(resp channel.Response) {
		reported = resp.Failures
	})

	if err := proc.Start(); err != nil {
		return crashed(res, -1, err, start)
	}
	metrics.WorkerStarted()

	opts := e.Options
	opts.File = work.File
	sendErr := proc.Send(channel.Request{Action: channel.ActionInit, Options: &opts})
	if sendErr != nil {
		lgr.Error("Failed to initialize worker", "err", sendErr)
	}

	err := proc.Wait()
	if err == nil && sendErr != nil {
		err = sendErr
	}
	res.Failures = reported
	res.Duration = time.Since(start)
	if err != nil {
		exitCode := -1
		var crash *channel.CrashError
		if errors.As(err, &crash) {
			exitCode = crash.ExitCode
			lgr.Error("Worker crashed", "exitCode", exitCode, "err", crash.Err, "output", crash.Output)
		}
		res = crashed(res, exitCode, err, start)
		res.Failures = max(1, reported)
		metrics.RecordWorker(e.RunID, metrics.WorkerCrashed, res.Duration)
		return res
	}

	outcome := metrics.WorkerPassed
	if res.Failures > 0 {
		outcome = metrics.WorkerFailed
	}
	metrics.RecordWorker(e.RunID, outcome, res.Duration)
	lgr.Debug("Worker finished", "failures", res.Failures, "tests", len(res.Tests), "duration", res.Duration)
	return res
}

// crashed marks res as a crashed worker worth one failure.
func crashed(res WorkerResult, exitCode int, err error, start time.Time) WorkerResult {
	res.Crashed = true
	res.ExitCode = exitCode
	res.Err = err
	res.Failures = 1
	res.Duration = time.Since(start)
	return res
}
