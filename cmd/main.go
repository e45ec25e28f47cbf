package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"

	contest "github.com/ethereum-optimism/infra/op-contest"
	"github.com/ethereum-optimism/infra/op-contest/channel"
	"github.com/ethereum-optimism/infra/op-contest/flags"
	"github.com/ethereum-optimism/infra/op-contest/runner"
	"github.com/ethereum-optimism/infra/op-contest/worker"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-contest"
	app.Usage = "Smart contract test runner"
	app.Description = "op-contest builds contracts once and runs every test file against its own ledger in a separate worker process"
	app.ArgsUsage = "[test file or directory]"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.Commands = []*cli.Command{
		{
			Name:      "run",
			Usage:     "Run the test files once (default)",
			ArgsUsage: "[test file or directory]",
			Flags:     cliapp.ProtectFlags(flags.Flags),
			Action:    cliapp.LifecycleCmd(run),
		},
		{
			Name:   runner.WorkerCommand,
			Usage:  "Run a single test file, driven over stdin and stdout",
			Hidden: true,
			Flags:  cliapp.ProtectFlags(oplog.CLIFlags(flags.EnvVarPrefix)),
			Action: runWorker,
		},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			// Test failures carry their own exit code
			cli.HandleExitCoder(exitErr)
			return
		}
		cli.HandleExitCoder(cli.Exit(err.Error(), contest.ExitCode(err)))
	}

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := contest.NewConfig(ctx, log)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, contest.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "config", cfg)

	c, err := contest.New(cfg, Version, closeApp)
	if err != nil {
		return nil, contest.NewRuntimeError(fmt.Errorf("failed to create contest: %w", err))
	}
	return c, nil
}

// runWorker serves one test file for the orchestrator. Stdout carries the message channel, so
// logs and the test report go to stderr.
func runWorker(ctx *cli.Context) error {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(os.Stderr, logCfg)
	oplog.SetGlobalLogHandler(log.Handler())

	err := worker.Serve(ctx.Context, worker.Config{
		Endpoint: channel.NewEndpoint(os.Stdin, os.Stdout),
		Report:   os.Stderr,
		Log:      log,
	})
	if err != nil {
		return contest.NewRuntimeError(err)
	}
	return nil
}
