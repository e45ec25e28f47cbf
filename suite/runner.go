package suite

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/go-cmp/cmp"

	"github.com/ethereum-optimism/infra/op-contest/deployer"
	"github.com/ethereum-optimism/infra/op-contest/types"
)

// Contract is what a required contract module exposes to test steps.
type Contract interface {
	Call(ctx context.Context, method string, args []any, opts deployer.TxOpts) ([]any, error)
	Transact(ctx context.Context, method string, args []any, opts deployer.TxOpts) (*gethtypes.Receipt, error)
}

// Env is the per-worker context tests run in. There is exactly one per worker process.
type Env interface {
	// Configure runs a deploy cycle for req and returns once it finished.
	Configure(ctx context.Context, req deployer.Request) (*deployer.Result, error)
	// WaitUntilReady blocks until no deploy cycle is in flight and the last one succeeded.
	WaitUntilReady(ctx context.Context) error
	// Require returns the contract behind a module path such as "contracts/Token".
	Require(module string) (Contract, error)
	// Accounts returns the accounts of the current deployment, the default first.
	Accounts() []common.Address
}

// Stats summarises a run.
type Stats struct {
	Passes   int
	Failures int
	Pending  int
	Duration time.Duration
}

// Runner executes one test file against an Env.
type Runner struct {
	File     string
	Env      Env
	Reporter Reporter
	// Timeout bounds each test case, 0 means unbounded.
	Timeout time.Duration
	// OnResult, if set, receives every test and failed hook result.
	OnResult func(types.TestResult)
	Log      log.Logger
}

// Run executes every test of s. Failures count failed test cases and failed suite hooks; a
// failed hook skips the rest of its suite.
func (r *Runner) Run(ctx context.Context, s *Suite) Stats {
	start := time.Now()
	var stats Stats
	r.runSuite(ctx, s, nil, nil, &stats)
	stats.Duration = time.Since(start)
	if r.Reporter != nil {
		r.Reporter.Done(stats)
	}
	return stats
}

func (r *Runner) runSuite(ctx context.Context, s *Suite, path []string, requires map[string]string, stats *Stats) {
	path = types.BuildHierarchyPath(append(append([]string{}, path...), s.Describe)...)
	requires = mergeRequires(requires, s.Requires)
	if r.Reporter != nil && s.Describe != "" {
		r.Reporter.SuiteStart(s.Describe, len(path)-1)
	}

	if s.Config != nil {
		start := time.Now()
		hctx, cancel := r.withTimeout(ctx)
		_, err := r.Env.Configure(hctx, *s.Config)
		cancel()
		if err != nil {
			res := types.NewTestResult(r.File, path, `"before all" hook`)
			res.Hook = true
			res.Duration = time.Since(start)
			res.Fail(err)
			stats.Failures++
			r.report(*res)
			if r.Log != nil {
				r.Log.Error("Suite hook failed, skipping suite", "suite", s.Describe, "err", err)
			}
			return
		}
	}

	for i := range s.Tests {
		res := r.runTest(ctx, &s.Tests[i], path, requires)
		switch {
		case res.Status == types.TestStatusSkip:
			stats.Pending++
		case res.Status.IsFailure():
			stats.Failures++
		default:
			stats.Passes++
		}
		r.report(res)
	}
	for i := range s.Suites {
		r.runSuite(ctx, &s.Suites[i], path, requires, stats)
	}
}

func (r *Runner) report(res types.TestResult) {
	if r.Reporter != nil {
		r.Reporter.TestEnd(res)
	}
	if r.OnResult != nil {
		r.OnResult(res)
	}
}

func (r *Runner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout > 0 {
		return context.WithTimeout(ctx, r.Timeout)
	}
	return context.WithCancel(ctx)
}

func (r *Runner) runTest(ctx context.Context, t *Test, path []string, requires map[string]string) types.TestResult {
	res := types.NewTestResult(r.File, path, t.It)
	if t.Skip {
		res.Status = types.TestStatusSkip
		return *res
	}

	start := time.Now()
	tctx, cancel := r.withTimeout(ctx)
	defer cancel()

	err := r.execTest(tctx, t, requires)
	res.Duration = time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timeout of %s exceeded: %w", r.Timeout, err)
		}
		res.Fail(err)
	}
	return *res
}

func (r *Runner) execTest(ctx context.Context, t *Test, requires map[string]string) error {
	if t.Config != nil {
		if _, err := r.Env.Configure(ctx, *t.Config); err != nil {
			return err
		}
	}
	for i, step := range t.Steps {
		if err := r.execStep(ctx, step, requires); err != nil {
			alias, method := step.Target()
			return fmt.Errorf("step #%d (%s.%s): %w", i+1, alias, method, err)
		}
	}
	return nil
}

func (r *Runner) execStep(ctx context.Context, step Step, requires map[string]string) error {
	if err := r.Env.WaitUntilReady(ctx); err != nil {
		return fmt.Errorf("contracts not ready: %w", err)
	}
	alias, method := step.Target()
	module, ok := requires[alias]
	if !ok {
		module = ContractsModule + alias
	}
	contract, err := r.Env.Require(module)
	if err != nil {
		return err
	}
	opts, err := r.txOpts(step)
	if err != nil {
		return err
	}

	if step.Send != "" {
		_, err := contract.Transact(ctx, method, step.Args, opts)
		if step.ExpectRevert {
			if err == nil {
				return errors.New("expected transaction to revert")
			}
			return nil
		}
		return err
	}

	out, err := contract.Call(ctx, method, step.Args, opts)
	if err != nil {
		return err
	}
	if !step.HasExpect() {
		return nil
	}
	want, err := step.Expected()
	if err != nil {
		return err
	}
	return compare(want, out)
}

func (r *Runner) txOpts(step Step) (deployer.TxOpts, error) {
	var opts deployer.TxOpts
	switch from := step.From.(type) {
	case nil:
	case int:
		accounts := r.Env.Accounts()
		if from < 0 || from >= len(accounts) {
			return opts, fmt.Errorf("account index %d out of range (%d accounts)", from, len(accounts))
		}
		opts.From = accounts[from]
	case string:
		if !common.IsHexAddress(from) {
			return opts, fmt.Errorf("invalid from address %q", from)
		}
		opts.From = common.HexToAddress(from)
	default:
		return opts, fmt.Errorf("invalid from %v", step.From)
	}
	if step.Value != nil {
		v, err := deployer.ToBigInt(step.Value)
		if err != nil {
			return opts, fmt.Errorf("invalid value: %w", err)
		}
		opts.Value = new(big.Int).Set(v)
	}
	return opts, nil
}

// compare checks a call's outputs against the expected value. A single output is compared
// directly, several outputs as a list.
func compare(want any, out []any) error {
	var got any
	if len(out) == 1 {
		got = deployer.Normalize(out[0])
	} else {
		got = deployer.Normalize(out)
	}
	want = deployer.Normalize(want)
	if diff := cmp.Diff(want, got); diff != "" {
		return fmt.Errorf("expected %v, got %v (-want +got):\n%s", want, got, strings.TrimSpace(diff))
	}
	return nil
}

func mergeRequires(parent, own map[string]string) map[string]string {
	if len(own) == 0 {
		return parent
	}
	merged := make(map[string]string, len(parent)+len(own))
	for k, v := range parent {
		merged[k] = v
	}
	for k, v := range own {
		merged[k] = v
	}
	return merged
}
