package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-contest/artifacts"
	"github.com/ethereum-optimism/infra/op-contest/channel"
	"github.com/ethereum-optimism/infra/op-contest/deployer"
	"github.com/ethereum-optimism/infra/op-contest/ledger"
	"github.com/ethereum-optimism/infra/op-contest/suite"
)

// UnknownModuleError is returned when a test requires something other than a contract.
type UnknownModuleError struct {
	Module string
}

func (e *UnknownModuleError) Error() string {
	return fmt.Sprintf("unknown module %q, only %s<Name> can be required", e.Module, suite.ContractsModule)
}

// IsUnknownModuleError checks if an error is an UnknownModuleError
func IsUnknownModuleError(err error) bool {
	var target *UnknownModuleError
	return errors.As(err, &target)
}

// Env is the context the tests of one worker run in: its ledger, its deployment state and
// the readiness gate guarding both.
type Env struct {
	ledger     ledger.Ledger
	controller *deployer.Controller
	gate       *Gate
	log        log.Logger

	// OnDeploy, if set, is called after every deploy cycle.
	OnDeploy func(channel.DeployReport)
}

var _ suite.Env = (*Env)(nil)

// NewEnv creates the environment of a worker. snapshot is owned by the environment from here
// on; every deploy cycle works on a fresh clone of it.
func NewEnv(l ledger.Ledger, snapshot artifacts.Set, versions map[string]string, lgr log.Logger) *Env {
	return &Env{
		ledger:     l,
		controller: deployer.New(l, snapshot, versions, lgr),
		gate:       NewGate(),
		log:        lgr,
	}
}

// Configure closes the gate, resets the contract state and deploys req. The gate opens
// again only when the cycle succeeded.
func (e *Env) Configure(ctx context.Context, req deployer.Request) (*deployer.Result, error) {
	e.gate.Reset()
	e.controller.Reset()

	start := time.Now()
	result, err := e.controller.Deploy(ctx, req)
	report := channel.DeployReport{Duration: time.Since(start)}
	if err != nil {
		report.Error = err.Error()
	} else {
		report.Contracts = len(result.Addresses)
	}
	if e.OnDeploy != nil {
		e.OnDeploy(report)
	}
	if err != nil {
		e.log.Warn("Deploy cycle failed, contract steps stay blocked",
			"err", err, "applied_versions", e.controller.Config().Versions)
		return nil, err
	}
	e.gate.Signal()
	return result, nil
}

// Ready reports whether contract steps may run.
func (e *Env) Ready() bool {
	return e.gate.Ready()
}

func (e *Env) WaitUntilReady(ctx context.Context) error {
	return e.gate.Wait(ctx)
}

// Require returns the handle of the contract named by a "contracts/<Name>" module path.
func (e *Env) Require(module string) (suite.Contract, error) {
	name, ok := strings.CutPrefix(module, suite.ContractsModule)
	if !ok || name == "" {
		return nil, &UnknownModuleError{Module: module}
	}
	h, err := e.controller.Handle(name)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (e *Env) Accounts() []common.Address {
	if current := e.controller.Current(); current != nil {
		return current.Accounts
	}
	return ledger.Addresses(e.ledger.Accounts())
}

// Current returns the result of the last successful deploy cycle, or nil.
func (e *Env) Current() *deployer.Result {
	return e.controller.Current()
}
