// Package deployer runs deploy cycles against a worker's ledger and keeps the live contract
// handles tests interact with.
package deployer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-contest/artifacts"
	"github.com/ethereum-optimism/infra/op-contest/ledger"
)

// Controller owns one worker's deployment state. Deploy cycles are expected to run one at
// a time; handle lookups may happen concurrently.
type Controller struct {
	ledger   ledger.Ledger
	snapshot artifacts.Set
	defaults map[string]string
	log      log.Logger
	tracer   trace.Tracer

	mu        sync.Mutex
	contracts artifacts.Set // working copy of the running cycle
	bound     artifacts.Set // contracts as of the last successful cycle
	config    Request
	current   *Result
	handles   map[string]*Handle
}

// New creates a controller deploying clones of snapshot to l. defaultVersions fill in
// versions a request leaves out.
func New(l ledger.Ledger, snapshot artifacts.Set, defaultVersions map[string]string, log log.Logger) *Controller {
	return &Controller{
		ledger:    l,
		snapshot:  snapshot,
		defaults:  defaultVersions,
		log:       log.New("component", "deployer"),
		tracer:    otel.Tracer("deployer"),
		contracts: snapshot.Clone(),
		bound:     snapshot.Clone(),
		handles:   make(map[string]*Handle),
	}
}

// Reset drops the working contract state in favour of a fresh clone of the snapshot.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contracts = c.snapshot.Clone()
}

// Current returns the result of the last successful cycle, or nil.
func (c *Controller) Current() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Config returns the configuration applied by the last successful cycle.
func (c *Controller) Config() Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// Deploy runs one deploy cycle on a fresh clone of the snapshot: deploy the requested
// contracts, resolve accounts and rebind every handle. The cycle stops at the first error,
// in which case the previous result, configuration and handle bindings stay in place.
func (c *Controller) Deploy(ctx context.Context, req Request) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "deploy")
	defer span.End()
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.deployLocked(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Error("Deploy cycle failed", "err", err, "duration", time.Since(start))
		return nil, err
	}
	span.SetAttributes(attribute.Int("contracts", len(result.Addresses)))
	c.log.Debug("Deploy cycle completed", "contracts", len(result.Addresses), "duration", time.Since(start))
	return result, nil
}

func (c *Controller) deployLocked(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, &DeployError{Err: err}
	}
	req = req.WithDefaultVersions(c.defaults)
	c.contracts = c.snapshot.Clone()

	order, err := req.deployOrder()
	if err != nil {
		return nil, &DeployError{Err: err}
	}
	accounts := c.ledger.Accounts()
	if len(accounts) == 0 {
		return nil, &DeployError{Err: fmt.Errorf("ledger has no accounts")}
	}

	addresses := make(map[string]common.Address, len(order))
	resolve := func(name string) (common.Address, bool) {
		addr, ok := addresses[name]
		return addr, ok
	}
	for _, name := range order {
		addr, err := c.deployContract(ctx, name, req.Contracts[name], accounts[0], resolve)
		if err != nil {
			return nil, &DeployError{Contract: name, Err: err}
		}
		addresses[name] = addr
	}

	result := &Result{
		Addresses: addresses,
		Accounts:  ledger.Addresses(accounts),
		Default:   accounts[0].Address,
		Versions:  req.Versions,
	}
	c.bindHandles(req, accounts, result)
	c.bound = c.contracts.Clone()
	c.config = req
	c.current = result
	return result, nil
}

func (c *Controller) deployContract(ctx context.Context, name string, cfg ContractConfig, from ledger.Account, resolve AddressResolver) (common.Address, error) {
	source := name
	if cfg.InstanceOf != "" {
		source = cfg.InstanceOf
	}
	art, ok := c.contracts[source]
	if !ok {
		return common.Address{}, fmt.Errorf("unknown contract %s", source)
	}
	if !art.Deployable() {
		return common.Address{}, fmt.Errorf("contract %s has no bytecode", source)
	}
	parsed, err := art.ParseABI()
	if err != nil {
		return common.Address{}, err
	}
	args, err := ConvertArgs(parsed.Constructor.Inputs, cfg.Args, resolve)
	if err != nil {
		return common.Address{}, fmt.Errorf("constructor: %w", err)
	}

	opts, err := ledger.Transactor(c.ledger, from)
	if err != nil {
		return common.Address{}, err
	}
	opts.Context = ctx
	opts.GasLimit = cfg.GasLimit()

	addr, tx, _, err := bind.DeployContract(opts, parsed, art.Bytecode, c.ledger.Backend(), args...)
	if err != nil {
		return common.Address{}, err
	}
	if _, err := c.ledger.Confirm(ctx, tx); err != nil {
		return common.Address{}, err
	}

	if name != source {
		if _, exists := c.contracts[name]; !exists {
			instance := art.Clone()
			instance.Name = name
			instance.DeployedAddress = nil
			c.contracts[name] = instance
		}
	}
	deployed := addr
	c.contracts[name].DeployedAddress = &deployed
	c.log.Debug("Deployed contract", "contract", name, "source", source, "address", addr, "tx", tx.Hash())
	return addr, nil
}

// bindHandles rebinds every known handle to the working set. Handles of contracts that
// dropped out of the set lose their address.
func (c *Controller) bindHandles(req Request, accounts []ledger.Account, result *Result) {
	resolve := func(name string) (common.Address, bool) {
		addr, ok := result.Addresses[name]
		return addr, ok
	}
	for _, name := range c.contracts.Names() {
		h, ok := c.handles[name]
		if !ok {
			h = newHandle(name, c.ledger)
			c.handles[name] = h
		}
		b, err := c.bindingFor(c.contracts, name, req, accounts, resolve)
		if err != nil {
			c.log.Warn("Contract has an unusable ABI, leaving it unbound", "contract", name, "err", err)
		}
		h.rebind(b)
	}
	for name, h := range c.handles {
		if _, ok := c.contracts[name]; !ok {
			h.rebind(binding{accounts: accounts})
		}
	}
}

func (c *Controller) bindingFor(set artifacts.Set, name string, req Request, accounts []ledger.Account, resolve AddressResolver) (binding, error) {
	b := binding{accounts: accounts, resolve: resolve, gas: req.Contracts[name].GasLimit()}
	art := set[name]
	if art == nil {
		return b, nil
	}
	parsed, err := art.ParseABI()
	if err != nil {
		return b, err
	}
	b.abi = parsed
	if art.DeployedAddress != nil {
		addr := *art.DeployedAddress
		b.address = &addr
	}
	return b, nil
}

// Handle returns the live handle for requested, resolving it with BestEffortResolve against
// the contracts of the last successful cycle. Non-exact matches are logged as warnings.
func (c *Controller) Handle(requested string) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Handles of contracts that dropped out of the last cycle stay memoized but are not
	// candidates, so their names resolve against what is bound now.
	known := c.bound.Names()

	var deployed []string
	for _, name := range c.bound.Names() {
		if c.bound[name].DeployedAddress != nil {
			deployed = append(deployed, name)
		}
	}

	res, err := BestEffortResolve(requested, known, deployed)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve contract %s: %w", requested, err)
	}
	if !res.Exact {
		c.log.Warn("Contract name not found, using best effort match",
			"requested", requested, "resolved", res.Name, "fallback", res.Fallback)
	}

	if h, ok := c.handles[res.Name]; ok {
		return h, nil
	}
	h := newHandle(res.Name, c.ledger)
	var resolve AddressResolver
	if c.current != nil {
		addrs := c.current.Addresses
		resolve = func(name string) (common.Address, bool) {
			addr, ok := addrs[name]
			return addr, ok
		}
	}
	b, err := c.bindingFor(c.bound, res.Name, c.config, c.ledger.Accounts(), resolve)
	if err != nil {
		return nil, err
	}
	h.rebind(b)
	c.handles[res.Name] = h
	return h, nil
}
