package deployer

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ethereum-optimism/infra/op-contest/ledger"
)

// TxOpts selects the sender and value of a call or transaction. A zero From means the
// default account.
type TxOpts struct {
	From  common.Address
	Value *big.Int
}

// Handle is the live binding of one contract. The controller hands out a single Handle per
// contract name and rebinds it in place after every successful deploy cycle, so references
// held by tests never go stale.
type Handle struct {
	name   string
	ledger ledger.Ledger

	mu       sync.RWMutex
	abi      abi.ABI
	address  *common.Address
	accounts []ledger.Account
	from     common.Address
	gas      uint64
	resolve  AddressResolver
	bound    *bind.BoundContract
}

type binding struct {
	abi      abi.ABI
	address  *common.Address
	accounts []ledger.Account
	gas      uint64
	resolve  AddressResolver
}

func newHandle(name string, l ledger.Ledger) *Handle {
	return &Handle{name: name, ledger: l}
}

func (h *Handle) rebind(b binding) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.abi = b.abi
	h.address = b.address
	h.accounts = b.accounts
	h.gas = b.gas
	h.resolve = b.resolve
	h.from = common.Address{}
	if len(b.accounts) > 0 {
		h.from = b.accounts[0].Address
	}
	h.bound = nil
	if b.address != nil {
		backend := h.ledger.Backend()
		h.bound = bind.NewBoundContract(*b.address, b.abi, backend, backend, backend)
	}
}

func (h *Handle) Name() string {
	return h.name
}

// Address returns the contract address and whether the contract is deployed.
func (h *Handle) Address() (common.Address, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.address == nil {
		return common.Address{}, false
	}
	return *h.address, true
}

// DefaultAccount is the sender used when none is given.
func (h *Handle) DefaultAccount() common.Address {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.from
}

type handleState struct {
	abi      abi.ABI
	accounts []ledger.Account
	from     common.Address
	gas      uint64
	resolve  AddressResolver
	bound    *bind.BoundContract
}

func (h *Handle) state() (handleState, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.bound == nil {
		return handleState{}, fmt.Errorf("%s: %w", h.name, ErrNotDeployed)
	}
	return handleState{abi: h.abi, accounts: h.accounts, from: h.from, gas: h.gas, resolve: h.resolve, bound: h.bound}, nil
}

func (s handleState) pack(contract, method string, args []any) ([]any, error) {
	m, ok := s.abi.Methods[method]
	if !ok {
		return nil, fmt.Errorf("contract %s has no method %s", contract, method)
	}
	params, err := ConvertArgs(m.Inputs, args, s.resolve)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", contract, method, err)
	}
	return params, nil
}

// Call executes method without sending a transaction and returns its outputs.
func (h *Handle) Call(ctx context.Context, method string, args []any, opts TxOpts) ([]any, error) {
	s, err := h.state()
	if err != nil {
		return nil, err
	}
	params, err := s.pack(h.name, method, args)
	if err != nil {
		return nil, err
	}
	from := opts.From
	if from == (common.Address{}) {
		from = s.from
	}
	var out []any
	if err := s.bound.Call(&bind.CallOpts{Context: ctx, From: from}, &out, method, params...); err != nil {
		return nil, fmt.Errorf("%s.%s: %w", h.name, method, err)
	}
	return out, nil
}

// Transact sends method as a transaction and waits for it to be mined. A reverted
// transaction is an error.
func (h *Handle) Transact(ctx context.Context, method string, args []any, opts TxOpts) (*types.Receipt, error) {
	s, err := h.state()
	if err != nil {
		return nil, err
	}
	params, err := s.pack(h.name, method, args)
	if err != nil {
		return nil, err
	}
	from := opts.From
	if from == (common.Address{}) {
		from = s.from
	}
	var sender *ledger.Account
	for i := range s.accounts {
		if s.accounts[i].Address == from {
			sender = &s.accounts[i]
			break
		}
	}
	if sender == nil {
		return nil, fmt.Errorf("no key for sender %s", from)
	}
	txOpts, err := ledger.Transactor(h.ledger, *sender)
	if err != nil {
		return nil, err
	}
	txOpts.Context = ctx
	txOpts.GasLimit = s.gas
	txOpts.Value = opts.Value

	tx, err := s.bound.Transact(txOpts, method, params...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", h.name, method, err)
	}
	receipt, err := h.ledger.Confirm(ctx, tx)
	if err != nil {
		return receipt, fmt.Errorf("%s.%s: %w", h.name, method, err)
	}
	return receipt, nil
}
