// Package ledger provides the private chain a worker deploys to and runs tests against.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

const (
	DefaultAccounts       = 10
	DefaultBlockGasLimit  = 50_000_000
	DefaultConfirmTimeout = time.Minute
)

// Config selects and tunes the ledger. An empty Node means an in-memory simulated chain.
type Config struct {
	Node        string   `json:"node,omitempty" yaml:"node" toml:"node"`
	PrivateKeys []string `json:"privateKeys,omitempty" yaml:"privateKeys" toml:"private_keys"`
	Accounts    int      `json:"accounts,omitempty" yaml:"accounts" toml:"accounts"`
	Balance     string   `json:"balance,omitempty" yaml:"balance" toml:"balance"` // wei, decimal
	GasLimit    uint64   `json:"gasLimit,omitempty" yaml:"gasLimit" toml:"gas_limit"`
}

// Backend is the client surface deploys and contract calls need.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Account is a funded account able to sign transactions.
type Account struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// Ledger is one worker's private chain.
type Ledger interface {
	Backend() Backend
	ChainID() *big.Int
	// Accounts returns the funded accounts, the first being the default sender.
	Accounts() []Account
	// Confirm blocks until tx is mined and fails if it reverted.
	Confirm(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	Close() error
}

// New returns an RPC backed ledger when cfg.Node is set and a simulated one otherwise.
func New(ctx context.Context, cfg Config, log log.Logger) (Ledger, error) {
	if cfg.Node != "" {
		return Dial(ctx, cfg, log)
	}
	return NewSimulated(cfg, log)
}

// Transactor returns signing options for account on l.
func Transactor(l Ledger, account Account) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(account.Key, l.ChainID())
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor for %s: %w", account.Address, err)
	}
	return opts, nil
}

// Addresses lists the account addresses in order.
func Addresses(accounts []Account) []common.Address {
	addrs := make([]common.Address, len(accounts))
	for i, a := range accounts {
		addrs[i] = a.Address
	}
	return addrs
}

func waitMined(ctx context.Context, b bind.DeployBackend, tx *types.Transaction) (*types.Receipt, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx was nil, nothing to confirm")
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultConfirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(ctx, b, tx)
	if err != nil {
		return nil, fmt.Errorf("tx %s failed to confirm: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, fmt.Errorf("tx %s reverted", tx.Hash().Hex())
	}
	return receipt, nil
}
