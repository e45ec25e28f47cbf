package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
)

var (
	// simChainID is the chain ID of every simulated chain.
	simChainID = params.AllDevChainProtocolChanges.ChainID
	// defaultBalance funds each simulated account with 1,000,000 ether.
	defaultBalance = new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(params.Ether))
)

var _ Ledger = (*Simulated)(nil)

// Simulated is an in-memory chain backed by go-ethereum's simulated backend. Blocks are only
// produced by Confirm.
type Simulated struct {
	backend  *simulated.Backend
	accounts []Account
	log      log.Logger
}

// NewSimulated creates a fresh chain with cfg.Accounts prefunded accounts. Configured private
// keys are funded as well and come first.
func NewSimulated(cfg Config, log log.Logger) (*Simulated, error) {
	balance := defaultBalance
	if cfg.Balance != "" {
		b, ok := new(big.Int).SetString(cfg.Balance, 10)
		if !ok || b.Sign() < 0 {
			return nil, fmt.Errorf("invalid account balance %q", cfg.Balance)
		}
		balance = b
	}
	count := cfg.Accounts
	if count <= 0 {
		count = DefaultAccounts
	}
	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = DefaultBlockGasLimit
	}

	accounts, err := parseKeys(cfg.PrivateKeys)
	if err != nil {
		return nil, err
	}
	for len(accounts) < count {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate account key: %w", err)
		}
		accounts = append(accounts, Account{Address: crypto.PubkeyToAddress(key.PublicKey), Key: key})
	}

	genesis := types.GenesisAlloc{}
	for _, a := range accounts {
		genesis[a.Address] = types.Account{Balance: new(big.Int).Set(balance)}
	}
	backend := simulated.NewBackend(genesis, simulated.WithBlockGasLimit(gasLimit))
	backend.Commit()

	if log != nil {
		log.Debug("Started simulated ledger", "accounts", len(accounts), "gasLimit", gasLimit)
	}
	return &Simulated{backend: backend, accounts: accounts, log: log}, nil
}

func (s *Simulated) Backend() Backend {
	return s.backend.Client()
}

func (s *Simulated) ChainID() *big.Int {
	return new(big.Int).Set(simChainID)
}

func (s *Simulated) Accounts() []Account {
	return append([]Account(nil), s.accounts...)
}

// Confirm mines a block holding tx and returns its receipt.
func (s *Simulated) Confirm(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	s.backend.Commit()
	return waitMined(ctx, s.backend.Client(), tx)
}

func (s *Simulated) Close() error {
	return s.backend.Close()
}
