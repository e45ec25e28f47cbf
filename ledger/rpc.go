package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
)

const (
	dialAttempts   = 10
	dialRetryDelay = time.Second
)

var _ Ledger = (*RPC)(nil)

// RPC is a ledger reached over JSON-RPC. Its accounts come from configured private keys.
type RPC struct {
	client   *ethclient.Client
	chainID  *big.Int
	accounts []Account
}

// Dial connects to cfg.Node and waits until it answers eth_chainId.
func Dial(ctx context.Context, cfg Config, lgr log.Logger) (*RPC, error) {
	return dial(ctx, cfg, lgr, dialAttempts, dialRetryDelay)
}

func dial(ctx context.Context, cfg Config, lgr log.Logger, attempts uint, delay time.Duration) (*RPC, error) {
	if len(cfg.PrivateKeys) == 0 {
		return nil, fmt.Errorf("ledger node %s requires at least one private key", cfg.Node)
	}
	accounts, err := parseKeys(cfg.PrivateKeys)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, cfg.Node)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ledger node %s: %w", cfg.Node, err)
	}

	chainID, err := retry.DoWithData(func() (*big.Int, error) {
		return client.ChainID(ctx)
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if lgr != nil {
				lgr.Debug("Ledger node not ready", "node", cfg.Node, "attempt", n+1, "err", err)
			}
		}),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ledger node %s not reachable after %d attempts: %w", cfg.Node, attempts, err)
	}
	if lgr != nil {
		lgr.Info("Connected to ledger node", "node", cfg.Node, "chainID", chainID)
	}
	return &RPC{client: client, chainID: chainID, accounts: accounts}, nil
}

func (r *RPC) Backend() Backend {
	return r.client
}

func (r *RPC) ChainID() *big.Int {
	return new(big.Int).Set(r.chainID)
}

func (r *RPC) Accounts() []Account {
	return append([]Account(nil), r.accounts...)
}

func (r *RPC) Confirm(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return waitMined(ctx, r.client, tx)
}

func (r *RPC) Close() error {
	r.client.Close()
	return nil
}

func parseKeys(keys []string) ([]Account, error) {
	accounts := make([]Account, 0, len(keys))
	for i, k := range keys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(k), "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key #%d: %w", i, err)
		}
		accounts = append(accounts, Account{Address: crypto.PubkeyToAddress(key.PublicKey), Key: key})
	}
	return accounts, nil
}
