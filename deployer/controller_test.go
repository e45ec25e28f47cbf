package deployer

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-contest/artifacts"
	"github.com/ethereum-optimism/infra/op-contest/internal/testcontract"
	"github.com/ethereum-optimism/infra/op-contest/ledger"
)

func newTestController(t *testing.T, set artifacts.Set, versions map[string]string) *Controller {
	t.Helper()
	lgr := log.NewLogger(log.DiscardHandler())
	l, err := ledger.NewSimulated(ledger.Config{Accounts: 3}, lgr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return New(l, set, versions, lgr)
}

func storageRequest(contracts map[string]int) Request {
	req := Request{Contracts: make(map[string]ContractConfig)}
	for name, initial := range contracts {
		req.Contracts[name] = ContractConfig{Args: []any{initial}}
	}
	return req
}

func getValue(t *testing.T, h *Handle) string {
	t.Helper()
	out, err := h.Call(context.Background(), "get", nil, TxOpts{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	return Normalize(out[0]).(string)
}

func TestDeployCallAndTransact(t *testing.T) {
	c := newTestController(t, testcontract.Set("Storage"), nil)
	ctx := context.Background()

	result, err := c.Deploy(ctx, storageRequest(map[string]int{"Storage": 7}))
	require.NoError(t, err)
	require.Contains(t, result.Addresses, "Storage")
	require.Len(t, result.Accounts, 3)
	assert.Equal(t, result.Accounts[0], result.Default)
	assert.Same(t, result, c.Current())

	h, err := c.Handle("Storage")
	require.NoError(t, err)
	addr, ok := h.Address()
	require.True(t, ok)
	assert.Equal(t, result.Addresses["Storage"], addr)
	assert.Equal(t, result.Default, h.DefaultAccount())
	assert.Equal(t, "7", getValue(t, h))

	receipt, err := h.Transact(ctx, "set", []any{"0x2a"}, TxOpts{From: result.Accounts[2]})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), receipt.Status)
	assert.Equal(t, "42", getValue(t, h))

	_, err = h.Call(ctx, "missing", nil, TxOpts{})
	require.ErrorContains(t, err, "has no method missing")
	_, err = h.Transact(ctx, "set", []any{1}, TxOpts{From: common.HexToAddress("0x1234")})
	require.ErrorContains(t, err, "no key for sender")
}

func TestNoStaleHandlesAcrossCycles(t *testing.T) {
	c := newTestController(t, testcontract.Set("Storage"), nil)
	ctx := context.Background()

	_, err := c.Deploy(ctx, storageRequest(map[string]int{"Storage": 1}))
	require.NoError(t, err)
	h, err := c.Handle("Storage")
	require.NoError(t, err)
	seen := map[common.Address]bool{}

	for i := 2; i <= 5; i++ {
		c.Reset()
		result, err := c.Deploy(ctx, storageRequest(map[string]int{"Storage": i}))
		require.NoError(t, err)

		again, err := c.Handle("Storage")
		require.NoError(t, err)
		require.Same(t, h, again)

		addr, ok := h.Address()
		require.True(t, ok)
		assert.Equal(t, result.Addresses["Storage"], addr)
		assert.False(t, seen[addr], "address reused across cycles")
		seen[addr] = true
		assert.Equal(t, big.NewInt(int64(i)).String(), getValue(t, h))
	}
}

func TestDeployOnlyRequested(t *testing.T) {
	c := newTestController(t, testcontract.Set("Storage", "Token"), nil)
	no := false
	req := Request{Contracts: map[string]ContractConfig{
		"Token":   {Args: []any{3}},
		"Storage": {Args: []any{1}, Deploy: &no},
	}}
	result, err := c.Deploy(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"Token"}, sortedKeys(result.Addresses))

	h, err := c.Handle("Storage")
	require.NoError(t, err)
	_, ok := h.Address()
	assert.False(t, ok)
	_, err = h.Call(context.Background(), "get", nil, TxOpts{})
	require.ErrorIs(t, err, ErrNotDeployed)
}

func TestDeployInstanceOf(t *testing.T) {
	c := newTestController(t, testcontract.Set("Storage"), nil)
	ctx := context.Background()

	req := Request{Contracts: map[string]ContractConfig{
		"Storage":  {Args: []any{1}},
		"Storage2": {InstanceOf: "Storage", Args: []any{2}},
	}}
	result, err := c.Deploy(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, result.Addresses["Storage"], result.Addresses["Storage2"])

	h, err := c.Handle("Storage2")
	require.NoError(t, err)
	assert.Equal(t, "Storage2", h.Name())
	assert.Equal(t, "2", getValue(t, h))

	// The instance is gone after a cycle that does not ask for it, and its name resolves
	// against the contracts bound now.
	c.Reset()
	_, err = c.Deploy(ctx, storageRequest(map[string]int{"Storage": 9}))
	require.NoError(t, err)
	_, ok := h.Address()
	assert.False(t, ok)

	again, err := c.Handle("Storage2")
	require.NoError(t, err)
	assert.NotSame(t, h, again)
	assert.Equal(t, "Storage", again.Name())
	assert.Equal(t, "9", getValue(t, again))
}

func TestDroppedInstanceResolvesToSource(t *testing.T) {
	c := newTestController(t, testcontract.Set("Storage"), nil)
	ctx := context.Background()

	_, err := c.Deploy(ctx, Request{Contracts: map[string]ContractConfig{
		"Storage":  {Args: []any{1}},
		"Storage2": {InstanceOf: "Storage", Args: []any{2}},
	}})
	require.NoError(t, err)
	dropped, err := c.Handle("Storage2")
	require.NoError(t, err)

	// No Reset in between: every cycle starts from the snapshot on its own.
	result, err := c.Deploy(ctx, storageRequest(map[string]int{"Storage": 3}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Storage"}, sortedKeys(result.Addresses))
	_, ok := dropped.Address()
	assert.False(t, ok)

	h, err := c.Handle("Storage2")
	require.NoError(t, err)
	assert.Equal(t, "Storage", h.Name())
	addr, ok := h.Address()
	require.True(t, ok)
	assert.Equal(t, result.Addresses["Storage"], addr)
	assert.Equal(t, "3", getValue(t, h))
}

func TestHandleBestEffortResolution(t *testing.T) {
	c := newTestController(t, testcontract.Set("Token", "Vault"), nil)
	_, err := c.Deploy(context.Background(), storageRequest(map[string]int{"Token": 5, "Vault": 6}))
	require.NoError(t, err)

	h, err := c.Handle("Token2")
	require.NoError(t, err)
	assert.Equal(t, "Token", h.Name())
	assert.Equal(t, "5", getValue(t, h))

	// Exact names never fall back.
	h, err = c.Handle("Vault")
	require.NoError(t, err)
	assert.Equal(t, "Vault", h.Name())

	// Nothing matches: the first deployed contract in lexical order.
	h, err = c.Handle("Unrelated")
	require.NoError(t, err)
	assert.Equal(t, "Token", h.Name())
}

func TestHandleWithoutContracts(t *testing.T) {
	c := newTestController(t, artifacts.Set{}, nil)
	_, err := c.Handle("Token")
	require.ErrorIs(t, err, ErrNoContracts)
}

func TestDeployFailureKeepsPreviousState(t *testing.T) {
	c := newTestController(t, testcontract.Set("Storage"), nil)
	ctx := context.Background()

	first, err := c.Deploy(ctx, storageRequest(map[string]int{"Storage": 1}))
	require.NoError(t, err)
	h, err := c.Handle("Storage")
	require.NoError(t, err)

	tests := []struct {
		name     string
		req      Request
		contract string
		contains string
	}{
		{
			name:     "unknown contract",
			req:      Request{Contracts: map[string]ContractConfig{"Missing": {}}},
			contract: "Missing",
			contains: "unknown contract Missing",
		},
		{
			name:     "constructor arguments",
			req:      Request{Contracts: map[string]ContractConfig{"Storage": {}}},
			contract: "Storage",
			contains: "expected 1 arguments, got 0",
		},
		{
			name:     "reverting constructor",
			req:      Request{Contracts: map[string]ContractConfig{"Storage": {Args: []any{1}, Gas: 30_000}}},
			contract: "Storage",
		},
		{
			name:     "invalid version",
			req:      Request{Versions: map[string]string{"solc": "latest"}},
			contains: "invalid semantic version",
		},
		{
			name: "reference cycle",
			req: Request{Contracts: map[string]ContractConfig{
				"A": {Args: []any{"$B"}},
				"B": {Args: []any{"$A"}},
			}},
			contains: "circular constructor references",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.Reset()
			_, err := c.Deploy(ctx, tt.req)
			require.True(t, IsDeployError(err), "got %v", err)
			var deployErr *DeployError
			require.ErrorAs(t, err, &deployErr)
			assert.Equal(t, tt.contract, deployErr.Contract)
			if tt.contains != "" {
				assert.ErrorContains(t, err, tt.contains)
			}

			assert.Same(t, first, c.Current())
			addr, ok := h.Address()
			require.True(t, ok)
			assert.Equal(t, first.Addresses["Storage"], addr)
			assert.Equal(t, "1", getValue(t, h))
		})
	}
}

func TestFailedDeployDoesNotApplyConfig(t *testing.T) {
	c := newTestController(t, testcontract.Set("Storage"), map[string]string{"solc": "0.4.24"})
	ctx := context.Background()

	_, err := c.Deploy(ctx, Request{
		Contracts: map[string]ContractConfig{"Storage": {Args: []any{1}, Gas: 30_000}},
		Versions:  map[string]string{"solc": "v0.8.26"},
	})
	require.True(t, IsDeployError(err), "got %v", err)
	assert.Nil(t, c.Current())
	assert.Empty(t, c.Config().Contracts)
	assert.Empty(t, c.Config().Versions)

	// Handles created after the failure do not pick up its gas settings.
	h, err := c.Handle("Storage")
	require.NoError(t, err)
	assert.Equal(t, DefaultGas, h.gas)

	_, err = c.Deploy(ctx, storageRequest(map[string]int{"Storage": 1}))
	require.NoError(t, err)
	applied := c.Config()

	_, err = c.Deploy(ctx, Request{Contracts: map[string]ContractConfig{"Missing": {Gas: 1}}})
	require.Error(t, err)
	assert.Equal(t, applied, c.Config())
	assert.Equal(t, map[string]string{"solc": "0.4.24"}, c.Config().Versions)
}

func TestRevertingTransaction(t *testing.T) {
	c := newTestController(t, testcontract.Set(), nil)
	_, err := c.Deploy(context.Background(), Request{Contracts: map[string]ContractConfig{"Reverter": {}}})
	require.NoError(t, err)
	h, err := c.Handle("Reverter")
	require.NoError(t, err)

	_, err = h.Transact(context.Background(), "fail", nil, TxOpts{})
	require.ErrorContains(t, err, "reverted")
}

func TestDeployVersions(t *testing.T) {
	c := newTestController(t, testcontract.Set("Storage"), map[string]string{"solc": "0.4.24", "web3": "1.0.0"})
	result, err := c.Deploy(context.Background(), Request{Versions: map[string]string{"solc": "v0.8.26"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"solc": "v0.8.26", "web3": "1.0.0"}, result.Versions)
	assert.Empty(t, result.Addresses)
	assert.Equal(t, result.Versions, c.Config().Versions)
}

func TestDeployWithoutContractsGivesEmptyResult(t *testing.T) {
	c := newTestController(t, testcontract.Set("Storage"), nil)
	result, err := c.Deploy(context.Background(), Request{})
	require.NoError(t, err)
	assert.Empty(t, result.Addresses)
	assert.Len(t, result.Accounts, 3)
}
