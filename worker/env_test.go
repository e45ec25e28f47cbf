package worker

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-contest/channel"
	"github.com/ethereum-optimism/infra/op-contest/deployer"
	"github.com/ethereum-optimism/infra/op-contest/internal/testcontract"
	"github.com/ethereum-optimism/infra/op-contest/ledger"
)

func newTestEnv(t *testing.T) *Env {
	t.Helper()
	lgr := log.NewLogger(log.DiscardHandler())
	l, err := ledger.NewSimulated(ledger.Config{Accounts: 3}, lgr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return NewEnv(l, testcontract.Set("SimpleStorage"), map[string]string{"solc": "0.8.26"}, lgr)
}

func storageRequest(initial int) deployer.Request {
	return deployer.Request{Contracts: map[string]deployer.ContractConfig{
		"SimpleStorage": {Args: []any{initial}},
	}}
}

func getValue(t *testing.T, env *Env) *big.Int {
	t.Helper()
	c, err := env.Require("contracts/SimpleStorage")
	require.NoError(t, err)
	out, err := c.Call(context.Background(), "get", nil, deployer.TxOpts{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	return out[0].(*big.Int)
}

func TestEnvConfigure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var reports []channel.DeployReport
	env.OnDeploy = func(r channel.DeployReport) {
		// Reports are sent before the gate opens.
		assert.False(t, env.Ready())
		reports = append(reports, r)
	}

	res, err := env.Configure(ctx, storageRequest(100))
	require.NoError(t, err)
	assert.True(t, env.Ready())
	assert.Len(t, res.Accounts, 3)
	assert.Equal(t, res.Accounts, env.Accounts())
	assert.Equal(t, "0.8.26", res.Versions["solc"])
	assert.Equal(t, big.NewInt(100), getValue(t, env))

	c, err := env.Require("contracts/SimpleStorage")
	require.NoError(t, err)
	_, err = c.Transact(ctx, "set", []any{150}, deployer.TxOpts{})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(150), getValue(t, env))

	// A new cycle starts from fresh contracts, the same handle follows them.
	_, err = env.Configure(ctx, storageRequest(7))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(7), getValue(t, env))

	again, err := env.Require("contracts/SimpleStorage")
	require.NoError(t, err)
	assert.Same(t, c, again)

	require.Len(t, reports, 2)
	assert.Equal(t, 1, reports[0].Contracts)
	assert.Empty(t, reports[0].Error)
}

func TestEnvFailedConfigureStaysNotReady(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.Configure(ctx, storageRequest(1))
	require.NoError(t, err)
	previous := env.Current()

	var report channel.DeployReport
	env.OnDeploy = func(r channel.DeployReport) { report = r }
	_, err = env.Configure(ctx, deployer.Request{Contracts: map[string]deployer.ContractConfig{
		"Missing": {},
	}})
	require.Error(t, err)
	assert.True(t, deployer.IsDeployError(err))
	assert.Contains(t, report.Error, "unknown contract Missing")
	assert.False(t, env.Ready())
	assert.Same(t, previous, env.Current())

	wctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, env.WaitUntilReady(wctx), context.DeadlineExceeded)

	// The next successful cycle reopens the gate.
	_, err = env.Configure(ctx, storageRequest(2))
	require.NoError(t, err)
	require.NoError(t, env.WaitUntilReady(ctx))
	assert.Equal(t, big.NewInt(2), getValue(t, env))
}

func TestEnvFailedConfigureLogsAppliedVersions(t *testing.T) {
	lgr, logs := testlog.CaptureLogger(t, log.LevelInfo)
	l, err := ledger.NewSimulated(ledger.Config{Accounts: 3}, lgr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	env := NewEnv(l, testcontract.Set("SimpleStorage"), map[string]string{"solc": "0.8.26"}, lgr)
	ctx := context.Background()

	_, err = env.Configure(ctx, storageRequest(1))
	require.NoError(t, err)
	_, err = env.Configure(ctx, deployer.Request{
		Contracts: map[string]deployer.ContractConfig{"Missing": {}},
		Versions:  map[string]string{"solc": "0.8.0"},
	})
	require.Error(t, err)

	record := logs.FindLog(testlog.NewLevelFilter(log.LevelWarn), testlog.NewMessageFilter("Deploy cycle failed, contract steps stay blocked"))
	require.NotNil(t, record)
	assert.Equal(t, map[string]string{"solc": "0.8.26"}, record.AttrValue("applied_versions"))
}

func TestEnvRequire(t *testing.T) {
	env := newTestEnv(t)

	for _, module := range []string{"lib/Math", "contracts/", "SimpleStorage"} {
		_, err := env.Require(module)
		require.Error(t, err, module)
		assert.True(t, IsUnknownModuleError(err), module)
	}

	// Accounts are available before any deployment.
	assert.Len(t, env.Accounts(), 3)
	assert.Nil(t, env.Current())
}

func TestEnvsAreIsolated(t *testing.T) {
	snapshot := testcontract.Set("SimpleStorage")
	lgr := log.NewLogger(log.DiscardHandler())
	ctx := context.Background()

	envs := make([]*Env, 2)
	for i := range envs {
		l, err := ledger.NewSimulated(ledger.Config{}, lgr)
		require.NoError(t, err)
		t.Cleanup(func() { _ = l.Close() })
		envs[i] = NewEnv(l, snapshot.Clone(), nil, lgr)
		_, err = envs[i].Configure(ctx, storageRequest(10))
		require.NoError(t, err)
	}

	c, err := envs[0].Require("contracts/SimpleStorage")
	require.NoError(t, err)
	_, err = c.Transact(ctx, "set", []any{99}, deployer.TxOpts{})
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(99), getValue(t, envs[0]))
	assert.Equal(t, big.NewInt(10), getValue(t, envs[1]))
	assert.Nil(t, snapshot["SimpleStorage"].DeployedAddress)
}
