package flags

import (
	"fmt"
	"math/big"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	oprpc "github.com/ethereum-optimism/optimism/op-service/rpc"
)

const EnvVarPrefix = "OP_CONTEST"

var (
	TestPath = &cli.StringFlag{
		Name:    "test-path",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TEST_PATH"),
		Usage:   "Test file or directory of test files to run. Defaults to the project's test directory ('test')",
	}
	ProjectFile = &cli.StringFlag{
		Name:    "config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:   "Path to the project file. Defaults to contest.yaml, contest.yml or contest.toml in the working directory",
	}
	ContractsDir = &cli.StringFlag{
		Name:    "contracts",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONTRACTS"),
		Usage:   "Directory of solidity sources compiled with solc (default 'contracts')",
	}
	ArtifactsDir = &cli.StringFlag{
		Name:    "artifacts",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ARTIFACTS"),
		Usage:   "Directory of precompiled artifacts (Hardhat, Foundry or contest JSON). Skips solc when set",
	}
	SolcBinary = &cli.StringFlag{
		Name:    "solc",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SOLC"),
		Usage:   "Path to the solc binary (default 'solc')",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Number of concurrent workers, capped at the number of CPUs (0 = number of CPUs)",
	}
	TestTimeout = &cli.DurationFlag{
		Name:    "test-timeout",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TEST_TIMEOUT"),
		Usage:   "Timeout of a single test case (e.g. '30s'). 0 means no timeout",
	}
	NoColor = &cli.BoolFlag{
		Name:    "no-color",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "NO_COLOR"),
		Usage:   "Disable coloured test reporter output",
	}
	LedgerNode = &cli.StringFlag{
		Name:    "ledger.node",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LEDGER_NODE"),
		Usage:   "RPC endpoint of an external ledger. Every worker uses an in-memory simulated chain when empty",
	}
	LedgerPrivateKeys = &cli.StringSliceFlag{
		Name:    "ledger.private-keys",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LEDGER_PRIVATE_KEYS"),
		Usage:   "Hex private keys of the funded accounts, the first being the default sender",
	}
	LedgerAccounts = &cli.IntFlag{
		Name:    "ledger.accounts",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LEDGER_ACCOUNTS"),
		Usage:   "Number of prefunded accounts of the simulated chain (default 10)",
	}
	LedgerBalance = &cli.StringFlag{
		Name:    "ledger.balance",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LEDGER_BALANCE"),
		Usage:   "Balance in wei of every simulated account (default 1000000 ether)",
		Action: func(ctx *cli.Context, v string) error {
			return validateBalance(v)
		},
	}
	LedgerGasLimit = &cli.Uint64Flag{
		Name:    "ledger.gas-limit",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LEDGER_GAS_LIMIT"),
		Usage:   "Block gas limit of the simulated chain (default 50000000)",
	}
)

// validateBalance accepts a non-negative decimal amount of wei.
func validateBalance(v string) error {
	if v == "" {
		return nil
	}
	balance, ok := new(big.Int).SetString(v, 10)
	if !ok || balance.Sign() < 0 {
		return fmt.Errorf("ledger.balance must be a non-negative decimal amount of wei, got %q", v)
	}
	return nil
}

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	TestPath,
	ProjectFile,
	ContractsDir,
	ArtifactsDir,
	SolcBinary,
	Concurrency,
	TestTimeout,
	NoColor,
	LedgerNode,
	LedgerPrivateKeys,
	LedgerAccounts,
	LedgerBalance,
	LedgerGasLimit,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oprpc.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
