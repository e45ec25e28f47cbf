package contest

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	oprpc "github.com/ethereum-optimism/optimism/op-service/rpc"

	"github.com/ethereum-optimism/infra/op-contest/artifacts"
	"github.com/ethereum-optimism/infra/op-contest/flags"
	"github.com/ethereum-optimism/infra/op-contest/ledger"
	"github.com/ethereum-optimism/infra/op-contest/service"
	"github.com/ethereum-optimism/infra/op-contest/testlist"
)

// DefaultContractsDir holds the solidity sources, relative to the project directory.
const DefaultContractsDir = "contracts"

// Config holds the application configuration
type Config struct {
	ProjectDir   string            // Directory of the project file, or the working directory
	TestPath     string            // Test file or directory of test files
	ContractsDir string            // Solidity sources, compiled with solc
	ArtifactsDir string            // Precompiled artifacts, replaces the solc build when set
	SolcBinary   string            // solc executable
	BuildDir     string            // Transient artifact directory, removed after every run
	Versions     map[string]string // Default versions of every deployment request
	Concurrency  int               // Number of concurrent workers, at most the number of CPUs (0 = number of CPUs)
	TestTimeout  time.Duration     // Timeout of a single test case (0 = unbounded)
	Colors       bool              // Coloured reporter output
	Ledger       ledger.Config     // Ledger every worker starts
	Metrics      bool              // Serve metrics and healthz
	Service      service.Config
	Log          log.Logger
}

// NewConfig creates a new Config from cli context. Flags override the project file, which
// overrides the defaults. The first positional argument overrides the test path.
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to determine working directory: %w", err)
	}

	projectFile := ctx.String(flags.ProjectFile.Name)
	if projectFile == "" {
		projectFile = FindProject(wd)
	}
	project := &Project{dir: wd}
	if projectFile != "" {
		if project, err = LoadProject(projectFile); err != nil {
			return nil, err
		}
		log.Debug("Loaded project file", "path", projectFile)
	}

	cfg := &Config{
		ProjectDir:   project.dir,
		TestPath:     project.path(project.Tests),
		ContractsDir: project.path(project.Contracts),
		ArtifactsDir: project.path(project.Artifacts),
		SolcBinary:   project.Solc,
		Versions:     project.Versions,
		Concurrency:  project.Concurrency,
		TestTimeout:  time.Duration(project.TestTimeout),
		Colors:       !ctx.Bool(flags.NoColor.Name),
		Ledger:       project.Ledger,
		Log:          log,
	}

	stringFlags := []struct {
		flag   *cli.StringFlag
		target *string
	}{
		{flags.TestPath, &cfg.TestPath},
		{flags.ContractsDir, &cfg.ContractsDir},
		{flags.ArtifactsDir, &cfg.ArtifactsDir},
		{flags.SolcBinary, &cfg.SolcBinary},
		{flags.LedgerNode, &cfg.Ledger.Node},
		{flags.LedgerBalance, &cfg.Ledger.Balance},
	}
	for _, f := range stringFlags {
		if ctx.IsSet(f.flag.Name) {
			*f.target = ctx.String(f.flag.Name)
		}
	}
	if ctx.IsSet(flags.Concurrency.Name) {
		cfg.Concurrency = ctx.Int(flags.Concurrency.Name)
	}
	if ctx.IsSet(flags.TestTimeout.Name) {
		cfg.TestTimeout = ctx.Duration(flags.TestTimeout.Name)
	}
	if ctx.IsSet(flags.LedgerPrivateKeys.Name) {
		cfg.Ledger.PrivateKeys = ctx.StringSlice(flags.LedgerPrivateKeys.Name)
	}
	if ctx.IsSet(flags.LedgerAccounts.Name) {
		cfg.Ledger.Accounts = ctx.Int(flags.LedgerAccounts.Name)
	}
	if ctx.IsSet(flags.LedgerGasLimit.Name) {
		cfg.Ledger.GasLimit = ctx.Uint64(flags.LedgerGasLimit.Name)
	}
	if arg := ctx.Args().First(); arg != "" {
		cfg.TestPath = arg
	}

	if cfg.TestPath == "" {
		cfg.TestPath = filepath.Join(cfg.ProjectDir, testlist.DefaultPath)
	}
	if cfg.ContractsDir == "" {
		cfg.ContractsDir = filepath.Join(cfg.ProjectDir, DefaultContractsDir)
	}
	cfg.BuildDir = filepath.Join(cfg.ProjectDir, artifacts.DefaultBuildDir)

	for _, p := range []*string{&cfg.TestPath, &cfg.ContractsDir, &cfg.ArtifactsDir} {
		if *p == "" {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for '%s': %w", *p, err)
		}
		*p = abs
	}

	if cfg.Concurrency < 0 {
		return nil, errors.New("concurrency cannot be negative")
	}
	if cpus := runtime.NumCPU(); cfg.Concurrency > cpus {
		log.Warn("Concurrency exceeds the number of CPUs, capping it", "requested", cfg.Concurrency, "cpus", cpus)
		cfg.Concurrency = cpus
	}
	if cfg.TestTimeout < 0 {
		return nil, errors.New("test timeout cannot be negative")
	}
	if cfg.Ledger.Node != "" && len(cfg.Ledger.PrivateKeys) == 0 {
		return nil, fmt.Errorf("ledger node %s requires at least one private key", cfg.Ledger.Node)
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	rpcCfg := oprpc.ReadCLIConfig(ctx)
	cfg.Metrics = metricsCfg.Enabled
	cfg.Service = service.Config{
		HealthzAddr: net.JoinHostPort(rpcCfg.ListenAddr, strconv.Itoa(rpcCfg.ListenPort)),
		MetricsHost: metricsCfg.ListenAddr,
		MetricsPort: metricsCfg.ListenPort,
	}
	return cfg, nil
}

// Builder returns the artifact builder selected by the configuration.
func (c *Config) Builder() artifacts.Builder {
	if c.ArtifactsDir != "" {
		return &artifacts.DirBuilder{Source: c.ArtifactsDir, OutDir: c.BuildDir, Log: c.Log}
	}
	return &artifacts.SolcBuilder{Source: c.ContractsDir, OutDir: c.BuildDir, SolcBinary: c.SolcBinary, Log: c.Log}
}
