package deployer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/mod/semver"
)

// DefaultGas is the gas limit of every contract creation unless a config overrides it.
const DefaultGas uint64 = 6_000_000

// RefPrefix marks a constructor argument naming another contract of the same deploy cycle.
const RefPrefix = "$"

// ContractConfig configures one contract of a deployment request.
type ContractConfig struct {
	Args []any `json:"args,omitempty" yaml:"args"`
	// InstanceOf deploys this entry from another contract's artifact.
	InstanceOf string `json:"instanceOf,omitempty" yaml:"instanceOf"`
	// Deploy defaults to true. False keeps the contract configured but not deployed.
	Deploy *bool  `json:"deploy,omitempty" yaml:"deploy"`
	Gas    uint64 `json:"gas,omitempty" yaml:"gas"`
}

// ShouldDeploy reports whether the contract is part of the deploy cycle.
func (c ContractConfig) ShouldDeploy() bool {
	return c.Deploy == nil || *c.Deploy
}

// GasLimit returns the configured creation gas or DefaultGas.
func (c ContractConfig) GasLimit() uint64 {
	if c.Gas == 0 {
		return DefaultGas
	}
	return c.Gas
}

// Request is the configuration a suite or test case asks to have deployed.
type Request struct {
	Contracts map[string]ContractConfig `json:"contracts,omitempty" yaml:"contracts"`
	Versions  map[string]string         `json:"versions,omitempty" yaml:"versions"`
}

// Result describes a completed deploy cycle.
type Result struct {
	Addresses map[string]common.Address `json:"addresses"`
	Accounts  []common.Address          `json:"accounts"`
	Default   common.Address            `json:"default"`
	Versions  map[string]string         `json:"versions,omitempty"`
}

// Validate checks the request without touching any artifact.
func (r Request) Validate() error {
	for _, name := range sortedKeys(r.Versions) {
		if err := ValidateVersion(r.Versions[name]); err != nil {
			return fmt.Errorf("version of %s: %w", name, err)
		}
	}
	for _, name := range sortedKeys(r.Contracts) {
		if name == "" {
			return fmt.Errorf("contract name must not be empty")
		}
		if r.Contracts[name].InstanceOf == name {
			return fmt.Errorf("contract %s cannot be an instance of itself", name)
		}
	}
	return nil
}

// WithDefaultVersions returns a copy of r where versions missing from r are taken from defaults.
func (r Request) WithDefaultVersions(defaults map[string]string) Request {
	out := Request{Contracts: r.Contracts}
	if len(defaults) == 0 && len(r.Versions) == 0 {
		return out
	}
	out.Versions = make(map[string]string, len(defaults)+len(r.Versions))
	for k, v := range defaults {
		out.Versions[k] = v
	}
	for k, v := range r.Versions {
		out.Versions[k] = v
	}
	return out
}

// ValidateVersion accepts semantic versions with or without a leading "v".
func ValidateVersion(v string) error {
	if !semver.IsValid("v" + strings.TrimPrefix(v, "v")) {
		return fmt.Errorf("invalid semantic version %q", v)
	}
	return nil
}

// deployOrder returns the contracts to deploy, dependencies first. A contract depends on every
// contract of the request its constructor arguments reference. Independent contracts keep
// lexical order.
func (r Request) deployOrder() ([]string, error) {
	var names []string
	for _, name := range sortedKeys(r.Contracts) {
		if r.Contracts[name].ShouldDeploy() {
			names = append(names, name)
		}
	}
	deploying := make(map[string]bool, len(names))
	for _, name := range names {
		deploying[name] = true
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(names))
	order := make([]string, 0, len(names))
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("circular constructor references: %s", strings.Join(append(path, name), " -> "))
		}
		state[name] = visiting
		for _, ref := range references(r.Contracts[name].Args) {
			if !deploying[ref] {
				return fmt.Errorf("contract %s references %s%s, which is not deployed in this cycle", name, RefPrefix, ref)
			}
			if err := visit(ref, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = visited
		order = append(order, name)
		return nil
	}
	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// references collects the contract names referenced by args, including inside lists.
func references(args []any) []string {
	var refs []string
	for _, arg := range args {
		switch v := arg.(type) {
		case string:
			if name, ok := refName(v); ok {
				refs = append(refs, name)
			}
		case []any:
			refs = append(refs, references(v)...)
		}
	}
	return refs
}

func refName(s string) (string, bool) {
	if !strings.HasPrefix(s, RefPrefix) || len(s) == len(RefPrefix) {
		return "", false
	}
	return strings.TrimPrefix(s, RefPrefix), true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
