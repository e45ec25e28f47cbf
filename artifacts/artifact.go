// Package artifacts holds compiled contract artifacts and the builders that produce them.
//
// A Set is produced exactly once per run and then only ever copied: every worker receives
// its own serialized copy and every deploy cycle inside a worker starts from a fresh Clone.
package artifacts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Artifact is the compiled output for a single contract.
type Artifact struct {
	Name            string          `json:"name"`
	ABI             json.RawMessage `json:"abi"`
	Bytecode        hexutil.Bytes   `json:"bytecode"`
	DeployedAddress *common.Address `json:"deployedAddress,omitempty"`
}

// Deployable reports whether the artifact carries creation bytecode.
// Interfaces and abstract contracts compile to an ABI only.
func (a *Artifact) Deployable() bool {
	return len(a.Bytecode) > 0
}

// ParseABI decodes the artifact's ABI definition.
func (a *Artifact) ParseABI() (abi.ABI, error) {
	if len(a.ABI) == 0 {
		return abi.ABI{}, fmt.Errorf("contract %s has no ABI", a.Name)
	}
	parsed, err := abi.JSON(bytes.NewReader(a.ABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("invalid ABI for contract %s: %w", a.Name, err)
	}
	return parsed, nil
}

// Clone returns a deep copy of the artifact.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	c := &Artifact{
		Name:     a.Name,
		ABI:      append(json.RawMessage(nil), a.ABI...),
		Bytecode: append(hexutil.Bytes(nil), a.Bytecode...),
	}
	if a.DeployedAddress != nil {
		addr := *a.DeployedAddress
		c.DeployedAddress = &addr
	}
	return c
}

// Set maps contract names to their artifacts.
type Set map[string]*Artifact

// Clone returns a deep copy of the set. Mutating the copy never affects the receiver.
func (s Set) Clone() Set {
	if s == nil {
		return Set{}
	}
	c := make(Set, len(s))
	for name, a := range s {
		c[name] = a.Clone()
	}
	return c
}

// Names returns the contract names in lexical order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Add inserts a, failing on a duplicate contract name.
func (s Set) Add(a *Artifact) error {
	if a.Name == "" {
		return fmt.Errorf("artifact has no contract name")
	}
	if _, exists := s[a.Name]; exists {
		return fmt.Errorf("duplicate contract name %q", a.Name)
	}
	s[a.Name] = a
	return nil
}

// Validate checks that every artifact carries a parseable ABI.
func (s Set) Validate() error {
	for _, name := range s.Names() {
		if _, err := s[name].ParseABI(); err != nil {
			return err
		}
	}
	return nil
}
