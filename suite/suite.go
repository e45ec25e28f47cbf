// Package suite loads YAML test files and runs them the way mocha runs describe/it blocks.
//
// A test file looks like:
//
//	describe: SimpleStorage
//	config:
//	  contracts:
//	    SimpleStorage:
//	      args: [100]
//	requires:
//	  Storage: contracts/SimpleStorage
//	tests:
//	  - it: returns the constructor value
//	    steps:
//	      - call: Storage.get
//	        expect: 100
//	  - it: stores a value
//	    steps:
//	      - send: Storage.set
//	        args: [150]
//	      - call: Storage.get
//	        expect: 150
package suite

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-contest/deployer"
)

// ContractsModule prefixes the module path of every contract a test can require.
const ContractsModule = "contracts/"

// Suite is a describe block. The root of a test file is a suite as well.
type Suite struct {
	Describe string `yaml:"describe"`
	// Config is deployed before the first test of the suite, like a mocha before hook.
	Config   *deployer.Request `yaml:"config"`
	Requires map[string]string `yaml:"requires"`
	Tests    []Test            `yaml:"tests"`
	Suites   []Suite           `yaml:"suites"`
}

// Test is an it block.
type Test struct {
	It string `yaml:"it"`
	// Config triggers a fresh deploy cycle before the steps run.
	Config *deployer.Request `yaml:"config"`
	Skip   bool              `yaml:"skip"`
	Steps  []Step            `yaml:"steps"`
}

// Step is one interaction with a contract: a call or a transaction.
type Step struct {
	Call         string    `yaml:"call"`
	Send         string    `yaml:"send"`
	Args         []any     `yaml:"args"`
	From         any       `yaml:"from"`
	Value        any       `yaml:"value"`
	Expect       yaml.Node `yaml:"expect"`
	ExpectRevert bool      `yaml:"expectRevert"`
}

// Target splits the step's "Alias.method" target.
func (s Step) Target() (alias, method string) {
	target := s.Call
	if target == "" {
		target = s.Send
	}
	alias, method, _ = strings.Cut(target, ".")
	return alias, method
}

// HasExpect reports whether the step declares an expected result.
func (s Step) HasExpect() bool {
	return s.Expect.Kind != 0
}

// Expected decodes the expected result.
func (s Step) Expected() (any, error) {
	if !s.HasExpect() {
		return nil, nil
	}
	var v any
	if err := s.Expect.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid expect: %w", err)
	}
	return v, nil
}

// Load reads and validates the test file at path.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a test file. Unknown keys are rejected.
func Parse(data []byte) (*Suite, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var s Suite
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse test file: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the structure of the suite and everything nested in it.
func (s *Suite) Validate() error {
	return s.validate(nil)
}

func (s *Suite) validate(path []string) error {
	path = append(path, s.Describe)
	where := strings.Join(path, " / ")
	if s.Describe == "" && len(path) > 1 {
		return fmt.Errorf("%s: nested suite without describe", where)
	}
	if s.Config != nil {
		if err := s.Config.Validate(); err != nil {
			return fmt.Errorf("%s: config: %w", where, err)
		}
	}
	for alias, module := range s.Requires {
		if alias == "" || module == "" {
			return fmt.Errorf("%s: requires entries need an alias and a module", where)
		}
	}
	for i, t := range s.Tests {
		if t.It == "" {
			return fmt.Errorf("%s: test #%d has no title", where, i+1)
		}
		if t.Config != nil {
			if err := t.Config.Validate(); err != nil {
				return fmt.Errorf("%s / %s: config: %w", where, t.It, err)
			}
		}
		for j, step := range t.Steps {
			if err := step.validate(); err != nil {
				return fmt.Errorf("%s / %s: step #%d: %w", where, t.It, j+1, err)
			}
		}
	}
	for i := range s.Suites {
		if err := s.Suites[i].validate(path); err != nil {
			return err
		}
	}
	return nil
}

func (s Step) validate() error {
	if (s.Call == "") == (s.Send == "") {
		return errors.New("exactly one of call or send is required")
	}
	alias, method := s.Target()
	if alias == "" || method == "" {
		return fmt.Errorf("target must look like Contract.method")
	}
	if s.Call != "" && s.ExpectRevert {
		return errors.New("expectRevert only applies to send")
	}
	if s.Call != "" && s.Value != nil {
		return errors.New("value only applies to send")
	}
	return nil
}

// CountTests returns the number of it blocks in the suite tree.
func (s *Suite) CountTests() int {
	n := len(s.Tests)
	for i := range s.Suites {
		n += s.Suites[i].CountTests()
	}
	return n
}
