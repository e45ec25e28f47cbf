package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// DefaultSolcBinary is the compiler looked up on PATH when none is configured.
const DefaultSolcBinary = "solc"

// SolcBuilder compiles every *.sol file below Source with `solc --combined-json abi,bin`.
type SolcBuilder struct {
	Source     string
	OutDir     string
	SolcBinary string
	Log        log.Logger

	// cmdBuilder is swapped in tests
	cmdBuilder func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

var _ Builder = (*SolcBuilder)(nil)

// combinedOutput is the document produced by solc --combined-json.
type combinedOutput struct {
	Contracts map[string]struct {
		ABI json.RawMessage `json:"abi"`
		Bin string          `json:"bin"`
	} `json:"contracts"`
	Version string `json:"version"`
}

func (b *SolcBuilder) Build(ctx context.Context) (Set, error) {
	sources, err := findSources(b.Source)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no solidity sources found in %s", b.Source)
	}

	binary := b.SolcBinary
	if binary == "" {
		binary = DefaultSolcBinary
	}
	newCmd := b.cmdBuilder
	if newCmd == nil {
		newCmd = exec.CommandContext
	}
	args := append([]string{"--combined-json", "abi,bin"}, sources...)
	cmd := newCmd(ctx, binary, args...)
	cmd.Dir = b.Source
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if b.Log != nil {
		b.Log.Info("Compiling contracts", "sources", len(sources), "solc", binary)
	}
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("solc failed: %w\nstderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	set, version, err := parseCombinedJSON(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	if b.Log != nil {
		b.Log.Debug("Compiled contracts", "contracts", len(set), "version", version)
	}
	if b.OutDir != "" {
		if err := os.MkdirAll(b.OutDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create build directory %s: %w", b.OutDir, err)
		}
		if err := os.WriteFile(filepath.Join(b.OutDir, "combined.json"), stdout.Bytes(), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write compiler output: %w", err)
		}
	}
	if err := WriteSet(b.OutDir, set); err != nil {
		return nil, err
	}
	return set, nil
}

// parseCombinedJSON converts solc's combined JSON into a Set keyed by bare contract name.
// Older compilers emit the ABI as a JSON encoded string, newer ones inline the array.
func parseCombinedJSON(data []byte) (Set, string, error) {
	var out combinedOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, "", fmt.Errorf("failed to parse solc output: %w", err)
	}
	keys := make([]string, 0, len(out.Contracts))
	for key := range out.Contracts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	set := make(Set, len(keys))
	for _, key := range keys {
		c := out.Contracts[key]
		name := key
		if i := strings.LastIndex(key, ":"); i >= 0 {
			name = key[i+1:]
		}
		abiJSON := c.ABI
		if len(abiJSON) > 0 && abiJSON[0] == '"' {
			var s string
			if err := json.Unmarshal(abiJSON, &s); err != nil {
				return nil, "", fmt.Errorf("contract %s: invalid ABI string: %w", key, err)
			}
			abiJSON = json.RawMessage(s)
		}
		code, err := decodeHex(c.Bin)
		if err != nil {
			return nil, "", fmt.Errorf("contract %s: %w", key, err)
		}
		if err := set.Add(&Artifact{Name: name, ABI: abiJSON, Bytecode: code}); err != nil {
			return nil, "", err
		}
	}
	if err := set.Validate(); err != nil {
		return nil, "", err
	}
	return set, out.Version, nil
}

func findSources(dir string) ([]string, error) {
	if dir == "" {
		return nil, fmt.Errorf("contracts directory is required")
	}
	var sources []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".sol") {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			sources = append(sources, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read contracts directory %s: %w", dir, err)
	}
	return sources, nil
}
