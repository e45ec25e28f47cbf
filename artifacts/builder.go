package artifacts

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// DefaultBuildDir is the transient directory, relative to the project root, that builders
// write normalized artifacts to. The orchestrator removes it at the end of every run.
const DefaultBuildDir = ".contest/contracts"

// Builder produces the artifact set for a run. It is invoked once per run.
type Builder interface {
	Build(ctx context.Context) (Set, error)
}

// DirBuilder loads precompiled artifacts from a directory tree. It understands the
// normalized format written by this package as well as Hardhat and Foundry artifact files.
type DirBuilder struct {
	Source string // directory holding *.json artifacts
	OutDir string // transient build directory
	Log    log.Logger
}

var _ Builder = (*DirBuilder)(nil)

// rawArtifact is the union of the artifact layouts we accept.
type rawArtifact struct {
	Name         string          `json:"name"`
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     json.RawMessage `json:"bytecode"`
}

// Build walks Source, parses every artifact file concurrently and writes the normalized set
// to OutDir.
func (b *DirBuilder) Build(ctx context.Context) (Set, error) {
	if b.Source == "" {
		return nil, fmt.Errorf("artifact source directory is required")
	}
	var files []string
	err := filepath.WalkDir(b.Source, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".json") && !strings.HasSuffix(d.Name(), ".dbg.json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact directory %s: %w", b.Source, err)
	}

	parsed := make([]*Artifact, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, err := loadArtifactFile(file)
			if err != nil {
				return err
			}
			parsed[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := make(Set, len(parsed))
	for _, a := range parsed {
		if a == nil {
			continue
		}
		if err := set.Add(a); err != nil {
			return nil, err
		}
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if b.Log != nil {
		b.Log.Debug("Loaded precompiled artifacts", "source", b.Source, "contracts", len(set))
	}
	if err := WriteSet(b.OutDir, set); err != nil {
		return nil, err
	}
	return set, nil
}

// loadArtifactFile parses one artifact file. Files that are JSON but not artifacts (no ABI)
// yield a nil artifact and no error.
func loadArtifactFile(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}
	var raw rawArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse artifact %s: %w", path, err)
	}
	if len(raw.ABI) == 0 {
		return nil, nil
	}
	name := raw.Name
	if name == "" {
		name = raw.ContractName
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	code, err := decodeBytecode(raw.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	return &Artifact{Name: name, ABI: raw.ABI, Bytecode: code}, nil
}

// decodeBytecode accepts a hex string (with or without 0x) or a Foundry style
// {"object": "0x..."} value.
func decodeBytecode(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var obj struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("unsupported bytecode format")
		}
		s = obj.Object
	}
	return decodeHex(s)
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if strings.Contains(s, "__") {
		return nil, fmt.Errorf("bytecode contains unlinked library placeholders")
	}
	code, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid bytecode: %w", err)
	}
	return code, nil
}

// WriteSet writes every artifact of set to dir as <Name>.json, creating dir if needed.
func WriteSet(dir string, set Set) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create build directory %s: %w", dir, err)
	}
	for name, a := range set {
		data, err := json.MarshalIndent(a, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode artifact %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name+".json"), data, 0o644); err != nil {
			return fmt.Errorf("failed to write artifact %s: %w", name, err)
		}
	}
	return nil
}
