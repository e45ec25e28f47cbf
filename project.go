package contest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-contest/deployer"
	"github.com/ethereum-optimism/infra/op-contest/ledger"
)

// ProjectFiles are looked up in the working directory, in order, when no project file is given.
var ProjectFiles = []string{"contest.yaml", "contest.yml", "contest.toml"}

// Project is the optional project file. Paths are relative to the file's directory.
type Project struct {
	Contracts   string            `yaml:"contracts" toml:"contracts"`
	Artifacts   string            `yaml:"artifacts" toml:"artifacts"`
	Solc        string            `yaml:"solc" toml:"solc"`
	Tests       string            `yaml:"tests" toml:"tests"`
	Versions    map[string]string `yaml:"versions" toml:"versions"`
	Concurrency int               `yaml:"concurrency" toml:"concurrency"`
	TestTimeout Duration          `yaml:"testTimeout" toml:"test_timeout"`
	Ledger      ledger.Config     `yaml:"ledger" toml:"ledger"`

	// dir is the directory the project file was loaded from.
	dir string
}

// Duration reads durations such as "30s" from YAML and TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// FindProject returns the first of ProjectFiles present in dir, or "" when there is none.
func FindProject(dir string) string {
	for _, name := range ProjectFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// LoadProject reads the project file at path. The format follows the file extension.
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}
	var p Project
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.Decode(string(data), &p)
		if err != nil {
			return nil, fmt.Errorf("failed to parse project file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys in project file %s: %v", path, undecoded)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse project file %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported project file format %q", ext)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project file %s: %w", path, err)
	}
	p.dir = filepath.Dir(path)
	return &p, nil
}

// Validate checks the values that can be checked without touching the file system.
func (p *Project) Validate() error {
	for _, name := range slices.Sorted(maps.Keys(p.Versions)) {
		if err := deployer.ValidateVersion(p.Versions[name]); err != nil {
			return fmt.Errorf("version of %s: %w", name, err)
		}
	}
	if p.Concurrency < 0 {
		return errors.New("concurrency cannot be negative")
	}
	if p.TestTimeout < 0 {
		return errors.New("testTimeout cannot be negative")
	}
	return nil
}

// path resolves a project relative path.
func (p *Project) path(rel string) string {
	if rel == "" || filepath.IsAbs(rel) || p.dir == "" {
		return rel
	}
	return filepath.Join(p.dir, rel)
}
