package testlist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPath is searched when no path is given on the command line.
const DefaultPath = "test"

// Extensions lists the suffixes a file needs to be picked up as a test file.
var Extensions = []string{".yaml", ".yml"}

// IsTestFile reports whether name follows the test file naming convention.
func IsTestFile(name string) bool {
	for _, ext := range Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Discover resolves path into the list of test files to run.
// A file yields exactly itself, whatever its name. A directory yields the test files it
// directly contains, in directory listing order; subdirectories are not descended into.
func Discover(path string) ([]string, error) {
	if path == "" {
		path = DefaultPath
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat test path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test directory: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !IsTestFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(path, entry.Name()))
	}
	return files, nil
}
