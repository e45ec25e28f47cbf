package main

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-contest/artifacts"
	"github.com/ethereum-optimism/infra/op-contest/exitcodes"
	"github.com/ethereum-optimism/infra/op-contest/internal/testcontract"
)

// mainEnv makes the test binary behave like op-contest, which also covers the worker
// processes it starts from its own executable.
const mainEnv = "CONTEST_RUN_MAIN"

func TestMain(m *testing.M) {
	if os.Getenv(mainEnv) != "" {
		main()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func testFile(expect string) string {
	return `
describe: storage
config:
  contracts:
    SimpleStorage:
      args: [42]
tests:
  - it: reads the constructor value
    steps:
      - call: SimpleStorage.get
        expect: ` + expect + `
  - it: reads it again
    steps:
      - call: SimpleStorage.get
        expect: ` + expect + `
`
}

// newProject creates a project with precompiled artifacts and the given test files.
func newProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, artifacts.WriteSet(filepath.Join(dir, "out"), testcontract.Set("SimpleStorage")))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "test"), 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "test", name), []byte(content), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "contest.yaml"), []byte("artifacts: out\nconcurrency: 2\n"), 0o644))
	return dir
}

// runContest runs op-contest in dir and returns its exit code and combined output.
func runContest(t *testing.T, dir string, args ...string) (int, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, os.Args[0], append([]string{"--no-color"}, args...)...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), mainEnv+"=1")
	out, err := cmd.CombinedOutput()
	if err == nil {
		return 0, string(out)
	}
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "unexpected error: %v\n%s", err, out)
	return exitErr.ExitCode(), string(out)
}

// TestExitCodeBehavior verifies that op-contest exits with the number of failures:
// - Exit code 0 when all tests pass
// - Exit code N when N tests fail
// - Exit code 1 when the contracts cannot be built
// - Exit code 2 when there's a runtime error
func TestExitCodeBehavior(t *testing.T) {
	testCases := []struct {
		name           string
		files          map[string]string
		setup          func(t *testing.T, dir string)
		args           []string
		expectedStatus int
		expectedOutput string
	}{
		{
			name:           "Passing tests should exit with code 0",
			files:          map[string]string{"a.yaml": testFile("42"), "b.yaml": testFile("42")},
			expectedStatus: exitcodes.Success,
			expectedOutput: " > All tests passed",
		},
		{
			name:           "Failing tests should exit with the failure count",
			files:          map[string]string{"a.yaml": testFile("42"), "b.yaml": testFile("1"), "c.yaml": testFile("2")},
			expectedStatus: 4,
			expectedOutput: " > Total number of failures: 4",
		},
		{
			name:           "A single file can be selected",
			files:          map[string]string{"a.yaml": testFile("42"), "b.yaml": testFile("1")},
			args:           []string{filepath.Join("test", "a.yaml")},
			expectedStatus: exitcodes.Success,
		},
		{
			name:           "The run command is the default",
			files:          map[string]string{"b.yaml": testFile("1")},
			args:           []string{"run"},
			expectedStatus: 2,
		},
		{
			name:  "Build failure should exit with code 1",
			files: map[string]string{"a.yaml": testFile("42")},
			setup: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "out", "Broken.json"), []byte("{"), 0o644))
			},
			expectedStatus: exitcodes.TestFailure,
			expectedOutput: "build failed",
		},
		{
			name:           "Missing test path should exit with code 2",
			files:          map[string]string{},
			args:           []string{"missing"},
			expectedStatus: exitcodes.RuntimeErr,
		},
		{
			name:           "Invalid configuration should exit with code 2",
			files:          map[string]string{"a.yaml": testFile("42")},
			args:           []string{"--concurrency", "-1"},
			expectedStatus: exitcodes.RuntimeErr,
			expectedOutput: "concurrency cannot be negative",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := newProject(t, tc.files)
			if tc.setup != nil {
				tc.setup(t, dir)
			}
			status, out := runContest(t, dir, tc.args...)
			assert.Equal(t, tc.expectedStatus, status, out)
			if tc.expectedOutput != "" {
				assert.Contains(t, out, tc.expectedOutput)
			}
			assert.NoDirExists(t, filepath.Join(dir, ".contest"))
		})
	}
}

func TestWorkerOutputIsRelayed(t *testing.T) {
	dir := newProject(t, map[string]string{"relayed.yaml": testFile("1")})
	status, out := runContest(t, dir)
	assert.Equal(t, 2, status)
	assert.Contains(t, out, "[relayed.yaml] ")
	assert.Contains(t, out, "expected 1, got 42")
}
