package types

import (
	"fmt"
	"strings"
	"time"
)

// TestStatus represents the possible states of a test case execution
type TestStatus string

const (
	TestStatusPass  TestStatus = "pass"
	TestStatusFail  TestStatus = "fail"
	TestStatusSkip  TestStatus = "skip"
	TestStatusError TestStatus = "error"
)

// IsFailure reports whether the status counts towards the failure total.
func (s TestStatus) IsFailure() bool {
	return s == TestStatusFail || s == TestStatusError
}

// TestResult captures the outcome of a single test case (or hook) inside a test file.
// It is produced by the worker and streamed to the orchestrator, so it only carries
// JSON friendly fields.
type TestResult struct {
	File     string        `json:"file"`
	Title    string        `json:"title"`
	Status   TestStatus    `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Hook     bool          `json:"hook,omitempty"` // a failing suite hook, not a test case

	// Hierarchy tracking: describe blocks from the root of the file down to the test.
	HierarchyPath []string `json:"path,omitempty"`
}

// NewTestResult creates a result for the test titled title under the given describe path.
func NewTestResult(file string, path []string, title string) *TestResult {
	return &TestResult{
		File:          file,
		Title:         title,
		Status:        TestStatusPass,
		HierarchyPath: BuildHierarchyPath(append(append([]string{}, path...), title)...),
	}
}

// Fail marks the result as failed with err.
func (tr *TestResult) Fail(err error) {
	tr.Status = TestStatusFail
	if err != nil {
		tr.Error = err.Error()
	}
}

// Depth returns the nesting depth of the test (0 for a test directly in the file).
func (tr *TestResult) Depth() int {
	return CalculateDepthFromPath(tr.HierarchyPath)
}

// GetParentName returns the name of the enclosing describe block
func (tr *TestResult) GetParentName() string {
	if len(tr.HierarchyPath) <= 1 {
		return ""
	}
	return tr.HierarchyPath[len(tr.HierarchyPath)-2]
}

// GetFullTestPath returns the full hierarchical path as a string
func (tr *TestResult) GetFullTestPath() string {
	return strings.Join(tr.HierarchyPath, " / ")
}

func (tr *TestResult) String() string {
	if tr.Error != "" {
		return fmt.Sprintf("%s [%s]: %s", tr.GetFullTestPath(), tr.Status, tr.Error)
	}
	return fmt.Sprintf("%s [%s]", tr.GetFullTestPath(), tr.Status)
}

// BuildHierarchyPath creates a hierarchy path from describe/test titles, dropping empty ones.
func BuildHierarchyPath(names ...string) []string {
	path := make([]string, 0, len(names))
	for _, name := range names {
		if name != "" {
			path = append(path, name)
		}
	}
	return path
}

// CalculateDepthFromPath calculates the depth from a hierarchy path
// Depth is always len(path) - 1 (0 for top-level tests)
func CalculateDepthFromPath(path []string) int {
	if len(path) <= 1 {
		return 0
	}
	return len(path) - 1
}
