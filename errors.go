package contest

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-contest/exitcodes"
)

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include configuration errors, file not found, etc.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// BuildError means the contracts could not be built. No test ran, the exit code is 1.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed: %v", e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// NewBuildError creates a new BuildError
func NewBuildError(err error) *BuildError {
	return &BuildError{Err: err}
}

// IsBuildError checks if the error is or wraps a BuildError
func IsBuildError(err error) bool {
	var buildErr *BuildError
	return err != nil && errors.As(err, &buildErr)
}

// TestFailureError carries the total failure count of a run, which is also its exit code.
type TestFailureError struct {
	Failures int
}

func (e *TestFailureError) Error() string {
	if e.Failures == 1 {
		return "test failure: 1 failure"
	}
	return fmt.Sprintf("test failure: %d failures", e.Failures)
}

// ExitCode is the failure count clamped to a valid process exit status.
func (e *TestFailureError) ExitCode() int {
	return exitcodes.FromFailures(e.Failures)
}

// NewTestFailureError creates a new TestFailureError
func NewTestFailureError(failures int) *TestFailureError {
	return &TestFailureError{Failures: failures}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// ExitCode maps an error returned by a run to the process exit status. Failure counts share
// the low statuses with the error classes, so a status of 2 means either a runtime error or
// exactly two failing tests (see exitcodes.FromFailures).
func ExitCode(err error) int {
	var testErr *TestFailureError
	switch {
	case err == nil:
		return exitcodes.Success
	case errors.As(err, &testErr):
		return testErr.ExitCode()
	case IsBuildError(err):
		return exitcodes.TestFailure
	case IsRuntimeError(err):
		return exitcodes.RuntimeErr
	default:
		return exitcodes.TestFailure
	}
}
