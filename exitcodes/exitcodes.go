// Package exitcodes defines the standard exit codes used by op-contest.
package exitcodes

// Exit code constants used by op-contest
//
// * Success (0): Used when all tests pass successfully
// * TestFailure (1): Used when the contract build fails. A run with failing tests exits with
//   the number of failures instead, see FromFailures.
// * RuntimeErr (2): Used for runtime errors such as bad configuration or panics. A run with
//   exactly two failing tests exits with the same status.
const (
	Success     = 0 // All tests pass
	TestFailure = 1 // Build failure, or a single failing test
	RuntimeErr  = 2 // Runtime errors

	// MaxFailures is the largest failure count that survives the 8 bit truncation of
	// process exit statuses.
	MaxFailures = 255
)

// FromFailures converts an aggregate failure count into a process exit status.
// Counts above MaxFailures are clamped so they can never wrap around to Success.
//
// The status alone does not tell a run with one or two failures apart from a build or
// runtime error: 1 is also TestFailure and 2 is also RuntimeErr. Callers that need to know
// which one happened look at the error, or at the summary printed before exiting.
func FromFailures(failures int) int {
	switch {
	case failures <= 0:
		return Success
	case failures > MaxFailures:
		return MaxFailures
	default:
		return failures
	}
}
