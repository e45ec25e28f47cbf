// Package runner fans test files out to isolated worker processes and aggregates what they
// report.
//
// The main components are:
//   - Pool: runs at most Concurrency workers at a time and collects one WorkerResult per file
//   - Executor: runs a single test file, ProcessExecutor does it in a child process
//   - Result: the sum of all worker failures, the source of the exit status
package runner
