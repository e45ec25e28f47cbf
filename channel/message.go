// Package channel implements the message channel between the orchestrator and a worker process.
//
// Messages are JSON documents, one per line. The orchestrator writes requests to the worker's
// stdin and reads responses from its stdout. Anything the worker writes to stderr is relayed
// as plain output.
package channel

import (
	"time"

	"github.com/ethereum-optimism/infra/op-contest/artifacts"
	"github.com/ethereum-optimism/infra/op-contest/ledger"
	"github.com/ethereum-optimism/infra/op-contest/types"
)

// Action tags a request sent to a worker.
type Action string

const (
	ActionInit Action = "init"
)

// Result tags a response sent by a worker.
type Result string

const (
	ResultInitiated Result = "initiated"
	ResultTest      Result = "test"
	ResultDeploy    Result = "deploy"
	ResultDone      Result = "done"
)

// Options carries everything a worker needs to run one test file.
type Options struct {
	Artifacts   artifacts.Set     `json:"artifacts"`
	File        string            `json:"file"`
	Ledger      ledger.Config     `json:"ledger"`
	Versions    map[string]string `json:"versions,omitempty"`
	TestTimeout time.Duration     `json:"testTimeout,omitempty"`
	// Colors enables coloured reporter output.
	Colors bool `json:"colors,omitempty"`
}

// Request is an orchestrator to worker message.
type Request struct {
	Action  Action   `json:"action"`
	Options *Options `json:"options,omitempty"`
}

// DeployReport summarises one deploy cycle of a worker.
type DeployReport struct {
	Contracts int           `json:"contracts"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Response is a worker to orchestrator message.
type Response struct {
	Result   Result            `json:"result"`
	Failures int               `json:"failures"`
	Test     *types.TestResult `json:"test,omitempty"`
	Deploy   *DeployReport     `json:"deploy,omitempty"`
}
