package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-contest/internal/testcontract"
	"github.com/ethereum-optimism/infra/op-contest/types"
)

const helperEnv = "CONTEST_CHANNEL_HELPER"

// TestMain turns the test binary into a fake worker when helperEnv is set.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(fakeWorker(mode))
	}
	os.Exit(m.Run())
}

func fakeWorker(mode string) int {
	ep := NewEndpoint(os.Stdin, os.Stdout)
	req, err := ep.Receive()
	if err != nil {
		fmt.Fprintln(os.Stderr, "receive:", err)
		return 9
	}
	_ = ep.Send(Response{Result: ResultInitiated})
	fmt.Fprintf(os.Stderr, "\x1b[32mrunning %s\x1b[0m\n", req.Options.File)

	switch mode {
	case "ok":
		for _, name := range req.Options.Artifacts.Names() {
			_ = ep.Send(Response{Result: ResultTest, Test: &types.TestResult{Title: name, Status: types.TestStatusPass}})
		}
		_ = ep.Send(Response{Result: ResultDone, Failures: len(req.Options.Artifacts)})
		return 0
	case "noise":
		fmt.Println("console output on stdout")
		_ = ep.Send(Response{Result: ResultDone, Failures: 0})
		return 0
	case "crash":
		fmt.Fprintln(os.Stderr, "panic: boom")
		return 3
	case "silent":
		return 0
	case "done-then-fail":
		_ = ep.Send(Response{Result: ResultDone, Failures: 2})
		return 1
	}
	return 8
}

func helperCmd(mode string) *exec.Cmd {
	cmd := exec.Command(os.Args[0])
	cmd.Env = append(os.Environ(), helperEnv+"="+mode)
	return cmd
}

func initRequest(file string) Request {
	return Request{Action: ActionInit, Options: &Options{Artifacts: testcontract.Set("Token", "Vault"), File: file}}
}

func TestProcessHappyPath(t *testing.T) {
	var relay bytes.Buffer
	p := NewProcess(helperCmd("ok"), ProcessConfig{Prefix: "[token.yaml] ", Relay: NewSyncWriter(&relay), Log: log.NewLogger(log.DiscardHandler())})

	var mu sync.Mutex
	var initiated, doneCount int
	var failures int
	var titles []string
	p.Once(ResultInitiated, func(Response) { mu.Lock(); initiated++; mu.Unlock() })
	p.On(ResultTest, func(r Response) { mu.Lock(); titles = append(titles, r.Test.Title); mu.Unlock() })
	p.Once(ResultDone, func(r Response) { mu.Lock(); doneCount++; failures = r.Failures; mu.Unlock() })

	require.NoError(t, p.Start())
	require.NoError(t, p.Send(initRequest("token.yaml")))
	require.NoError(t, p.Wait())

	assert.Equal(t, 1, initiated)
	assert.Equal(t, 1, doneCount)
	assert.Equal(t, 3, failures) // Reverter, Token, Vault
	assert.Equal(t, []string{"Reverter", "Token", "Vault"}, titles)
	assert.Contains(t, relay.String(), "[token.yaml] \x1b[32mrunning token.yaml")
	assert.Equal(t, "running token.yaml", p.Output())
	assert.NotZero(t, p.Pid())
}

func TestProcessStrayStdoutIsRelayed(t *testing.T) {
	var relay bytes.Buffer
	p := NewProcess(helperCmd("noise"), ProcessConfig{Prefix: "> ", Relay: NewSyncWriter(&relay)})
	require.NoError(t, p.Start())
	require.NoError(t, p.Send(initRequest("a.yaml")))
	require.NoError(t, p.Wait())
	assert.Contains(t, relay.String(), "> console output on stdout\n")
}

func TestProcessCrash(t *testing.T) {
	tests := []struct {
		mode     string
		exitCode int
		contains string
	}{
		{mode: "crash", exitCode: 3, contains: "panic: boom"},
		{mode: "silent", exitCode: 0, contains: "without reporting done"},
		{mode: "done-then-fail", exitCode: 1, contains: "exit status 1"},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			p := NewProcess(helperCmd(tt.mode), ProcessConfig{})
			require.NoError(t, p.Start())
			require.NoError(t, p.Send(initRequest("x.yaml")))
			err := p.Wait()
			require.True(t, IsCrashError(err))

			var crash *CrashError
			require.ErrorAs(t, err, &crash)
			assert.Equal(t, tt.exitCode, crash.ExitCode)
			assert.Contains(t, crash.Error()+crash.Output, tt.contains)
		})
	}
}

func TestProcessNotStarted(t *testing.T) {
	p := NewProcess(helperCmd("ok"), ProcessConfig{})
	require.Error(t, p.Send(initRequest("x.yaml")))
	require.Error(t, p.Wait())
	assert.Zero(t, p.Pid())
}

func TestProcessStartFailure(t *testing.T) {
	p := NewProcess(exec.Command("/nonexistent/op-contest"), ProcessConfig{})
	require.ErrorContains(t, p.Start(), "failed to start worker")
}

func TestEndpointRoundTrip(t *testing.T) {
	in := strings.NewReader(`{"action":"init","options":{"file":"a.yaml","artifacts":{},"testTimeout":1000}}` + "\n")
	var out bytes.Buffer
	ep := NewEndpoint(in, &out)

	req, err := ep.Receive()
	require.NoError(t, err)
	assert.Equal(t, ActionInit, req.Action)
	assert.Equal(t, "a.yaml", req.Options.File)
	assert.EqualValues(t, 1000, req.Options.TestTimeout)

	_, err = ep.Receive()
	assert.Equal(t, io.EOF, err)

	require.NoError(t, ep.Send(Response{Result: ResultDone, Failures: 0}))
	assert.Equal(t, `{"result":"done","failures":0}`+"\n", out.String())

	var decoded Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, ResultDone, decoded.Result)
}

func TestEndpointMalformedRequest(t *testing.T) {
	ep := NewEndpoint(strings.NewReader("not json\n"), io.Discard)
	_, err := ep.Receive()
	require.ErrorContains(t, err, "failed to decode request")
}

func TestTailKeepsLastLines(t *testing.T) {
	tail := newTailLines(2)
	tail.add("one")
	tail.add("\x1b[31mtwo\x1b[0m")
	tail.add("three")
	assert.Equal(t, "two\nthree", tail.String())
}
