package channel

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// maxLineBytes bounds a single message or relayed output line.
const maxLineBytes = 16 * 1024 * 1024

// Handler consumes one response.
type Handler func(Response)

// ProcessConfig tunes how a worker process is attached.
type ProcessConfig struct {
	// Prefix is prepended to every relayed output line.
	Prefix string
	// Relay receives the worker's output, one Write per line, from several goroutines.
	// Nil discards it.
	Relay io.Writer
	// TailLines is the number of output lines kept for crash reports.
	TailLines int
	Log       log.Logger
}

// Process is the orchestrator side of the channel to one worker process.
//
// Handlers must be registered before Start. Once handlers fire for the first response with
// their tag only; On handlers fire for every one.
type Process struct {
	cmd *exec.Cmd
	cfg ProcessConfig
	log log.Logger

	stdin io.WriteCloser
	group errgroup.Group
	tail  *tailLines

	encMu sync.Mutex
	enc   *json.Encoder

	mu       sync.Mutex
	once     map[Result]Handler
	on       map[Result]Handler
	received map[Result]int
	started  bool
}

// NewProcess wraps cmd, which must not have been started yet.
func NewProcess(cmd *exec.Cmd, cfg ProcessConfig) *Process {
	lgr := cfg.Log
	if lgr == nil {
		lgr = log.Root()
	}
	return &Process{
		cmd:      cmd,
		cfg:      cfg,
		log:      lgr,
		tail:     newTailLines(cfg.TailLines),
		once:     make(map[Result]Handler),
		on:       make(map[Result]Handler),
		received: make(map[Result]int),
	}
}

// Once registers fn for the first response tagged result.
func (p *Process) Once(result Result, fn Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.once[result] = fn
}

// On registers fn for every response tagged result.
func (p *Process) On(result Result, fn Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.on[result] = fn
}

// Start launches the process and begins dispatching its output.
func (p *Process) Start() error {
	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open worker stdout: %w", err)
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open worker stderr: %w", err)
	}
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	p.stdin = stdin
	p.enc = json.NewEncoder(stdin)
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()

	p.group.Go(func() error { return p.readResponses(stdout) })
	p.group.Go(func() error { return p.relayOutput(stderr) })
	return nil
}

// Send writes req to the worker.
func (p *Process) Send(req Request) error {
	p.encMu.Lock()
	defer p.encMu.Unlock()
	if p.enc == nil {
		return errors.New("worker not started")
	}
	if err := p.enc.Encode(req); err != nil {
		return fmt.Errorf("failed to send %s: %w", req.Action, err)
	}
	return nil
}

// Pid returns the worker's process id, or 0 before Start.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Wait blocks until the worker exits and all of its output has been dispatched. It returns a
// *CrashError when the worker exited with a non-zero status or without reporting done.
func (p *Process) Wait() error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return errors.New("worker not started")
	}

	readErr := p.group.Wait()
	_ = p.stdin.Close()
	waitErr := p.cmd.Wait()

	p.mu.Lock()
	done := p.received[ResultDone] > 0
	p.mu.Unlock()

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return &CrashError{ExitCode: -1, Output: p.tail.String(), Err: waitErr}
		}
		exitCode = exitErr.ExitCode()
	}
	if exitCode != 0 || !done {
		err := readErr
		if waitErr != nil {
			err = waitErr
		}
		if err == nil {
			err = errors.New("worker exited without reporting done")
		}
		return &CrashError{ExitCode: exitCode, Output: p.tail.String(), Err: err}
	}
	if readErr != nil {
		p.log.Warn("Worker output ended abnormally", "pid", p.Pid(), "err", readErr)
	}
	return nil
}

// Output returns the last relayed output lines, stripped of colour codes.
func (p *Process) Output() string {
	return p.tail.String()
}

func (p *Process) readResponses(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil || resp.Result == "" {
			// Not ours. Treat stray stdout like regular output.
			p.emit(string(line))
			continue
		}
		p.dispatch(resp)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read worker messages: %w", err)
	}
	return nil
}

func (p *Process) dispatch(resp Response) {
	p.mu.Lock()
	p.received[resp.Result]++
	handlers := make([]Handler, 0, 2)
	if fn, ok := p.once[resp.Result]; ok {
		delete(p.once, resp.Result)
		handlers = append(handlers, fn)
	}
	if fn, ok := p.on[resp.Result]; ok {
		handlers = append(handlers, fn)
	}
	p.mu.Unlock()

	if len(handlers) == 0 {
		p.log.Debug("Unhandled worker message", "result", resp.Result)
	}
	for _, fn := range handlers {
		fn(resp)
	}
}

func (p *Process) relayOutput(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		p.emit(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read worker output: %w", err)
	}
	return nil
}

func (p *Process) emit(line string) {
	p.tail.add(line)
	if p.cfg.Relay != nil {
		_, _ = io.WriteString(p.cfg.Relay, p.cfg.Prefix+line+"\n")
	}
}

// CrashError reports a worker that terminated abnormally.
type CrashError struct {
	ExitCode int
	Output   string
	Err      error
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("worker crashed (exit code %d): %v", e.ExitCode, e.Err)
}

func (e *CrashError) Unwrap() error {
	return e.Err
}

// IsCrashError checks if the error is or wraps a CrashError
func IsCrashError(err error) bool {
	var crashErr *CrashError
	return err != nil && errors.As(err, &crashErr)
}

// SyncWriter serializes writes from several workers relaying into one stream.
type SyncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewSyncWriter(w io.Writer) *SyncWriter {
	return &SyncWriter{w: w}
}

func (s *SyncWriter) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(b)
}
