// Package graphrag drives the external GraphRAG executable as a child
// process. The graph itself is built and queried entirely by that tool;
// this package only launches it, streams its log output, and captures
// query answers.
package graphrag

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrNoProcess is returned when the external executable could not be
// launched at all (missing binary, permissions). It lets callers
// distinguish "didn't start" from "ran and failed".
var ErrNoProcess = errors.New("graphrag process did not start")

// TimeoutMessage is returned verbatim as the answer when a query exceeds
// the wall-clock budget.
const TimeoutMessage = "Query timed out. Local LLMs can be slow - try a simpler question or wait longer."

// DefaultQueryTimeout is the wall-clock budget for a single blocking query.
const DefaultQueryTimeout = 600 * time.Second

// Runner invokes the GraphRAG executable against a fixed project root.
// It holds no state between invocations; each call starts a new child
// process. Callers must serialize indexing runs themselves, since the
// external tool does not support concurrent runs against one root.
type Runner struct {
	bin          string
	root         string
	queryTimeout time.Duration
}

// NewRunner creates a Runner for the given executable path and project root.
func NewRunner(bin, root string) *Runner {
	return &Runner{bin: bin, root: root, queryTimeout: DefaultQueryTimeout}
}

// childEnv returns the environment for child processes. The external tool
// is a Python CLI; unbuffered UTF-8 output is required for real-time log
// streaming.
func childEnv() []string {
	return append(os.Environ(), "PYTHONIOENCODING=utf-8", "PYTHONUNBUFFERED=1")
}

// Init runs `graphrag init --root <root>` and returns its combined output.
// A launch failure wraps ErrNoProcess.
func (r *Runner) Init(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, r.bin, "init", "--root", r.root)
	cmd.Env = childEnv()
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), fmt.Errorf("init exited with code %d: %s", exitErr.ExitCode(), strings.TrimSpace(string(out)))
		}
		return "", fmt.Errorf("%w: %v", ErrNoProcess, err)
	}
	return string(out), nil
}

// IndexRun is a handle to a running indexing child process. Lines yields
// the merged stdout/stderr stream one line at a time; Wait must be called
// after the stream is drained to collect the exit status.
type IndexRun struct {
	cmd   *exec.Cmd
	lines <-chan string
}

// Lines returns the channel of log lines. The channel is closed when the
// child closes its output or exits.
func (ir *IndexRun) Lines() <-chan string {
	return ir.lines
}

// Wait collects the child's exit status. A nonzero exit code is returned
// as an error carrying the code; it is distinct from a successful run that
// produced no findings.
func (ir *IndexRun) Wait() error {
	err := ir.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("indexing exited with code %d", exitErr.ExitCode())
	}
	return err
}

// StartIndex launches `graphrag index --root <root> --verbose` with stderr
// merged into stdout and returns a streaming handle. Cancelling ctx kills
// the child. A launch failure wraps ErrNoProcess.
func (r *Runner) StartIndex(ctx context.Context) (*IndexRun, error) {
	cmd := exec.CommandContext(ctx, r.bin, "index", "--root", r.root, "--verbose")
	cmd.Env = childEnv()

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("%w: %v", ErrNoProcess, err)
	}
	// The child holds its own copy of the write end; closing ours makes
	// the read end see EOF when the child exits.
	pw.Close()

	lines := make(chan string)
	go func() {
		defer close(lines)
		defer pr.Close()
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		// A scan failure (oversize line, read error) would otherwise look
		// like a clean end of stream; report it so the run log shows why
		// the output stopped.
		if err := scanner.Err(); err != nil {
			lines <- fmt.Sprintf("log stream aborted: %v", err)
		}
	}()

	return &IndexRun{cmd: cmd, lines: lines}, nil
}

// Query runs `graphrag query --root <root> --method <method> --query <q>`
// and blocks until completion or timeout.
//
// The returned string is always a user-presentable answer payload:
// stdout verbatim on success, TimeoutMessage on timeout, and the captured
// stderr behind an "Error: " marker on nonzero exit. Only a launch failure
// is reported as an error (wrapping ErrNoProcess).
func (r *Runner) Query(ctx context.Context, method, question string) (string, error) {
	queryCtx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	cmd := exec.CommandContext(queryCtx, r.bin, "query", "--root", r.root, "--method", method, "--query", question)
	cmd.Env = childEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoProcess, err)
	}

	err := cmd.Wait()
	if queryCtx.Err() == context.DeadlineExceeded {
		return TimeoutMessage, nil
	}
	if err != nil {
		return fmt.Sprintf("Error: %s", stderr.String()), nil
	}
	return stdout.String(), nil
}
