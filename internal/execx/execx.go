// Package execx runs the external tools the indexing strategies depend on.
//
// All subprocess invocations go through the Runner interface so that tests can
// replace the real tools with fakes.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// maxErrorOutput bounds the amount of tool output copied into errors
const maxErrorOutput = 2048

// Command describes one subprocess invocation
type Command struct {
	Name string
	Args []string
	Dir  string   // Working directory, empty for the current one
	Env  []string // Extra KEY=VALUE pairs appended to the worker's environment
}

// String renders the command line for logs
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result holds the captured output of a finished command
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// ExitError is returned when a command exits with a non-zero status
type ExitError struct {
	Command  string
	ExitCode int
	Output   string // Tail of stderr, or stdout when stderr is empty
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, e.Output)
}

// Runner executes commands
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	logger *zap.Logger
}

// NewExecRunner creates an ExecRunner
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{logger: logger}
}

// Run starts the command, waits for it and captures its output. A non-zero
// exit status is reported as *ExitError together with the captured Result.
// Cancelling ctx kills the whole process group.
func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Name == "" {
		return nil, errors.New("command name is empty")
	}

	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	// Own process group so cancellation reaches children of shell wrappers
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("Running command", zap.String("cmd", c.String()), zap.String("dir", c.Dir))
	start := time.Now()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", c.Name, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return nil, fmt.Errorf("%s cancelled: %w", c.Name, ctx.Err())
	case err = <-done:
	}

	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", c.Name, err)
		}
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{
			Command:  c.String(),
			ExitCode: res.ExitCode,
			Output:   outputTail(res),
		}
	}

	r.logger.Debug("Command finished", zap.String("cmd", c.Name), zap.Duration("duration", res.Duration))
	return res, nil
}

func outputTail(res *Result) string {
	out := bytes.TrimSpace(res.Stderr)
	if len(out) == 0 {
		out = bytes.TrimSpace(res.Stdout)
	}
	if len(out) > maxErrorOutput {
		out = out[len(out)-maxErrorOutput:]
	}
	return string(out)
}
