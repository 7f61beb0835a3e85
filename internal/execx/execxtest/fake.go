// Package execxtest provides a scriptable fake for execx.Runner.
package execxtest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dshills/programmodel/internal/execx"
)

// Handler simulates one tool. It may write files to emulate the tool's output.
type Handler func(ctx context.Context, cmd execx.Command) (*execx.Result, error)

// Runner dispatches commands to handlers keyed by the base name of the
// executable and records every call.
type Runner struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []execx.Command
}

// New creates an empty fake runner. Commands without a handler fail.
func New() *Runner {
	return &Runner{handlers: make(map[string]Handler)}
}

// Handle registers h for the executable with the given base name
func (r *Runner) Handle(name string, h Handler) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
	return r
}

// Fail makes the named executable exit with code 1
func (r *Runner) Fail(name, output string) *Runner {
	return r.Handle(name, func(ctx context.Context, cmd execx.Command) (*execx.Result, error) {
		return &execx.Result{ExitCode: 1}, &execx.ExitError{Command: cmd.String(), ExitCode: 1, Output: output}
	})
}

// Succeed makes the named executable succeed without side effects
func (r *Runner) Succeed(name string) *Runner {
	return r.Handle(name, func(ctx context.Context, cmd execx.Command) (*execx.Result, error) {
		return &execx.Result{}, nil
	})
}

// Run implements execx.Runner
func (r *Runner) Run(ctx context.Context, cmd execx.Command) (*execx.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	h, ok := r.handlers[filepath.Base(cmd.Name)]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("failed to start %s: executable file not found", cmd.Name)
	}
	return h(ctx, cmd)
}

// Calls returns the recorded commands in invocation order
func (r *Runner) Calls() []execx.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]execx.Command, len(r.calls))
	copy(out, r.calls)
	return out
}

// Called reports whether the named executable was invoked
func (r *Runner) Called(name string) bool {
	for _, c := range r.Calls() {
		if filepath.Base(c.Name) == name {
			return true
		}
	}
	return false
}
