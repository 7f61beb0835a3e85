package workcopy

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/dshills/programmodel/internal/execx"
)

// readerBits grants group and other read and traverse, never write
const readerBits = 0o055

// Workspace is a scoped temporary directory for one strategy run
type Workspace struct {
	Dir string
}

// NewWorkspace creates a temporary directory below parent
func NewWorkspace(parent, pattern string) (*Workspace, error) {
	if parent == "" {
		return nil, ErrWorkDirMissing
	}
	dir, err := os.MkdirTemp(parent, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{Dir: dir}, nil
}

// Release removes the workspace and everything in it
func (w *Workspace) Release() error {
	return os.RemoveAll(w.Dir)
}

// GrantReaderAccess adds group/other read and traverse bits to dir so that a
// graph database running under another account can read files placed in it.
func GrantReaderAccess(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if err := os.Chmod(dir, info.Mode().Perm()|readerBits); err != nil {
		return fmt.Errorf("failed to grant reader access on %s: %w", dir, err)
	}
	return nil
}

// OwnershipReconciler hands a tree written by a privileged process back to
// the worker's user.
type OwnershipReconciler interface {
	Reconcile(ctx context.Context, dir string) error
}

// SudoChown reconciles ownership with `sudo chown -R uid:gid`
type SudoChown struct {
	runner execx.Runner
	uid    int
	gid    int
}

// NewSudoChown targets the current process's user and group
func NewSudoChown(runner execx.Runner) *SudoChown {
	return &SudoChown{runner: runner, uid: os.Getuid(), gid: os.Getgid()}
}

// Reconcile implements OwnershipReconciler
func (s *SudoChown) Reconcile(ctx context.Context, dir string) error {
	_, err := s.runner.Run(ctx, execx.Command{
		Name: "sudo",
		Args: []string{"-n", "chown", "-R", s.ownerString(), dir},
	})
	if err != nil {
		return fmt.Errorf("failed to reconcile ownership of %s: %w", dir, err)
	}
	return nil
}

func (s *SudoChown) ownerString() string {
	return strconv.Itoa(s.uid) + ":" + strconv.Itoa(s.gid)
}

// NoopReconciler is used when the indexer runs unprivileged
type NoopReconciler struct{}

// Reconcile implements OwnershipReconciler
func (NoopReconciler) Reconcile(context.Context, string) error { return nil }
