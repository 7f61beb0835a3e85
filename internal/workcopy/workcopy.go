package workcopy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/programmodel/internal/execx"
)

// Task tree layout
const (
	SourceDirName = "src"
	ToolingDir    = "fuzz-tooling"
	DiffDirName   = "diff"
)

var (
	ErrTaskDirMissing = errors.New("task directory does not exist")
	ErrWorkDirMissing = errors.New("work directory is not configured")
)

// Lifecycle acquires working copies
type Lifecycle struct {
	runner execx.Runner
	logger *zap.Logger
}

// New creates a Lifecycle. runner is used to apply patches.
func New(runner execx.Runner, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{runner: runner, logger: logger}
}

// WorkingCopy is an exclusively owned writable copy of a task tree
type WorkingCopy struct {
	// Dir is the root of the copy
	Dir string
	// TaskDir is the read-only tree it was copied from
	TaskDir string
	// Patched reports whether a pending diff was applied
	Patched bool

	once   sync.Once
	logger *zap.Logger
}

// Acquire copies taskDir into a new directory below workDir and applies the
// pending patch, if any. On error nothing is left behind.
func (l *Lifecycle) Acquire(ctx context.Context, taskDir, workDir string) (*WorkingCopy, error) {
	if workDir == "" {
		return nil, ErrWorkDirMissing
	}
	info, err := os.Stat(taskDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrTaskDirMissing, taskDir)
	}

	dir, err := os.MkdirTemp(workDir, "rw-"+filepath.Base(taskDir)+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create working copy directory: %w", err)
	}
	wc := &WorkingCopy{Dir: dir, TaskDir: taskDir, logger: l.logger}

	if err := copyTree(ctx, taskDir, dir); err != nil {
		_ = wc.Release()
		return nil, fmt.Errorf("failed to copy task tree: %w", err)
	}

	patched, err := l.applyPatch(ctx, wc)
	if err != nil {
		_ = wc.Release()
		return nil, err
	}
	wc.Patched = patched
	if !patched {
		l.logger.Debug("No diffs for task", zap.String("task_dir", taskDir))
	}

	return wc, nil
}

// SourceDir returns the project source directory: the only directory below
// src/, or src/ itself when it holds several projects.
func (wc *WorkingCopy) SourceDir() string {
	return sourceDir(filepath.Join(wc.Dir, SourceDirName))
}

// ToolingDir returns the build tooling directory of the copy
func (wc *WorkingCopy) ToolingDir() string {
	return filepath.Join(wc.Dir, ToolingDir)
}

// Release removes the copy. It is safe to call more than once.
func (wc *WorkingCopy) Release() error {
	var err error
	wc.once.Do(func() {
		err = os.RemoveAll(wc.Dir)
		if err != nil {
			wc.logger.Warn("Failed to remove working copy", zap.String("path", wc.Dir), zap.Error(err))
		}
	})
	return err
}

func sourceDir(src string) string {
	entries, err := os.ReadDir(src)
	if err != nil {
		return src
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 1 {
		return filepath.Join(src, dirs[0])
	}
	return src
}

// pendingDiffs lists the patch files of the copy in application order
func pendingDiffs(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dir, DiffDirName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var diffs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".diff", ".patch":
			diffs = append(diffs, filepath.Join(dir, DiffDirName, e.Name()))
		}
	}
	sort.Strings(diffs)
	return diffs, nil
}

// applyPatch applies every pending diff. Returns false when there is none.
func (l *Lifecycle) applyPatch(ctx context.Context, wc *WorkingCopy) (bool, error) {
	diffs, err := pendingDiffs(wc.Dir)
	if err != nil {
		return false, fmt.Errorf("failed to list diffs: %w", err)
	}
	if len(diffs) == 0 {
		return false, nil
	}

	src := wc.SourceDir()
	for _, diff := range diffs {
		l.logger.Debug("Applying diff", zap.String("path", diff), zap.String("dir", src))
		_, err := l.runner.Run(ctx, execx.Command{
			Name: "patch",
			Args: []string{"-p1", "--batch", "--forward", "-d", src, "-i", diff},
		})
		if err != nil {
			return false, fmt.Errorf("failed to apply diff %s: %w", filepath.Base(diff), err)
		}
	}
	return true, nil
}

// copyTree copies src into the existing directory dst, preserving file modes
// and symlinks.
func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			if rel == "." {
				return nil
			}
			// Owner write is needed to populate the copy of a read-only tree
			return os.Mkdir(target, info.Mode().Perm()|0o700)
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm()|0o200)
		default:
			// Sockets, devices and pipes have no place in a source tree
			return nil
		}
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
