package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dshills/programmodel/internal/execx"
	"github.com/dshills/programmodel/internal/workcopy"
)

const (
	// ScriptName is the entry point looked up in Conf.ScriptDir
	ScriptName = "index_target.py"

	// OutputDirName is created inside the working copy
	OutputDirName = "kythe-output"
)

var (
	ErrMissingScriptDir = errors.New("script directory is not configured")
	ErrMissingPython    = errors.New("python interpreter is not configured")
)

// Conf configures the indexer invocation
type Conf struct {
	ScriptDir    string
	Python       string
	AllowPull    bool
	BaseImageURL string
}

// Validate reports missing required settings
func (c Conf) Validate() error {
	if c.ScriptDir == "" {
		return ErrMissingScriptDir
	}
	if c.Python == "" {
		return ErrMissingPython
	}
	return nil
}

// Indexer runs the source indexing script
type Indexer struct {
	conf   Conf
	runner execx.Runner
	logger *zap.Logger
}

// New creates an Indexer, rejecting incomplete configuration
func New(conf Conf, runner execx.Runner, logger *zap.Logger) (*Indexer, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{conf: conf, runner: runner, logger: logger}, nil
}

// IndexTarget indexes the working copy and returns the directory holding the
// tool output. scratchDir receives the tool's intermediate files and should be
// removed by the caller with the rest of the run. It returns "" with a nil
// error when the tool succeeded but left no output behind.
func (i *Indexer) IndexTarget(ctx context.Context, wc *workcopy.WorkingCopy, scratchDir string) (string, error) {
	outDir := filepath.Join(wc.Dir, OutputDirName)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create indexer output directory: %w", err)
	}

	args := []string{
		filepath.Join(i.conf.ScriptDir, ScriptName),
		"--task-dir", wc.Dir,
		"--source-dir", wc.SourceDir(),
		"--output", outDir,
	}
	if i.conf.BaseImageURL != "" {
		args = append(args, "--base-image-url", i.conf.BaseImageURL)
	}
	if scratchDir != "" {
		args = append(args, "--work-dir", scratchDir)
	}
	if !i.conf.AllowPull {
		args = append(args, "--no-pull")
	}

	i.logger.Debug("Running indexer", zap.String("task_dir", wc.TaskDir), zap.String("path", outDir))
	if _, err := i.runner.Run(ctx, execx.Command{Name: i.conf.Python, Args: args, Dir: i.conf.ScriptDir}); err != nil {
		return "", fmt.Errorf("failed to index target: %w", err)
	}

	empty, err := isEmptyDir(outDir)
	if err != nil {
		return "", fmt.Errorf("failed to inspect indexer output: %w", err)
	}
	if empty {
		return "", nil
	}
	return outDir, nil
}

func isEmptyDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
