// Package codequery builds CodeQuery databases (cscope + ctags) for a
// working copy and moves them to a stable location below the work directory.
package codequery

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/programmodel/internal/execx"
	"github.com/dshills/programmodel/internal/workcopy"
	"github.com/dshills/programmodel/pkg/types"
)

// Index file names, relative to the project source directory
const (
	FileList     = "cscope.files"
	CscopeOut    = "cscope.out"
	TagsFile     = "tags"
	DatabaseName = "codequery.db"

	// IndexRoot is the directory below the work directory holding finished indexes
	IndexRoot = "codequery"
)

var (
	ErrNoSources     = errors.New("no indexable source files found")
	ErrEmptyDatabase = errors.New("codequery database is empty")
	ErrIndexOutside  = errors.New("index directory is not below the index root")
)

// sourceExtensions are the file types cscope and ctags index
var sourceExtensions = map[string]bool{
	".c": true, ".h": true,
	".cc": true, ".cpp": true, ".cxx": true, ".c++": true,
	".hh": true, ".hpp": true, ".hxx": true, ".inc": true,
	".java": true,
}

// Builder runs the CodeQuery toolchain
type Builder struct {
	runner execx.Runner
	logger *zap.Logger
}

// NewBuilder creates a Builder
func NewBuilder(runner execx.Runner, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{runner: runner, logger: logger}
}

// Build indexes the source directory of wc and returns the database path
func (b *Builder) Build(ctx context.Context, wc *workcopy.WorkingCopy) (string, error) {
	src := wc.SourceDir()

	n, err := writeFileList(src)
	if err != nil {
		return "", err
	}
	b.logger.Debug("Indexing sources with codequery", zap.String("path", src), zap.Int("files", n))

	steps := []execx.Command{
		{Name: "cscope", Args: []string{"-bkq", "-i", FileList}, Dir: src},
		{Name: "ctags", Args: []string{"--fields=+i", "-n", "-L", FileList}, Dir: src},
		{Name: "cqmakedb", Args: []string{"-s", DatabaseName, "-c", CscopeOut, "-t", TagsFile, "-p"}, Dir: src},
	}
	for _, cmd := range steps {
		if _, err := b.runner.Run(ctx, cmd); err != nil {
			return "", fmt.Errorf("%s failed: %w", cmd.Name, err)
		}
	}

	db := filepath.Join(src, DatabaseName)
	info, err := os.Stat(db)
	if err != nil {
		return "", fmt.Errorf("failed to stat codequery database: %w", err)
	}
	if info.Size() == 0 {
		return "", ErrEmptyDatabase
	}
	return db, nil
}

// IndexDir is where the finished index of a task is kept
func IndexDir(workDir, taskID string) (string, error) {
	if err := types.ValidateTaskID(taskID); err != nil {
		return "", fmt.Errorf("%w: %q", err, taskID)
	}
	return filepath.Join(workDir, IndexRoot, taskID), nil
}

// Persist moves the working copy to dest, replacing an index left by an
// earlier attempt. dest must be a direct child of an IndexRoot directory.
// The working copy directory no longer exists afterwards.
func Persist(wc *workcopy.WorkingCopy, dest string) error {
	if !underIndexRoot(dest) {
		return fmt.Errorf("%w: %s", ErrIndexOutside, dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create index root: %w", err)
	}
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("failed to remove stale index: %w", err)
	}
	if err := os.Rename(wc.Dir, dest); err != nil {
		return fmt.Errorf("failed to persist index: %w", err)
	}
	return nil
}

func underIndexRoot(dest string) bool {
	clean := filepath.Clean(dest)
	if clean != dest && clean+string(filepath.Separator) != dest {
		return false
	}
	name := filepath.Base(clean)
	if types.ValidateTaskID(name) != nil {
		return false
	}
	return filepath.Base(filepath.Dir(clean)) == IndexRoot
}

// writeFileList writes cscope.files in src with paths relative to src
func writeFileList(src string) (int, error) {
	f, err := os.Create(filepath.Join(src, FileList))
	if err != nil {
		return 0, fmt.Errorf("failed to create file list: %w", err)
	}
	w := bufio.NewWriter(f)

	count := 0
	walkErr := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != src && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !sourceExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		// cscope treats unquoted whitespace as a separator
		if strings.ContainsAny(rel, " \t") {
			rel = `"` + rel + `"`
		}
		count++
		_, err = fmt.Fprintln(w, rel)
		return err
	})

	if err := w.Flush(); walkErr == nil {
		walkErr = err
	}
	if err := f.Close(); walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		return 0, fmt.Errorf("failed to write file list: %w", walkErr)
	}
	if count == 0 {
		return 0, ErrNoSources
	}
	return count, nil
}
