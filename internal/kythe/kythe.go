// Package kythe wraps the Kythe toolchain used by the graph pipeline: merging
// the compilation unit fragments emitted by the indexer and compiling the
// merged archive into a binary entry stream.
package kythe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/dshills/programmodel/internal/execx"
)

var (
	ErrMissingKytheDir = errors.New("kythe directory is not configured")
	ErrNoFragments     = errors.New("no kzip fragments found")
	ErrEmptyIndex      = errors.New("binary index is empty")
)

// Conf locates the Kythe release
type Conf struct {
	Dir string
}

// Tool runs Kythe binaries from a release directory
type Tool struct {
	conf   Conf
	runner execx.Runner
	logger *zap.Logger
}

// NewTool creates a Tool
func NewTool(conf Conf, runner execx.Runner, logger *zap.Logger) (*Tool, error) {
	if conf.Dir == "" {
		return nil, ErrMissingKytheDir
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tool{conf: conf, runner: runner, logger: logger}, nil
}

func (t *Tool) kzipBinary() string {
	return filepath.Join(t.conf.Dir, "tools", "kzip")
}

func (t *Tool) cxxIndexerBinary() string {
	return filepath.Join(t.conf.Dir, "indexers", "cxx_indexer")
}

// Merge combines every .kzip fragment below outputDir into mergedKzip. On
// failure no merged file is left behind.
func (t *Tool) Merge(ctx context.Context, outputDir, mergedKzip string) error {
	fragments, err := findFragments(outputDir)
	if err != nil {
		return fmt.Errorf("failed to list kzip fragments: %w", err)
	}
	if len(fragments) == 0 {
		return fmt.Errorf("%w in %s", ErrNoFragments, outputDir)
	}

	args := append([]string{"merge", "--output", mergedKzip}, fragments...)
	t.logger.Debug("Merging kzip fragments", zap.Int("fragments", len(fragments)), zap.String("path", mergedKzip))
	if _, err := t.runner.Run(ctx, execx.Command{Name: t.kzipBinary(), Args: args}); err != nil {
		_ = os.Remove(mergedKzip)
		return fmt.Errorf("failed to merge kzip fragments: %w", err)
	}
	if _, err := os.Stat(mergedKzip); err != nil {
		return fmt.Errorf("merged kzip missing: %w", err)
	}
	return nil
}

// CxxIndex compiles a merged kzip into a binary Kythe entry stream
func (t *Tool) CxxIndex(ctx context.Context, mergedKzip, binFile string) error {
	args := []string{"--ignore_unimplemented", "-o", binFile, mergedKzip}
	if _, err := t.runner.Run(ctx, execx.Command{Name: t.cxxIndexerBinary(), Args: args}); err != nil {
		_ = os.Remove(binFile)
		return fmt.Errorf("failed to run cxx indexer: %w", err)
	}
	info, err := os.Stat(binFile)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(binFile)
		return fmt.Errorf("%w: %s", ErrEmptyIndex, binFile)
	}
	return nil
}

func findFragments(dir string) ([]string, error) {
	var fragments []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".kzip" {
			fragments = append(fragments, path)
		}
		return nil
	})
	sort.Strings(fragments)
	return fragments, err
}
