package kythe

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"
)

// MergedKzipPath names the merge stage output. Artifact names are keyed by the
// run identifier so concurrent runs never collide.
func MergedKzipPath(dir, runID string) string {
	return filepath.Join(dir, "kythe_output_merge_"+runID+".kzip")
}

// BinaryIndexPath names the binary index stage output
func BinaryIndexPath(dir, runID string) string {
	return filepath.Join(dir, "kythe_output_cxx_"+runID+".bin")
}

// BinaryIndex runs the merge and binary index stages: the fragments in
// outputDir are merged and compiled into a binary index inside tmpDir.
// It returns the path of the binary index.
func (t *Tool) BinaryIndex(ctx context.Context, taskID, runID, outputDir, tmpDir string) (string, error) {
	merged := MergedKzipPath(tmpDir, runID)
	if err := t.Merge(ctx, outputDir, merged); err != nil {
		return "", err
	}

	binFile := BinaryIndexPath(tmpDir, runID)
	if err := t.CxxIndex(ctx, merged, binFile); err != nil {
		t.logger.Error("Failed to index program to binary",
			zap.String("task_id", taskID), zap.String("path", binFile), zap.Error(err))
		return "", err
	}
	return binFile, nil
}
