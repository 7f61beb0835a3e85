package kythe

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/programmodel/internal/execx"
	"github.com/dshills/programmodel/internal/execx/execxtest"
)

// fakeKythe emulates kzip merge and cxx_indexer by writing their output files
func fakeKythe(binContent []byte) *execxtest.Runner {
	return execxtest.New().
		Handle("kzip", func(ctx context.Context, cmd execx.Command) (*execx.Result, error) {
			return &execx.Result{}, os.WriteFile(cmd.Args[2], []byte("merged"), 0o644)
		}).
		Handle("cxx_indexer", func(ctx context.Context, cmd execx.Command) (*execx.Result, error) {
			return &execx.Result{}, os.WriteFile(cmd.Args[2], binContent, 0o644)
		})
}

func writeFragments(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("PK"), 0o644))
	}
	return dir
}

func TestNewTool_RequiresDir(t *testing.T) {
	_, err := NewTool(Conf{}, execxtest.New(), nil)
	assert.ErrorIs(t, err, ErrMissingKytheDir)
}

func TestBinaryIndex(t *testing.T) {
	out := writeFragments(t, "b.kzip", "sub/a.kzip", "notes.txt")
	tmp := t.TempDir()
	runner := fakeKythe([]byte{0x01, 0x02})

	tool, err := NewTool(Conf{Dir: "/opt/kythe"}, runner, nil)
	require.NoError(t, err)

	bin, err := tool.BinaryIndex(context.Background(), "T1", "run1", out, tmp)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, "kythe_output_cxx_run1.bin"), bin)

	calls := runner.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/opt/kythe/tools/kzip", calls[0].Name)
	assert.Equal(t, []string{
		"merge", "--output", filepath.Join(tmp, "kythe_output_merge_run1.kzip"),
		filepath.Join(out, "b.kzip"), filepath.Join(out, "sub", "a.kzip"),
	}, calls[0].Args)
	assert.Equal(t, "/opt/kythe/indexers/cxx_indexer", calls[1].Name)
}

func TestBinaryIndex_NoFragments(t *testing.T) {
	runner := fakeKythe([]byte{1})
	tool, err := NewTool(Conf{Dir: "/opt/kythe"}, runner, nil)
	require.NoError(t, err)

	_, err = tool.BinaryIndex(context.Background(), "T1", "run1", t.TempDir(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoFragments)
	assert.Empty(t, runner.Calls())
}

func TestBinaryIndex_MergeFailureSkipsCompile(t *testing.T) {
	out := writeFragments(t, "a.kzip")
	tmp := t.TempDir()
	runner := fakeKythe([]byte{1}).Handle("kzip", func(ctx context.Context, cmd execx.Command) (*execx.Result, error) {
		_ = os.WriteFile(cmd.Args[2], []byte("partial"), 0o644)
		return &execx.Result{ExitCode: 1}, &execx.ExitError{Command: cmd.String(), ExitCode: 1}
	})

	tool, err := NewTool(Conf{Dir: "/opt/kythe"}, runner, nil)
	require.NoError(t, err)

	_, err = tool.BinaryIndex(context.Background(), "T1", "run1", out, tmp)
	require.Error(t, err)
	assert.False(t, runner.Called("cxx_indexer"))

	_, statErr := os.Stat(MergedKzipPath(tmp, "run1"))
	assert.True(t, os.IsNotExist(statErr), "partial merge removed")
}

func TestBinaryIndex_EmptyIndexFails(t *testing.T) {
	out := writeFragments(t, "a.kzip")
	tmp := t.TempDir()

	tool, err := NewTool(Conf{Dir: "/opt/kythe"}, fakeKythe(nil), nil)
	require.NoError(t, err)

	_, err = tool.BinaryIndex(context.Background(), "T1", "run1", out, tmp)
	assert.ErrorIs(t, err, ErrEmptyIndex)

	_, statErr := os.Stat(BinaryIndexPath(tmp, "run1"))
	assert.True(t, os.IsNotExist(statErr))
}
