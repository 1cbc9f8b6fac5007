package fileops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMoveRelocatesFileAndMarksPending(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hi"), 0o644))

	fm := New(root, nil)
	dst := filepath.Join(root, "Cluster_0", "a.txt")

	require.NoError(t, fm.Move(src, dst))

	require.FileExists(t, dst)
	require.NoFileExists(t, src)
	require.True(t, fm.IsSystemOperation(dst))
	require.True(t, fm.IsSystemOperation(src))
}

func TestMoveNoOpWhenSrcEqualsDst(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))

	fm := New(root, nil)
	require.NoError(t, fm.Move(path, path))
	require.FileExists(t, path)
}

func TestMoveRemovesEmptySourceDir(t *testing.T) {
	root := t.TempDir()
	srcDir := filepath.Join(root, "OldCluster_0")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	src := filepath.Join(srcDir, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hi"), 0o644))

	fm := New(root, nil)
	dst := filepath.Join(root, "NewCluster_1", "a.txt")
	require.NoError(t, fm.Move(src, dst))

	require.NoDirExists(t, srcDir)
}

func TestClearPendingBypassesSettleDelay(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hi"), 0o644))

	fm := New(root, nil)
	dst := filepath.Join(root, "b.txt")
	require.NoError(t, fm.Move(src, dst))
	require.True(t, fm.IsSystemOperation(src))

	fm.ClearPending(src)
	fm.ClearPending(dst)
	require.False(t, fm.IsSystemOperation(src))
	require.False(t, fm.IsSystemOperation(dst))
}

func TestPendingSurvivesShortlyAfterMove(t *testing.T) {
	// Regression guard for the self-event-suppression invariant: pending
	// entries must still be present immediately after the move, well
	// within any debounce window that might be racing it.
	root := t.TempDir()
	src := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hi"), 0o644))

	fm := New(root, nil)
	dst := filepath.Join(root, "b.txt")
	require.NoError(t, fm.Move(src, dst))

	time.Sleep(50 * time.Millisecond)
	require.True(t, fm.IsSystemOperation(dst))
}
