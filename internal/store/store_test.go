package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "embeddings.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeTestFile(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "doc-*.txt")
	require.NoError(t, err)
	path := f.Name()
	f.Close()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSaveAndGetFresh(t *testing.T) {
	s := openTestStore(t)
	path := writeTestFile(t, "hello world")
	info, err := os.Stat(path)
	require.NoError(t, err)
	mtime := float64(info.ModTime().Unix())

	require.NoError(t, s.Save(path, []float32{1, 2, 3}, "hello world", mtime, -1, ""))

	doc, ok, err := s.Get(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []float32{1, 2, 3}, doc.Embedding)
	require.Equal(t, "hello world", doc.Content)
}

func TestGetStaleMtimeReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	path := writeTestFile(t, "hello world")

	// Save with a mtime far in the past relative to the file's real mtime.
	require.NoError(t, s.Save(path, []float32{1, 2, 3}, "hello world", 0, -1, ""))

	_, ok, err := s.Get(path)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetMissingFileReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	path := filepath.Join(t.TempDir(), "gone.txt")
	require.NoError(t, s.Save(path, []float32{1, 2}, "x", float64(time.Now().Unix()), -1, ""))
	require.NoError(t, os.Remove(path))

	_, ok, err := s.Get(path)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateClusterInsertsWhenMissing(t *testing.T) {
	s := openTestStore(t)
	path := "/tmp/never-saved.txt"

	require.NoError(t, s.UpdateCluster(path, 2, "Physics"))

	var label string
	var cid int
	require.NoError(t, s.db.QueryRow(`SELECT cluster_id, topic_label FROM file_embeddings WHERE filepath=?`, path).Scan(&cid, &label))
	require.Equal(t, 2, cid)
	require.Equal(t, "Physics", label)
}

func TestMovePreservesData(t *testing.T) {
	s := openTestStore(t)
	src := writeTestFile(t, "content")
	require.NoError(t, s.Save(src, []float32{9}, "content", 123, 0, "A"))

	dst := src + ".moved"
	require.NoError(t, s.Move(src, dst))

	var content string
	require.NoError(t, s.db.QueryRow(`SELECT content FROM file_embeddings WHERE filepath=?`, dst).Scan(&content))
	require.Equal(t, "content", content)
}

func TestDeleteRemovesRow(t *testing.T) {
	s := openTestStore(t)
	path := writeTestFile(t, "x")
	require.NoError(t, s.Save(path, []float32{1}, "x", float64(time.Now().Unix()), -1, ""))
	require.NoError(t, s.Delete(path))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM file_embeddings WHERE filepath=?`, path).Scan(&count))
	require.Equal(t, 0, count)
}

func TestStatsExcludesNoiseFromClusterCount(t *testing.T) {
	s := openTestStore(t)
	a := writeTestFile(t, "a")
	b := writeTestFile(t, "b")
	now := float64(time.Now().Unix())
	require.NoError(t, s.Save(a, []float32{1}, "a", now, 0, "X"))
	require.NoError(t, s.Save(b, []float32{1}, "b", now, -1, "Uncategorized"))

	stats, err := s.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalFiles)
	require.Equal(t, 1, stats.TotalClusters)
}

func TestDimensionMismatchRejected(t *testing.T) {
	s := openTestStore(t)
	a := writeTestFile(t, "a")
	now := float64(time.Now().Unix())
	require.NoError(t, s.Save(a, []float32{1, 2, 3}, "a", now, -1, ""))

	b := writeTestFile(t, "b")
	err := s.Save(b, []float32{1, 2}, "b", now, -1, "")
	require.ErrorIs(t, err, ErrDimensionMismatch)
}
