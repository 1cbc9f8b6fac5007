package organizer

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamigoroshii/sefs/internal/cluster"
	"github.com/kamigoroshii/sefs/internal/keyphrase"
)

type stubExtractor struct{ label string }

func (s stubExtractor) Extract(texts []string) (string, error) { return s.label, nil }

var _ keyphrase.Extractor = stubExtractor{}

type recordingMover struct {
	moves map[string]string
}

func (m *recordingMover) Move(src, dst string) error {
	if m.moves == nil {
		m.moves = make(map[string]string)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		return err
	}
	m.moves[src] = dst
	return nil
}

func unitVec(dims, hot int) []float32 {
	v := make([]float32, dims)
	v[hot] = 1
	return v
}

func TestOrganizeMovesDriftedFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	c := cluster.New(0.3, 1, stubExtractor{label: "Widgets"})
	mover := &recordingMover{}
	org := New(root, c, mover, slog.Default())

	docs := []cluster.Doc{{Path: path, Embedding: unitVec(3, 0), Content: "content"}}
	result, err := org.Organize(docs)
	require.NoError(t, err)

	newPath, moved := result.Moves[path]
	require.True(t, moved)
	assert.FileExists(t, newPath)
	assert.NoFileExists(t, path)

	_, err = os.Stat(filepath.Join(root, "Widgets_0"))
	assert.NoError(t, err)
}

func TestOrganizeIsIdempotentOnSecondPass(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	c := cluster.New(0.3, 1, stubExtractor{label: "Widgets"})
	mover := &recordingMover{}
	org := New(root, c, mover, slog.Default())

	docs := []cluster.Doc{{Path: path, Embedding: unitVec(3, 0), Content: "content"}}
	first, err := org.Organize(docs)
	require.NoError(t, err)
	require.Len(t, first.Moves, 1)

	var settledPath string
	for _, dst := range first.Moves {
		settledPath = dst
	}

	docs2 := []cluster.Doc{{Path: settledPath, Embedding: unitVec(3, 0), Content: "content"}}
	second, err := org.Organize(docs2)
	require.NoError(t, err)
	assert.Empty(t, second.Moves, "second pass with no new ingestion should move nothing")
}

func TestOrganizeSweepsEmptyClusterFolder(t *testing.T) {
	root := t.TempDir()
	emptyDir := filepath.Join(root, "Leftover_3")
	require.NoError(t, os.MkdirAll(emptyDir, 0o755))

	other := filepath.Join(root, "b.txt")
	require.NoError(t, os.WriteFile(other, []byte("content"), 0o644))

	c := cluster.New(0.3, 1, stubExtractor{label: "Widgets"})
	org := New(root, c, &recordingMover{}, slog.Default())

	docs := []cluster.Doc{{Path: other, Embedding: unitVec(3, 0), Content: "content"}}
	_, err := org.Organize(docs)
	require.NoError(t, err)

	_, statErr := os.Stat(emptyDir)
	assert.True(t, os.IsNotExist(statErr), "empty leftover cluster folder should be swept")
}

func TestPruneDropsMissingFiles(t *testing.T) {
	root := t.TempDir()
	present := filepath.Join(root, "present.txt")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0o644))

	docs := []cluster.Doc{
		{Path: present},
		{Path: filepath.Join(root, "gone.txt")},
	}
	pruned := Prune(docs)
	require.Len(t, pruned, 1)
	assert.Equal(t, present, pruned[0].Path)
}
