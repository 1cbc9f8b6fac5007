package chunkindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamigoroshii/sefs/internal/embed"
)

// fakeModel returns deterministic vectors derived from text length so
// tests don't depend on a real ONNX model.
type fakeModel struct{}

func (fakeModel) Embed(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, embed.EmbeddingDim)
		v[0] = float32(len(t))
		v[1] = 1
		out[i] = v
	}
	return out, nil
}

func (f fakeModel) EmbedQuery(q string) ([]float32, error) {
	vs, err := f.Embed([]string{q})
	return vs[0], err
}

func longText(words int) string {
	out := ""
	for i := 0; i < words; i++ {
		out += "word "
	}
	return out
}

func TestAddThenSearchFindsChunk(t *testing.T) {
	idx, err := New(fakeModel{})
	require.NoError(t, err)

	require.NoError(t, idx.Add("/docs/a.txt", longText(100), "a.txt", -1, ""))

	results, err := idx.Search("word", 3, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "/docs/a.txt", results[0].Meta.Path)
}

func TestAddReplacesPreviousChunksForSamePath(t *testing.T) {
	idx, err := New(fakeModel{})
	require.NoError(t, err)

	require.NoError(t, idx.Add("/docs/a.txt", longText(500), "a.txt", -1, ""))
	statsBefore, err := idx.Stats()
	require.NoError(t, err)
	require.Greater(t, statsBefore.ChunkCount, 1)

	require.NoError(t, idx.Add("/docs/a.txt", longText(50), "a.txt", -1, ""))
	statsAfter, err := idx.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, statsAfter.ChunkCount)
}

func TestRemoveDeletesAllChunksForPath(t *testing.T) {
	idx, err := New(fakeModel{})
	require.NoError(t, err)

	require.NoError(t, idx.Add("/docs/a.txt", longText(500), "a.txt", -1, ""))
	require.NoError(t, idx.Remove("/docs/a.txt"))

	stats, err := idx.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ChunkCount)
}

func TestUpdateClusterInfoReplacesMetadataButKeepsText(t *testing.T) {
	idx, err := New(fakeModel{})
	require.NoError(t, err)

	require.NoError(t, idx.Add("/docs/a.txt", longText(100), "a.txt", -1, ""))
	require.NoError(t, idx.UpdateClusterInfo("/docs/a.txt", 3, "Widgets"))

	results, err := idx.Search("word", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, 3, results[0].Meta.ClusterID)
	assert.Equal(t, "Widgets", results[0].Meta.TopicLabel)
	assert.Equal(t, "a.txt", results[0].Meta.Filename)
}

func TestSearchClusterFilter(t *testing.T) {
	idx, err := New(fakeModel{})
	require.NoError(t, err)

	require.NoError(t, idx.Add("/docs/a.txt", longText(60), "a.txt", 1, "A"))
	require.NoError(t, idx.Add("/docs/b.txt", longText(60), "b.txt", 2, "B"))

	target := 2
	results, err := idx.Search("word", 5, &target)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, 2, r.Meta.ClusterID)
	}
}

func TestChunkIdentitiesAreUnique(t *testing.T) {
	idx, err := New(fakeModel{})
	require.NoError(t, err)

	require.NoError(t, idx.Add("/docs/a.txt", longText(900), "a.txt", -1, ""))

	seen := make(map[string]bool)
	for id := range idx.docs {
		assert.False(t, seen[id], "duplicate chunk id %s", id)
		seen[id] = true
	}
}
