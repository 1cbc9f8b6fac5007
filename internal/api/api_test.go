package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamigoroshii/sefs/internal/chunkindex"
	"github.com/kamigoroshii/sefs/internal/cluster"
	"github.com/kamigoroshii/sefs/internal/engine"
	"github.com/kamigoroshii/sefs/internal/fileops"
	"github.com/kamigoroshii/sefs/internal/keyphrase"
	"github.com/kamigoroshii/sefs/internal/organizer"
	"github.com/kamigoroshii/sefs/internal/qa"
	"github.com/kamigoroshii/sefs/internal/store"
	"github.com/kamigoroshii/sefs/internal/textextract"
)

type fakeModel struct{}

func (fakeModel) Embed(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vectorFor(t)
	}
	return out, nil
}

func (fakeModel) EmbedQuery(query string) ([]float32, error) { return vectorFor(query), nil }

func vectorFor(text string) []float32 {
	v := make([]float32, 3)
	switch {
	case contains(text, "alpha"):
		v[0] = 1
	case contains(text, "beta"):
		v[1] = 1
	default:
		v[2] = 1
	}
	return v
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

type fixedExtractor struct{ label string }

func (f fixedExtractor) Extract(texts []string) (string, error) { return f.label, nil }

var _ keyphrase.Extractor = fixedExtractor{}

func setupServer(t *testing.T, root string) *Server {
	t.Helper()

	st, err := store.Open(filepath.Join(root, ".sefs_metadata", "sefs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	model := fakeModel{}
	extractor := textextract.New(nil)
	clusterer := cluster.New(0.3, 1, fixedExtractor{label: "Topic"})
	mover := fileops.New(root, nil)
	org := organizer.New(root, clusterer, mover, nil)

	chunkIdx, err := chunkindex.New(model)
	require.NoError(t, err)

	eng := engine.New(root, st, extractor, model, clusterer, org, chunkIdx, nil, nil)
	require.NoError(t, eng.Bootstrap(context.Background()))

	pipeline := qa.New(chunkIdx, "", "claude-3-5-haiku-latest", 5)

	return New(eng, pipeline, mover, st, chunkIdx)
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestGetGraphIncludesRootAndFileNodes(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha document content here"), 0o644))

	s := setupServer(t, root)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	resp, body := doJSON(t, srv, http.MethodGet, "/graph", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	nodes, ok := body["nodes"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, nodes)

	first := nodes[0].(map[string]any)
	assert.Equal(t, "ROOT", first["id"])
}

func TestGetStatsReportsCachedFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha document content here"), 0o644))

	s := setupServer(t, root)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	resp, body := doJSON(t, srv, http.MethodGet, "/stats", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["cached_files"])
}

func TestGetClustersGroupsFilesByTopic(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha document content here"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("alpha sibling content here"), 0o644))

	s := setupServer(t, root)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	_, body := doJSON(t, srv, http.MethodGet, "/clusters", nil)
	clusters, ok := body["clusters"].([]any)
	require.True(t, ok)
	require.Len(t, clusters, 1)

	c := clusters[0].(map[string]any)
	files, ok := c["files"].([]any)
	require.True(t, ok)
	assert.Len(t, files, 2)
}

func TestSearchReturnsRankedResults(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha document content here"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("beta document content here"), 0o644))

	s := setupServer(t, root)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	_, body := doJSON(t, srv, http.MethodPost, "/search", map[string]any{"query": "alpha", "top_k": 5})
	results, ok := body["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 2)

	top := results[0].(map[string]any)
	assert.Equal(t, "a.txt", top["filename"])
}

func TestMoveFileRejectsUnknownPath(t *testing.T) {
	root := t.TempDir()
	s := setupServer(t, root)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	_, body := doJSON(t, srv, http.MethodPost, "/move-file", map[string]any{
		"filepath":       filepath.Join(root, "missing.txt"),
		"target_cluster": "Topic_0",
	})
	assert.Equal(t, false, body["success"])
}

func TestMoveFileRelocatesFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha document content here"), 0o644))

	s := setupServer(t, root)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	var settledPath string
	for _, n := range s.engine.Graph() {
		settledPath = n.Path
	}
	require.NotEmpty(t, settledPath)

	_, body := doJSON(t, srv, http.MethodPost, "/move-file", map[string]any{
		"filepath":       settledPath,
		"target_cluster": "Manual_7",
	})
	assert.Equal(t, true, body["success"])
	newPath, ok := body["new_path"].(string)
	require.True(t, ok)
	assert.FileExists(t, newPath)
}

func TestAskWithoutAPIKeyReturnsErrorPayload(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha document content here"), 0o644))

	s := setupServer(t, root)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	_, body := doJSON(t, srv, http.MethodPost, "/ask", map[string]any{"query": "what is alpha?"})
	assert.Equal(t, "API_KEY_MISSING", body["error"])
}

func TestOpenFileMissingPathReturnsError(t *testing.T) {
	root := t.TempDir()
	s := setupServer(t, root)
	srv := httptest.NewServer(s.e)
	defer srv.Close()

	_, body := doJSON(t, srv, http.MethodPost, "/open-file", map[string]any{
		"filepath": filepath.Join(root, "missing.txt"),
	})
	assert.Equal(t, "File not found", body["error"])
}
