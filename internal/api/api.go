// Package api exposes the engine over HTTP: the semantic graph, stats,
// cluster listing, manual file moves, whole-document search, grounded
// question-answering, and opening a file in the OS default application.
//
// Grounded on vvoland-cagent/pkg/server/server.go's echo setup
// (echo.New(), middleware.CORS(), group/route registration, the
// c.Bind/c.JSON handler shape) and original_source/backend/main.py's exact
// endpoint semantics and its NoCacheMiddleware.
package api

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kamigoroshii/sefs/internal/chunkindex"
	"github.com/kamigoroshii/sefs/internal/cluster"
	"github.com/kamigoroshii/sefs/internal/engine"
	"github.com/kamigoroshii/sefs/internal/entropy"
	"github.com/kamigoroshii/sefs/internal/qa"
	"github.com/kamigoroshii/sefs/internal/store"
)

// Server wires the engine, QA pipeline, Store and ChunkIndex behind the
// specification's HTTP surface.
type Server struct {
	e          *echo.Echo
	engine     *engine.Engine
	qa         *qa.Pipeline
	mover      engine.FileMover
	store      *store.Store
	chunkIndex *chunkindex.Index
}

// New builds the echo server and registers every route.
func New(eng *engine.Engine, pipeline *qa.Pipeline, mover engine.FileMover, st *store.Store, chunkIdx *chunkindex.Index) *Server {
	e := echo.New()
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.CORS())
	e.Use(middleware.Logger())
	e.Use(noCacheMiddleware)

	s := &Server{e: e, engine: eng, qa: pipeline, mover: mover, store: st, chunkIndex: chunkIdx}

	e.GET("/graph", s.getGraph)
	e.GET("/stats", s.getStats)
	e.GET("/clusters", s.getClusters)
	e.POST("/move-file", s.moveFile)
	e.POST("/search", s.search)
	e.POST("/ask", s.ask)
	e.POST("/open-file", s.openFile)

	return s
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// noCacheMiddleware disables caching on every response, matching the
// reference's NoCacheMiddleware — the semantic graph mutates continuously
// in the background and a cached /graph response would show a stale tree.
func noCacheMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Response().Header().Set("Pragma", "no-cache")
		c.Response().Header().Set("Expires", "0")
		return next(c)
	}
}

type graphNode struct {
	ID       string  `json:"id"`
	Group    string  `json:"group"`
	Val      int     `json:"val"`
	Label    string  `json:"label"`
	Filepath string  `json:"filepath,omitempty"`
	Entropy  float64 `json:"entropy,omitempty"`
}

type graphLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type entropyPayload struct {
	Entropy    float64 `json:"entropy"`
	Cohesion   float64 `json:"cohesion"`
	Separation float64 `json:"separation"`
}

func (s *Server) getGraph(c echo.Context) error {
	embeddings, clusterIDs := s.engine.Entropy()
	score := entropy.Compute(embeddings, clusterIDs)
	ep := entropyPayload{Entropy: score.Entropy, Cohesion: score.Cohesion, Separation: score.Separation}

	nodes := []graphNode{{ID: "ROOT", Group: "root", Val: 30, Label: "Semantic Core", Entropy: score.Entropy}}
	var links []graphLink

	docs := s.engine.Graph()

	seenClusters := make(map[string]string) // "{cid}|{topic}" -> node id
	for _, d := range docs {
		if d.ClusterID == cluster.NoiseClusterID {
			continue
		}
		key := clusterKey(d.ClusterID, d.TopicLabel)
		if _, ok := seenClusters[key]; ok {
			continue
		}
		nodeID := clusterNodeID(d.TopicLabel, d.ClusterID)
		seenClusters[key] = nodeID
		nodes = append(nodes, graphNode{ID: nodeID, Group: "topic", Val: 20, Label: d.TopicLabel})
		links = append(links, graphLink{Source: "ROOT", Target: nodeID})
	}

	for _, d := range docs {
		fname := filepath.Base(d.Path)
		if d.ClusterID != cluster.NoiseClusterID {
			target := seenClusters[clusterKey(d.ClusterID, d.TopicLabel)]
			nodes = append(nodes, graphNode{ID: fname, Group: "file", Val: 5, Label: fname, Filepath: d.Path})
			links = append(links, graphLink{Source: fname, Target: target})
		} else {
			nodes = append(nodes, graphNode{ID: fname, Group: "noise", Val: 3, Label: fname, Filepath: d.Path})
			links = append(links, graphLink{Source: fname, Target: "ROOT"})
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"nodes":   nodes,
		"links":   links,
		"entropy": ep,
	})
}

func (s *Server) getStats(c echo.Context) error {
	dbStats, err := s.store.Stats()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	embeddings, clusterIDs := s.engine.Entropy()
	score := entropy.Compute(embeddings, clusterIDs)

	activeClusters := make(map[int]bool)
	for _, id := range clusterIDs {
		if id != cluster.NoiseClusterID {
			activeClusters[id] = true
		}
	}

	chunkStats, err := s.chunkIndex.Stats()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"total_files":        dbStats.TotalFiles,
		"total_clusters":     dbStats.TotalClusters,
		"avg_content_length": dbStats.AvgContentLength,
		"cached_files":       len(embeddings),
		"active_clusters":    len(activeClusters),
		"entropy_score":      score.Entropy,
		"cohesion":           score.Cohesion,
		"chunk_count":        chunkStats.ChunkCount,
		"indexed_files":      chunkStats.FileCount,
	})
}

type clusterSummary struct {
	ID    int      `json:"id"`
	Topic string   `json:"topic"`
	Files []string `json:"files"`
}

func (s *Server) getClusters(c echo.Context) error {
	byKey := make(map[string]*clusterSummary)
	var order []string

	for _, d := range s.engine.Graph() {
		if d.ClusterID == cluster.NoiseClusterID {
			continue
		}
		key := clusterNodeID(d.TopicLabel, d.ClusterID)
		cs, ok := byKey[key]
		if !ok {
			cs = &clusterSummary{ID: d.ClusterID, Topic: d.TopicLabel}
			byKey[key] = cs
			order = append(order, key)
		}
		cs.Files = append(cs.Files, filepath.Base(d.Path))
	}

	out := make([]*clusterSummary, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return c.JSON(http.StatusOK, map[string]any{"clusters": out})
}

type moveFileRequest struct {
	Filepath      string `json:"filepath"`
	TargetCluster string `json:"target_cluster"`
}

func (s *Server) moveFile(c echo.Context) error {
	var req moveFileRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body"})
	}

	if req.Filepath == "" {
		return c.JSON(http.StatusOK, map[string]any{"success": false, "error": "File not found"})
	}
	if _, err := os.Stat(req.Filepath); err != nil {
		return c.JSON(http.StatusOK, map[string]any{"success": false, "error": "File not found"})
	}

	// target_cluster is "{topic_label}_{cluster_id}" — split on the LAST
	// underscore, since a topic label itself may contain underscores.
	idx := strings.LastIndex(req.TargetCluster, "_")
	if idx < 0 {
		return c.JSON(http.StatusOK, map[string]any{"success": false, "error": "Invalid cluster format"})
	}
	topicLabel := req.TargetCluster[:idx]
	clusterID, err := strconv.Atoi(req.TargetCluster[idx+1:])
	if err != nil {
		return c.JSON(http.StatusOK, map[string]any{"success": false, "error": "Invalid cluster ID"})
	}

	newPath, err := s.engine.MoveFile(s.mover, req.Filepath, topicLabel, clusterID)
	if err != nil {
		return c.JSON(http.StatusOK, map[string]any{"success": false, "error": err.Error()})
	}
	if newPath == req.Filepath {
		return c.JSON(http.StatusOK, map[string]any{"success": true, "message": "Already in target cluster"})
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "new_path": newPath})
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (s *Server) search(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Query == "" {
		return c.JSON(http.StatusOK, map[string]any{"results": []any{}})
	}

	results, err := s.engine.Search(req.Query, req.TopK)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	out := make([]map[string]any, len(results))
	for i, r := range results {
		out[i] = map[string]any{
			"filepath":   r.Path,
			"filename":   r.Filename,
			"similarity": r.Similarity,
			"cluster_id": r.ClusterID,
			"topic":      r.TopicLabel,
			"preview":    r.Preview,
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"results": out, "query": req.Query})
}

type askRequest struct {
	Query     string `json:"query"`
	ClusterID *int   `json:"cluster_id"`
}

func (s *Server) ask(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Query == "" {
		return c.JSON(http.StatusOK, map[string]string{"error": "empty query"})
	}

	answer, err := s.qa.Ask(c.Request().Context(), req.Query, req.ClusterID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, answer)
}

type openFileRequest struct {
	Filepath string `json:"filepath"`
}

func (s *Server) openFile(c echo.Context) error {
	var req openFileRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Filepath == "" {
		return c.JSON(http.StatusOK, map[string]any{"error": "File not found", "filepath": req.Filepath})
	}
	if _, err := os.Stat(req.Filepath); err != nil {
		return c.JSON(http.StatusOK, map[string]any{"error": "File not found", "filepath": req.Filepath})
	}

	if err := openInOS(req.Filepath); err != nil {
		return c.JSON(http.StatusOK, map[string]any{"error": err.Error(), "filepath": req.Filepath})
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "filepath": req.Filepath})
}

// openInOS launches path in the platform's default application. No pack
// library wraps this — it is a thin, platform-switched os/exec call,
// following original_source/backend/main.py's open_file_in_os.
func openInOS(path string) error {
	switch runtime.GOOS {
	case "windows":
		return exec.Command("cmd", "/c", "start", "", path).Start()
	case "darwin":
		return exec.Command("open", path).Start()
	default:
		return exec.Command("xdg-open", path).Start()
	}
}

func clusterKey(cid int, topic string) string {
	return strconv.Itoa(cid) + "|" + topic
}

func clusterNodeID(topic string, cid int) string {
	return topic + "_" + strconv.Itoa(cid)
}
