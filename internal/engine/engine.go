// Package engine is the single-writer actor tying the rest of the system
// together: it owns the in-memory {path -> embedding/content/cluster} maps,
// consumes debounced batches from the Monitor, drives the bounded ingestion
// pool, and triggers a reorganization pass after every batch and at startup.
//
// Structurally grounded on the teacher's internal/index.Index (one
// sync.RWMutex guarding a handful of maps, a small method set built around
// it), repurposed from a single chunk index into the three-map document
// engine described by original_source/backend/main.py's global state
// (file_embeddings, file_contents, file_clusters) and its event_callback /
// lifespan functions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kamigoroshii/sefs/internal/chunkindex"
	"github.com/kamigoroshii/sefs/internal/cluster"
	"github.com/kamigoroshii/sefs/internal/embed"
	"github.com/kamigoroshii/sefs/internal/hnsw"
	"github.com/kamigoroshii/sefs/internal/monitor"
	"github.com/kamigoroshii/sefs/internal/organizer"
	"github.com/kamigoroshii/sefs/internal/sefserr"
	"github.com/kamigoroshii/sefs/internal/store"
	"github.com/kamigoroshii/sefs/internal/textextract"
	"github.com/kamigoroshii/sefs/internal/vecmath"
)

// searchPreviewChars is the content preview length for whole-document
// search results — distinct from qa.Pipeline's 150-char source preview,
// both spec-literal values that must not be unified.
const searchPreviewChars = 200

// SearchResult is one whole-document hit from Search.
type SearchResult struct {
	Path       string
	Filename   string
	Similarity float64
	ClusterID  int
	TopicLabel string
	Preview    string
}

// maxConcurrentIngests bounds the worker pool that processes a batch's
// files, matching the specification's "≤ 4 concurrent files".
const maxConcurrentIngests = 4

// minContentChars is T_min: extracted text shorter than this is dropped
// rather than embedded.
const minContentChars = 10

// extractRetries/extractRetryDelay govern the per-file retry loop for
// transient extraction/embedding failures.
const (
	extractRetries    = 3
	extractRetryDelay = 500 * time.Millisecond
)

// FileMover performs the physical moves an Organize pass decides on.
type FileMover interface {
	Move(src, dst string) error
}

// DocNode is one entry of the semantic graph surfaced to the API layer.
type DocNode struct {
	Path       string
	ClusterID  int
	TopicLabel string
}

// Engine owns the three in-memory maps under a single mutex and drives
// ingestion, clustering, and reorganization.
type Engine struct {
	root string

	store      *store.Store
	extractor  textextract.Extractor
	model      embed.Model
	clusterer  *cluster.Clusterer
	organizer  *organizer.Organizer
	chunkIndex *chunkindex.Index
	graph      *hnsw.Graph
	log        *slog.Logger

	// cycleMu makes whole OnBatch cycles run one at a time: the Monitor
	// calls OnBatch from its debounce timer, which can fire again while a
	// previous batch is still being processed.
	cycleMu sync.Mutex

	mu         sync.RWMutex
	embeddings map[string][]float32
	contents   map[string]string
	clusters   map[string]cluster.Assignment
	graphOrder []string // path at graph node ID i, rebuilt on every Reorganize
}

var _ monitor.BatchHandler = (*Engine)(nil)

// New wires the components the specification names for the ingestion and
// reorganization loop. graph may be nil if document-level kNN search over
// the whole corpus (as opposed to chunk search) is not needed.
func New(
	root string,
	st *store.Store,
	extractor textextract.Extractor,
	model embed.Model,
	clusterer *cluster.Clusterer,
	org *organizer.Organizer,
	chunkIdx *chunkindex.Index,
	graph *hnsw.Graph,
	log *slog.Logger,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		root:       root,
		store:      st,
		extractor:  extractor,
		model:      model,
		clusterer:  clusterer,
		organizer:  org,
		chunkIndex: chunkIdx,
		graph:      graph,
		log:        log,
		embeddings: make(map[string][]float32),
		contents:   make(map[string]string),
		clusters:   make(map[string]cluster.Assignment),
	}
}

// Bootstrap performs the startup directory walk described by the
// reference implementation's lifespan handler: every eligible file under
// root is ingested (cache hits are cheap — Store.Get short-circuits them),
// then one reorganization pass settles the tree before the Monitor starts
// watching it.
func (e *Engine) Bootstrap(ctx context.Context) error {
	var paths []string
	err := filepath.WalkDir(e.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !eligible(path) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("engine: walking %s: %w", e.root, err)
	}

	e.log.Info("startup walk found files", "count", len(paths))
	e.ingestBatch(ctx, paths)
	return e.Reorganize(ctx)
}

// OnBatch implements monitor.BatchHandler: it maps each debounced event to
// an ingestion or deletion, runs ingestion through the bounded pool, and
// always triggers exactly one Reorganize pass afterward, regardless of how
// many files in the batch actually succeeded. Concurrent calls are
// serialized.
func (e *Engine) OnBatch(events []monitor.Event) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	ctx := context.Background()

	var deletedPaths, createdPaths []string
	for _, ev := range events {
		switch ev.Kind {
		case monitor.Deleted:
			deletedPaths = append(deletedPaths, ev.Path)
		case monitor.Created, monitor.Modified, monitor.Moved:
			if eligible(ev.Path) {
				createdPaths = append(createdPaths, ev.Path)
			}
		}
	}

	moved := e.correlateMoves(deletedPaths, createdPaths)
	for newPath, oldPath := range moved {
		e.reuseMoved(oldPath, newPath)
	}

	var toIngest []string
	for _, path := range createdPaths {
		if _, ok := moved[path]; !ok {
			toIngest = append(toIngest, path)
		}
	}
	for _, path := range deletedPaths {
		if !isMoveSource(moved, path) {
			e.forget(path)
		}
	}

	if len(toIngest) > 0 {
		e.ingestBatch(ctx, toIngest)
	}

	if err := e.Reorganize(ctx); err != nil {
		e.log.Error("reorganize failed", "err", err)
	}
}

// correlateMoves pairs a batch's Deleted paths against its Created paths
// by content equality — the signal a real move/rename leaves behind once
// fsnotify has split it into a separate Remove and Create, with no cookie
// this system can use to pair them upstream. A match reuses the deleted
// path's embedding instead of re-embedding, mirroring
// original_source/backend/main.py's event_callback 'moved' branch, which
// moves file_embeddings/file_contents/file_clusters by dict key rather
// than recomputing them. Returns newPath -> oldPath for every pair found.
func (e *Engine) correlateMoves(deletedPaths, createdPaths []string) map[string]string {
	moved := make(map[string]string)
	if len(deletedPaths) == 0 || len(createdPaths) == 0 {
		return moved
	}

	e.mu.RLock()
	oldContent := make(map[string]string, len(deletedPaths))
	for _, path := range deletedPaths {
		if c, ok := e.contents[path]; ok && c != "" {
			oldContent[path] = c
		}
	}
	e.mu.RUnlock()
	if len(oldContent) == 0 {
		return moved
	}

	claimed := make(map[string]bool, len(oldContent))
	for _, newPath := range createdPaths {
		text, err := e.extractor.Extract(newPath)
		if err != nil {
			continue
		}
		for oldPath, old := range oldContent {
			if claimed[oldPath] || old != text {
				continue
			}
			moved[newPath] = oldPath
			claimed[oldPath] = true
			break
		}
	}
	return moved
}

// isMoveSource reports whether path is the source half of some pair in
// moved, so OnBatch can skip forgetting a path that was actually relocated.
func isMoveSource(moved map[string]string, path string) bool {
	for _, old := range moved {
		if old == path {
			return true
		}
	}
	return false
}

// reuseMoved carries oldPath's in-memory and persisted state over to
// newPath without re-extracting or re-embedding, then drops oldPath.
func (e *Engine) reuseMoved(oldPath, newPath string) {
	e.mu.Lock()
	vec, hasVec := e.embeddings[oldPath]
	text := e.contents[oldPath]
	assign, hasAssign := e.clusters[oldPath]
	if hasVec {
		e.embeddings[newPath] = vec
		delete(e.embeddings, oldPath)
	}
	e.contents[newPath] = text
	delete(e.contents, oldPath)
	if hasAssign {
		e.clusters[newPath] = assign
	}
	delete(e.clusters, oldPath)
	e.mu.Unlock()

	if err := e.store.Move(oldPath, newPath); err != nil {
		e.log.Error("store move failed", "old", oldPath, "new", newPath, "err", err)
	}
	if err := e.chunkIndex.Remove(oldPath); err != nil {
		e.log.Error("chunk index remove (pre-move) failed", "path", oldPath, "err", err)
	}
	clusterID, topicLabel := cluster.NoiseClusterID, ""
	if hasAssign {
		clusterID, topicLabel = assign.ClusterID, assign.TopicLabel
	}
	if err := e.chunkIndex.Add(newPath, text, filepath.Base(newPath), clusterID, topicLabel); err != nil {
		e.log.Error("chunk index re-add (post-move) failed", "path", newPath, "err", err)
	}
}

// eligible matches the Ingestor's eligibility filter: dotfiles and
// unsupported extensions are skipped entirely.
func eligible(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".pdf":
		return true
	default:
		return false
	}
}

// ingestBatch runs the per-file pipeline over paths on a bounded worker
// pool, matching the specification's "≤4 concurrent files".
func (e *Engine) ingestBatch(ctx context.Context, paths []string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentIngests)

	for _, p := range paths {
		path := p
		g.Go(func() error {
			e.ingestOne(gctx, path)
			return nil
		})
	}
	_ = g.Wait() // ingestOne never returns an error — failures are logged and dropped.
}

// ingestOne runs the five-step per-file pipeline described by the
// specification's Ingestor section, retrying transient failures up to
// extractRetries times before giving up and logging.
func (e *Engine) ingestOne(ctx context.Context, path string) {
	if doc, ok, err := e.store.Get(path); err == nil && ok {
		e.mu.Lock()
		e.embeddings[path] = doc.Embedding
		e.contents[path] = doc.Content
		e.clusters[path] = cluster.Assignment{ClusterID: doc.ClusterID, TopicLabel: doc.TopicLabel}
		e.mu.Unlock()
		return
	}

	var (
		text string
		vec  []float32
		err  error
	)
	for attempt := 0; attempt < extractRetries; attempt++ {
		text, err = e.extractor.Extract(path)
		if err == nil {
			if len(strings.TrimSpace(text)) < minContentChars {
				err = sefserr.ErrTextTooShort
				break
			}
			vecs, embedErr := e.model.Embed([]string{text})
			if embedErr == nil {
				vec = vecs[0]
				break
			}
			err = &sefserr.Transient{Op: "embed", Err: embedErr}
		} else {
			err = &sefserr.Transient{Op: "extract", Err: err}
		}
		time.Sleep(extractRetryDelay)
	}
	if errors.Is(err, sefserr.ErrTextTooShort) {
		return
	}
	if err != nil {
		e.log.Error("ingestion failed after retries", "path", path, "err", err)
		return
	}

	e.mu.Lock()
	e.embeddings[path] = vec
	e.contents[path] = text
	assign, hasAssign := e.clusters[path]
	e.mu.Unlock()

	info, statErr := os.Stat(path)
	var mtime float64
	if statErr == nil {
		mtime = float64(info.ModTime().Unix())
	}
	clusterID, topicLabel := cluster.NoiseClusterID, ""
	if hasAssign {
		clusterID, topicLabel = assign.ClusterID, assign.TopicLabel
	}
	if err := e.store.Save(path, vec, text, mtime, clusterID, topicLabel); err != nil {
		e.log.Error("store save failed", "path", path, "err", err)
	}

	if err := e.chunkIndex.Add(path, text, filepath.Base(path), clusterID, topicLabel); err != nil {
		e.log.Error("chunk index add failed", "path", path, "err", err)
	}
}

// forget removes path from every in-memory map and downstream index,
// mirroring the reference's deletion handling.
func (e *Engine) forget(path string) {
	e.mu.Lock()
	delete(e.embeddings, path)
	delete(e.contents, path)
	delete(e.clusters, path)
	e.mu.Unlock()

	if err := e.store.Delete(path); err != nil {
		e.log.Error("store delete failed", "path", path, "err", err)
	}
	if err := e.chunkIndex.Remove(path); err != nil {
		e.log.Error("chunk index remove failed", "path", path, "err", err)
	}
}

// Reorganize runs one full prune -> cluster -> move pass and folds the
// result back into the in-memory maps, the Store, and the ChunkIndex,
// then rebuilds the document-level kNN graph from the settled set.
func (e *Engine) Reorganize(ctx context.Context) error {
	all := e.snapshotDocs()
	docs := organizer.Prune(all)
	if len(docs) < len(all) {
		kept := make(map[string]bool, len(docs))
		for _, d := range docs {
			kept[d.Path] = true
		}
		e.mu.Lock()
		for _, d := range all {
			if !kept[d.Path] {
				delete(e.embeddings, d.Path)
				delete(e.contents, d.Path)
				delete(e.clusters, d.Path)
			}
		}
		e.mu.Unlock()
	}

	result, err := e.organizer.Organize(docs)
	if err != nil {
		return fmt.Errorf("engine: organize: %w", err)
	}

	e.mu.Lock()
	for oldPath, newPath := range result.Moves {
		if vec, ok := e.embeddings[oldPath]; ok {
			e.embeddings[newPath] = vec
			delete(e.embeddings, oldPath)
		}
		if c, ok := e.contents[oldPath]; ok {
			e.contents[newPath] = c
			delete(e.contents, oldPath)
		}
		delete(e.clusters, oldPath)
	}
	for path, assign := range result.Assignments {
		e.clusters[path] = assign
	}
	e.mu.Unlock()

	// ChunkIndex entries are keyed "{path}__chunk_{i}", so a rename cannot
	// be expressed as a metadata update — the old chunks are dropped and
	// re-added under the new path.
	for oldPath, newPath := range result.Moves {
		if err := e.store.Move(oldPath, newPath); err != nil {
			e.log.Error("store move failed", "old", oldPath, "new", newPath, "err", err)
		}
		assign := result.Assignments[newPath]
		e.mu.RLock()
		content := e.contents[newPath]
		e.mu.RUnlock()
		if err := e.chunkIndex.Remove(oldPath); err != nil {
			e.log.Error("chunk index remove (pre-move) failed", "path", oldPath, "err", err)
		}
		if err := e.chunkIndex.Add(newPath, content, filepath.Base(newPath), assign.ClusterID, assign.TopicLabel); err != nil {
			e.log.Error("chunk index re-add (post-move) failed", "path", newPath, "err", err)
		}
	}
	movedTo := make(map[string]bool, len(result.Moves))
	for _, newPath := range result.Moves {
		movedTo[newPath] = true
	}
	for path, assign := range result.Assignments {
		if err := e.store.UpdateCluster(path, assign.ClusterID, assign.TopicLabel); err != nil {
			e.log.Error("store update cluster failed", "path", path, "err", err)
		}
		if movedTo[path] {
			continue // already re-added fresh above
		}
		if err := e.chunkIndex.UpdateClusterInfo(path, assign.ClusterID, assign.TopicLabel); err != nil {
			e.log.Error("chunk index update failed", "path", path, "err", err)
		}
	}

	e.rebuildGraph()
	return nil
}

// snapshotDocs copies the current maps into cluster.Doc form under a read
// lock, decoupling the clustering pass from in-flight ingestion writes.
func (e *Engine) snapshotDocs() []cluster.Doc {
	e.mu.RLock()
	defer e.mu.RUnlock()

	docs := make([]cluster.Doc, 0, len(e.embeddings))
	for path, vec := range e.embeddings {
		docs = append(docs, cluster.Doc{Path: path, Embedding: vec, Content: e.contents[path]})
	}
	return docs
}

// rebuildGraph resets the document-level HNSW index and re-inserts every
// current embedding in a stable order. Unlike the append-only teacher
// usage, SEFS documents move and are re-embedded, so the graph has no
// notion of in-place update and is cheaper to rebuild wholesale than to
// patch — this mirrors an index rebuild rather than incremental upsert.
func (e *Engine) rebuildGraph() {
	if e.graph == nil {
		return
	}

	e.mu.RLock()
	order := make([]string, 0, len(e.embeddings))
	vecs := make([][]float32, 0, len(e.embeddings))
	for path, vec := range e.embeddings {
		order = append(order, path)
		vecs = append(vecs, vec)
	}
	e.mu.RUnlock()

	e.graph.Reset()
	for _, vec := range vecs {
		e.graph.Insert(vec)
	}

	e.mu.Lock()
	e.graphOrder = order
	e.mu.Unlock()
}

// SearchDocuments returns the top-k whole documents by cosine similarity
// to query, using the document-level HNSW graph.
func (e *Engine) SearchDocuments(query string, k int) ([]DocNode, []float32, error) {
	vec, err := e.model.EmbedQuery(query)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: embedding query: %w", err)
	}

	e.mu.RLock()
	order := e.graphOrder
	e.mu.RUnlock()

	if e.graph == nil || len(order) == 0 {
		return nil, vec, nil
	}

	hits := e.graph.Search(vec, k)
	out := make([]DocNode, 0, len(hits))
	scores := make([]float32, 0, len(hits))
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, h := range hits {
		if int(h.ID) >= len(order) {
			continue
		}
		path := order[h.ID]
		assign := e.clusters[path]
		out = append(out, DocNode{Path: path, ClusterID: assign.ClusterID, TopicLabel: assign.TopicLabel})
		scores = append(scores, h.Score)
	}
	return out, scores, nil
}

// Search performs an exact brute-force cosine-similarity search over every
// in-memory document and returns the top-k, matching the reference
// implementation's semantic_search (no ANN approximation — the corpus size
// this system targets makes an O(n) scan over cached embeddings cheap
// enough that the speed/accuracy tradeoff an index would buy isn't worth
// the extra moving part).
func (e *Engine) Search(query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}

	e.mu.RLock()
	if len(e.embeddings) == 0 {
		e.mu.RUnlock()
		return nil, nil
	}
	paths := make([]string, 0, len(e.embeddings))
	for p := range e.embeddings {
		paths = append(paths, p)
	}
	e.mu.RUnlock()

	queryVec, err := e.model.EmbedQuery(query)
	if err != nil {
		return nil, fmt.Errorf("engine: embedding query: %w", err)
	}

	e.mu.RLock()
	results := make([]SearchResult, 0, len(paths))
	for _, path := range paths {
		vec := e.embeddings[path]
		assign := e.clusters[path]
		content := e.contents[path]
		results = append(results, SearchResult{
			Path:       path,
			Filename:   filepath.Base(path),
			Similarity: vecmath.CosineSimilarity(queryVec, vec),
			ClusterID:  assign.ClusterID,
			TopicLabel: assign.TopicLabel,
			Preview:    previewContent(content, searchPreviewChars),
		})
	}
	e.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// previewContent truncates text to n characters, appending "..." the way
// the reference implementation's slice-and-concatenate preview does —
// unlike qa.preview, this always appends the ellipsis even when text is
// already shorter than n, matching semantic_search's unconditional
// `content[:200] + "..."`.
func previewContent(text string, n int) string {
	if len(text) > n {
		text = text[:n]
	}
	return text + "..."
}

// Graph returns a snapshot of every document's current cluster
// assignment, for the /graph endpoint.
func (e *Engine) Graph() []DocNode {
	e.mu.RLock()
	defer e.mu.RUnlock()

	nodes := make([]DocNode, 0, len(e.clusters))
	for path, assign := range e.clusters {
		nodes = append(nodes, DocNode{Path: path, ClusterID: assign.ClusterID, TopicLabel: assign.TopicLabel})
	}
	return nodes
}

// Entropy returns every in-memory document's embedding together with its
// cluster ID (parallel slices), the inputs entropy.Compute takes for the
// /stats and /graph endpoints.
func (e *Engine) Entropy() (embeddings [][]float32, clusterIDs []int) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for path, vec := range e.embeddings {
		embeddings = append(embeddings, vec)
		clusterIDs = append(clusterIDs, e.clusters[path].ClusterID)
	}
	return embeddings, clusterIDs
}

// MoveFile relocates path into the folder "{topicLabel}_{clusterID}" under
// the root, bypassing the clusterer — a user-initiated override
// per the specification's /move-file operation.
func (e *Engine) MoveFile(mover FileMover, path, topicLabel string, clusterID int) (string, error) {
	folder := fmt.Sprintf("%s_%d", topicLabel, clusterID)
	target := filepath.Join(e.root, folder, filepath.Base(path))

	if err := mover.Move(path, target); err != nil {
		return "", fmt.Errorf("engine: moving %s to %s: %w", path, target, err)
	}

	e.mu.Lock()
	if c, ok := e.contents[path]; ok {
		e.contents[target] = c
		delete(e.contents, path)
	}
	content := e.contents[target]
	if vec, ok := e.embeddings[path]; ok {
		e.embeddings[target] = vec
		delete(e.embeddings, path)
	}
	delete(e.clusters, path)
	e.clusters[target] = cluster.Assignment{ClusterID: clusterID, TopicLabel: topicLabel}
	e.mu.Unlock()

	if err := e.store.Move(path, target); err != nil {
		e.log.Error("store move failed", "old", path, "new", target, "err", err)
	}
	if err := e.store.UpdateCluster(target, clusterID, topicLabel); err != nil {
		e.log.Error("store update cluster failed", "path", target, "err", err)
	}
	if err := e.chunkIndex.Remove(path); err != nil {
		e.log.Error("chunk index remove (pre-move) failed", "path", path, "err", err)
	}
	if err := e.chunkIndex.Add(target, content, filepath.Base(target), clusterID, topicLabel); err != nil {
		e.log.Error("chunk index re-add (post-move) failed", "path", target, "err", err)
	}

	return target, nil
}
