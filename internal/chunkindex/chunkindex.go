// Package chunkindex is the ChunkIndex collaborator: a bleve-backed vector
// index over document word-windows, keyed "{path}__chunk_{i}", searchable
// by k-NN cosine similarity with an optional cluster_id filter.
package chunkindex

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	querypkg "github.com/blevesearch/bleve/v2/search/query"

	"github.com/kamigoroshii/sefs/internal/chunker"
	"github.com/kamigoroshii/sefs/internal/embed"
)

const vectorField = "embedding"

// Meta is the metadata stored alongside each chunk's vector.
type Meta struct {
	Path       string
	Filename   string
	ChunkIndex int
	WordCount  int
	ClusterID  int
	TopicLabel string
}

// Result is a single chunk hit.
type Result struct {
	ID    string
	Text  string
	Meta  Meta
	Score float64
}

// Stats summarizes the index.
type Stats struct {
	ChunkCount int
	FileCount  int
}

// document is what gets indexed for a single chunk, and also what this
// package keeps in its own docs map so metadata replace-updates and
// Stats don't need to round-trip through bleve's internal document model.
type document struct {
	Path       string    `json:"path"`
	Filename   string    `json:"filename"`
	Text       string    `json:"text"`
	ChunkIndex int       `json:"chunk_index"`
	WordCount  int       `json:"word_count"`
	ClusterID  int       `json:"cluster_id"`
	TopicLabel string    `json:"topic_label"`
	Embedding  []float32 `json:"embedding"`
}

// Index wraps an in-memory bleve index specialized for chunk vectors.
type Index struct {
	mu    sync.RWMutex
	bi    bleve.Index
	model embed.Model
	docs  map[string]document
}

// New builds an empty in-memory chunk index. model is used to embed
// incoming chunk text and outgoing queries.
func New(model embed.Model) (*Index, error) {
	im := bleve.NewIndexMapping()

	docMapping := mapping.NewDocumentMapping()

	vecMapping := mapping.NewVectorFieldMapping()
	vecMapping.Dims = embed.EmbeddingDim
	vecMapping.Similarity = "cosine"
	docMapping.AddFieldMappingsAt(vectorField, vecMapping)

	pathField := mapping.NewTextFieldMapping()
	pathField.Analyzer = "keyword"
	docMapping.AddFieldMappingsAt("path", pathField)

	textField := mapping.NewTextFieldMapping()
	textField.Analyzer = "en"
	docMapping.AddFieldMappingsAt("text", textField)

	docMapping.AddFieldMappingsAt("cluster_id", mapping.NewNumericFieldMapping())
	docMapping.AddFieldMappingsAt("chunk_index", mapping.NewNumericFieldMapping())
	docMapping.AddFieldMappingsAt("word_count", mapping.NewNumericFieldMapping())

	topicField := mapping.NewTextFieldMapping()
	topicField.Analyzer = "keyword"
	docMapping.AddFieldMappingsAt("topic_label", topicField)

	im.DefaultMapping = docMapping

	bi, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("creating bleve index: %w", err)
	}

	return &Index{bi: bi, model: model, docs: make(map[string]document)}, nil
}

func chunkID(path string, i int) string {
	return fmt.Sprintf("%s__chunk_%d", path, i)
}

// Add windows text per chunker.DefaultOptions, embeds each window, and
// upserts it into the index. Any previously indexed chunks for path are
// removed first, so no stale chunk identities survive an update.
func (idx *Index) Add(path, text, filename string, clusterID int, topicLabel string) error {
	if err := idx.Remove(path); err != nil {
		return err
	}

	chunks, err := chunker.ChunkText(text, path, chunker.DefaultOptions())
	if err != nil {
		return fmt.Errorf("chunk %s: %w", path, err)
	}
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := idx.model.Embed(texts)
	if err != nil {
		return fmt.Errorf("embed chunks of %s: %w", path, err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	batch := idx.bi.NewBatch()
	for i, c := range chunks {
		id := chunkID(path, c.Index)
		doc := document{
			Path:       path,
			Filename:   filename,
			Text:       c.Text,
			ChunkIndex: c.Index,
			WordCount:  c.WordCount,
			ClusterID:  clusterID,
			TopicLabel: topicLabel,
			Embedding:  vecs[i],
		}
		if err := batch.Index(id, doc); err != nil {
			return fmt.Errorf("batch index %s: %w", id, err)
		}
		idx.docs[id] = doc
	}
	return idx.bi.Batch(batch)
}

// Remove deletes every chunk whose metadata path equals path (search then
// delete, since bleve has no native delete-by-filter).
func (idx *Index) Remove(path string) error {
	ids, err := idx.idsForPath(path)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	batch := idx.bi.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
		delete(idx.docs, id)
	}
	return idx.bi.Batch(batch)
}

// UpdateClusterInfo replaces the cluster_id/topic_label metadata on every
// chunk belonging to path, re-including filepath/filename/chunk_index/
// word_count so that no existing field is silently dropped by what bleve
// treats as a full document replace.
func (idx *Index) UpdateClusterInfo(path string, clusterID int, topicLabel string) error {
	ids, err := idx.idsForPath(path)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	batch := idx.bi.NewBatch()
	for _, id := range ids {
		existing, ok := idx.docs[id]
		if !ok {
			continue
		}
		existing.ClusterID = clusterID
		existing.TopicLabel = topicLabel

		if err := batch.Index(id, existing); err != nil {
			return fmt.Errorf("batch update %s: %w", id, err)
		}
		idx.docs[id] = existing
	}
	return idx.bi.Batch(batch)
}

// Search embeds query and returns the top-k chunks by cosine similarity,
// optionally restricted to a single cluster_id.
func (idx *Index) Search(query string, k int, clusterFilter *int) ([]Result, error) {
	vec, err := idx.model.EmbedQuery(query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var q querypkg.Query
	if clusterFilter != nil {
		v := float64(*clusterFilter)
		nq := bleve.NewNumericRangeQuery(&v, &v)
		nq.SetField("cluster_id")
		q = nq
	} else {
		q = bleve.NewMatchAllQuery()
	}

	req := bleve.NewSearchRequest(q)
	req.Size = k
	req.AddKNN(vectorField, vec, int64(k), 1.0)

	res, err := idx.bi.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	out := make([]Result, 0, len(res.Hits))
	for _, h := range res.Hits {
		d, ok := idx.docs[h.ID]
		if !ok {
			continue
		}
		out = append(out, Result{
			ID:   h.ID,
			Text: d.Text,
			Meta: Meta{
				Path:       d.Path,
				Filename:   d.Filename,
				ChunkIndex: d.ChunkIndex,
				WordCount:  d.WordCount,
				ClusterID:  d.ClusterID,
				TopicLabel: d.TopicLabel,
			},
			Score: h.Score,
		})
	}
	return out, nil
}

// Stats returns chunk and distinct-file counts.
func (idx *Index) Stats() (Stats, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	count, err := idx.bi.DocCount()
	if err != nil {
		return Stats{}, err
	}

	files := make(map[string]struct{})
	for _, d := range idx.docs {
		files[d.Path] = struct{}{}
	}

	return Stats{ChunkCount: int(count), FileCount: len(files)}, nil
}

func (idx *Index) idsForPath(path string) ([]string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	q := bleve.NewTermQuery(path)
	q.SetField("path")
	req := bleve.NewSearchRequest(q)
	req.Size = 10000

	res, err := idx.bi.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search path %s: %w", path, err)
	}

	ids := make([]string, len(res.Hits))
	for i, h := range res.Hits {
		ids[i] = h.ID
	}
	return ids, nil
}
