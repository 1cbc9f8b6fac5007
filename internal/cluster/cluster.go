// Package cluster implements density-based clustering over the current
// in-memory embedding set plus a keyphrase-labeling step with
// cross-run centroid-memory for label stability.
package cluster

import (
	"sync"

	"github.com/kamigoroshii/sefs/internal/keyphrase"
	"github.com/kamigoroshii/sefs/internal/vecmath"
)

// NoiseClusterID is the label DBSCAN assigns to points that belong to no
// dense region.
const NoiseClusterID = -1

// labelReuseThreshold is the minimum cosine similarity between a new
// cluster's centroid and a remembered one for the remembered topic label to
// replace the freshly extracted one. Cluster IDs are not reused.
const labelReuseThreshold = 0.85

// maxTopicSampleDocs caps how many member documents' text feeds the topic
// label extractor per cluster, matching original_source/backend/
// analyzer.py's texts[:3].
const maxTopicSampleDocs = 3

// Assignment is a single file's clustering result.
type Assignment struct {
	ClusterID  int
	TopicLabel string
}

// Doc is the minimal view of a stored document the clusterer needs.
type Doc struct {
	Path      string
	Embedding []float32
	Content   string
}

// memoryEntry is a remembered cluster centroid, keyed by the topic label
// that was assigned to it the last time it was seen.
type memoryEntry struct {
	label    string
	centroid []float32
}

// Clusterer runs DBSCAN-equivalent clustering with a cosine metric,
// labels clusters via a keyphrase.Extractor, and remembers centroids
// across calls so that semantically-unchanged clusters keep their label.
type Clusterer struct {
	eps        float64
	minSamples int
	extractor  keyphrase.Extractor

	mu     sync.Mutex
	memory []memoryEntry
}

// New constructs a Clusterer. eps and minSamples are the DBSCAN
// parameters (cosine-distance radius and minimum neighborhood size).
func New(eps float64, minSamples int, extractor keyphrase.Extractor) *Clusterer {
	return &Clusterer{eps: eps, minSamples: minSamples, extractor: extractor}
}

// Cluster runs one clustering pass over docs and returns a per-path
// assignment. Empty input returns an empty result. Noise points (no
// dense neighborhood) are assigned NoiseClusterID and the "Uncategorized"
// label.
func (c *Clusterer) Cluster(docs []Doc) map[string]Assignment {
	result := make(map[string]Assignment, len(docs))
	if len(docs) == 0 {
		return result
	}

	labels := c.dbscan(docs)

	type clusterInfo struct {
		members   []int
		texts     []string
		centroids [][]float32
	}
	clusters := make(map[int]*clusterInfo)
	for i, label := range labels {
		if label == NoiseClusterID {
			continue
		}
		ci, ok := clusters[label]
		if !ok {
			ci = &clusterInfo{}
			clusters[label] = ci
		}
		ci.members = append(ci.members, i)
		if docs[i].Content != "" && len(ci.texts) < maxTopicSampleDocs {
			ci.texts = append(ci.texts, docs[i].Content)
		}
		ci.centroids = append(ci.centroids, docs[i].Embedding)
	}

	clusterLabel := make(map[int]string, len(clusters))
	c.mu.Lock()
	for id, ci := range clusters {
		centroid := vecmath.Centroid(ci.centroids)

		topic, err := c.safeExtract(ci.texts)
		if err != nil {
			topic = "Cluster"
		}
		if topic == "" {
			topic = "Misc"
		}

		if reused, ok := c.reuseLabel(centroid); ok {
			topic = reused
		}

		clusterLabel[id] = topic
		c.remember(topic, centroid)
	}
	c.mu.Unlock()

	for i, doc := range docs {
		label := labels[i]
		if label == NoiseClusterID {
			result[doc.Path] = Assignment{ClusterID: NoiseClusterID, TopicLabel: "Uncategorized"}
			continue
		}
		result[doc.Path] = Assignment{ClusterID: label, TopicLabel: clusterLabel[label]}
	}
	return result
}

// safeExtract calls the extractor, translating an empty/failed result
// into the "Misc" tie-break per the content-gather edge case, and any
// extractor error into "Cluster" — matching the reference implementation's
// exception handling.
func (c *Clusterer) safeExtract(texts []string) (topic string, err error) {
	defer func() {
		if r := recover(); r != nil {
			topic, err = "Cluster", nil
		}
	}()
	if len(texts) == 0 {
		return "Misc", nil
	}
	return c.extractor.Extract(texts)
}

// reuseLabel returns the remembered label whose centroid is closest to
// centroid, if that similarity clears labelReuseThreshold.
func (c *Clusterer) reuseLabel(centroid []float32) (string, bool) {
	if centroid == nil {
		return "", false
	}
	best := -2.0
	bestLabel := ""
	for _, m := range c.memory {
		if len(m.centroid) != len(centroid) {
			continue
		}
		sim := vecmath.CosineSimilarity(centroid, m.centroid)
		if sim > best {
			best = sim
			bestLabel = m.label
		}
	}
	if best >= labelReuseThreshold {
		return bestLabel, true
	}
	return "", false
}

// remember upserts the centroid for label, keeping memory bounded to one
// entry per label (the most recent centroid observed for it).
func (c *Clusterer) remember(label string, centroid []float32) {
	if centroid == nil {
		return
	}
	for i, m := range c.memory {
		if m.label == label {
			c.memory[i].centroid = centroid
			return
		}
	}
	c.memory = append(c.memory, memoryEntry{label: label, centroid: centroid})
}

// dbscan labels each doc with a cluster ID (or NoiseClusterID) using
// cosine distance as the metric, matching sklearn.cluster.DBSCAN(metric
// ='cosine'). This is hand-written rather than imported: no library in
// the retrieval pack exposes density-based clustering as an importable
// routine.
func (c *Clusterer) dbscan(docs []Doc) []int {
	n := len(docs)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -2 // unvisited
	}
	visited := make([]bool, n)

	neighbors := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			if vecmath.CosineDistance(docs[i].Embedding, docs[j].Embedding) <= c.eps {
				out = append(out, j)
			}
		}
		return out
	}

	nextCluster := 0
	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		neigh := neighbors(i)
		if len(neigh)+1 < c.minSamples {
			labels[i] = NoiseClusterID
			continue
		}

		cid := nextCluster
		nextCluster++
		labels[i] = cid

		queue := append([]int{}, neigh...)
		for qi := 0; qi < len(queue); qi++ {
			j := queue[qi]
			if !visited[j] {
				visited[j] = true
				jNeigh := neighbors(j)
				if len(jNeigh)+1 >= c.minSamples {
					queue = append(queue, jNeigh...)
				}
			}
			if labels[j] == -2 || labels[j] == NoiseClusterID {
				labels[j] = cid
			}
		}
	}

	return labels
}
