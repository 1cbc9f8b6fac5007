// Package entropy computes the cosine-silhouette-based organization
// metric reported by the /stats and /graph endpoints.
package entropy

import (
	"github.com/kamigoroshii/sefs/internal/vecmath"
)

// Score holds the three reported entropy-metric fields.
type Score struct {
	Entropy    float64
	Cohesion   float64
	Separation float64
}

// Compute returns the cosine silhouette-derived organization score over
// embeddings labeled by clusterIDs (parallel slices, one entry per
// document). Degenerate inputs are handled explicitly rather than left to
// divide-by-zero: fewer than 2 documents returns {0, 1, 0} (nothing to
// disorganize); fewer than 2 distinct labels returns {0.5, 0.5, 0}
// (silhouette is undefined with a single group).
func Compute(embeddings [][]float32, clusterIDs []int) Score {
	n := len(embeddings)
	if n < 2 {
		return Score{Entropy: 0, Cohesion: 1, Separation: 0}
	}

	distinct := make(map[int]bool, n)
	for _, id := range clusterIDs {
		distinct[id] = true
	}
	if len(distinct) < 2 {
		return Score{Entropy: 0.5, Cohesion: 0.5, Separation: 0}
	}

	s := meanSilhouette(embeddings, clusterIDs)

	entropy := clamp((1-s)/2, 0, 1)
	cohesion := (s + 1) / 2
	separation := abs(s)

	return Score{Entropy: entropy, Cohesion: cohesion, Separation: separation}
}

// meanSilhouette computes the mean per-point cosine silhouette
// coefficient: for each point, a = mean cosine distance to points in its
// own cluster, b = mean cosine distance to points in the nearest other
// cluster, s_i = (b-a) / max(a,b).
func meanSilhouette(embeddings [][]float32, clusterIDs []int) float64 {
	n := len(embeddings)

	members := make(map[int][]int)
	for i, id := range clusterIDs {
		members[id] = append(members[id], i)
	}

	var total float64
	var count int

	for i := 0; i < n; i++ {
		own := clusterIDs[i]
		ownMembers := members[own]

		a := meanDistanceTo(embeddings, i, ownMembers, true)

		var bestB float64 = -1
		haveB := false
		for otherID, otherMembers := range members {
			if otherID == own {
				continue
			}
			b := meanDistanceTo(embeddings, i, otherMembers, false)
			if !haveB || b < bestB {
				bestB = b
				haveB = true
			}
		}
		if !haveB {
			continue
		}

		denom := a
		if bestB > denom {
			denom = bestB
		}
		if denom == 0 {
			continue
		}
		total += (bestB - a) / denom
		count++
	}

	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func meanDistanceTo(embeddings [][]float32, i int, others []int, excludeSelf bool) float64 {
	var sum float64
	var n int
	for _, j := range others {
		if excludeSelf && j == i {
			continue
		}
		sum += vecmath.CosineDistance(embeddings[i], embeddings[j])
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
