// Package organizer implements the semantic-gravity reorganization pass:
// prune missing files, recluster, and move files to folders named after
// their cluster's topic label, then sweep away folders left empty.
package organizer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kamigoroshii/sefs/internal/cluster"
)

// FileMover is the subset of fileops.FileManager the organizer depends on.
type FileMover interface {
	Move(src, dst string) error
}

// ClusterUpdater receives the resolved (cluster_id, topic_label) for a
// path once it has settled into place, so the Store and ChunkIndex stay
// consistent with the in-memory assignment.
type ClusterUpdater interface {
	UpdateCluster(path string, clusterID int, topicLabel string) error
}

// Organizer drives one reorganization pass over the current in-memory
// document set.
type Organizer struct {
	root      string
	clusterer *cluster.Clusterer
	mover     FileMover
	log       *slog.Logger
}

// New constructs an Organizer rooted at root.
func New(root string, clusterer *cluster.Clusterer, mover FileMover, log *slog.Logger) *Organizer {
	if log == nil {
		log = slog.Default()
	}
	return &Organizer{root: root, clusterer: clusterer, mover: mover, log: log}
}

// Result is the outcome of one Organize pass, returned so the caller
// (the engine) can remap its in-memory maps under its own lock rather
// than have this package reach into them directly.
type Result struct {
	// Assignments is the final per-path (cluster_id, topic_label),
	// keyed by the path's FINAL location (post-move).
	Assignments map[string]cluster.Assignment
	// Moves maps old path -> new path for every file actually relocated.
	Moves map[string]string
}

// Organize clusters docs and moves any file whose current folder does
// not match its cluster's topic label, then removes any cluster folder
// left empty by the moves. docs must already be pruned of files that no
// longer exist on disk — see Prune.
func (o *Organizer) Organize(docs []cluster.Doc) (Result, error) {
	result := Result{
		Assignments: make(map[string]cluster.Assignment),
		Moves:       make(map[string]string),
	}

	if len(docs) == 0 {
		return result, nil
	}

	assignments := o.clusterer.Cluster(docs)

	for path, assign := range assignments {
		if assign.ClusterID == cluster.NoiseClusterID {
			result.Assignments[path] = assign
			continue
		}

		folderName := fmt.Sprintf("%s_%d", assign.TopicLabel, assign.ClusterID)
		filename := filepath.Base(path)
		parentName := filepath.Base(filepath.Dir(path))

		if parentName == folderName {
			result.Assignments[path] = assign
			continue
		}

		targetDir := filepath.Join(o.root, folderName)
		targetPath := filepath.Join(targetDir, filename)
		if targetPath == path {
			result.Assignments[path] = assign
			continue
		}

		o.log.Info("semantic drift detected", "file", path, "target_cluster", folderName)
		if err := o.mover.Move(path, targetPath); err != nil {
			o.log.Error("move failed, leaving file in place", "file", path, "target", targetPath, "err", err)
			result.Assignments[path] = assign
			continue
		}

		result.Moves[path] = targetPath
		result.Assignments[targetPath] = assign
	}

	o.sweepEmptyDirs()

	return result, nil
}

// Prune returns the subset of docs whose path still exists on disk,
// matching the reference implementation's pre-recluster cleanup step.
func Prune(docs []cluster.Doc) []cluster.Doc {
	out := make([]cluster.Doc, 0, len(docs))
	for _, d := range docs {
		if _, err := os.Stat(d.Path); err == nil {
			out = append(out, d)
		}
	}
	return out
}

// sweepEmptyDirs removes any now-empty top-level cluster folder under
// root, leaving the metadata directory and non-empty folders untouched.
func (o *Organizer) sweepEmptyDirs() {
	entries, err := os.ReadDir(o.root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == ".sefs_metadata" {
			continue
		}
		full := filepath.Join(o.root, entry.Name())
		inner, err := os.ReadDir(full)
		if err != nil {
			continue
		}
		if len(inner) == 0 {
			if err := os.Remove(full); err != nil {
				o.log.Warn("failed to remove empty cluster folder", "dir", full, "err", err)
			} else {
				o.log.Info("removed empty cluster folder", "dir", full)
			}
		}
	}
}
