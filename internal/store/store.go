// Package store implements the durable file_embeddings table: the single
// source of truth mapping an absolute filepath to its embedding, extracted
// content, modification time, and cluster assignment.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// freshnessTolerance is the maximum allowed drift between the on-disk mtime
// and the stored mtime before a row is considered stale. Matches
// original_source/backend/storage.py's 1.0s tolerance.
const freshnessTolerance = 1.0

// ErrDimensionMismatch is returned by Save when an embedding's length
// differs from the dimension established by the first write.
var ErrDimensionMismatch = errors.New("store: embedding dimension mismatch")

// Document is one row of the file_embeddings table.
type Document struct {
	Path       string
	Embedding  []float32
	Content    string
	Mtime      float64 // seconds since epoch
	ClusterID  int
	TopicLabel string
}

// Stats summarizes the table for the /stats endpoint.
type Stats struct {
	TotalFiles       int
	TotalClusters    int
	AvgContentLength float64
}

// Store wraps a single SQLite connection opened with the donor pack's
// WAL/busy-timeout pragmas (pkg/sqliteutil/sqlite.go), pinned to one
// connection since the Engine is already a single-writer dispatcher.
type Store struct {
	db  *sql.DB
	dim int
}

// Open creates (if absent) and opens the database at path, creating the
// schema on first use.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: creating directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pinging %q: %w", path, err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating schema: %w", err)
	}

	s := &Store{db: db}
	if dim, err := s.establishedDimension(); err == nil {
		s.dim = dim
	}
	return s, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS file_embeddings (
	filepath      TEXT PRIMARY KEY,
	embedding     BLOB NOT NULL,
	content       TEXT,
	last_modified REAL NOT NULL,
	cluster_id    INTEGER,
	topic_label   TEXT,
	created_at    REAL
);
CREATE INDEX IF NOT EXISTS idx_cluster ON file_embeddings(cluster_id);
`

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) establishedDimension() (int, error) {
	row := s.db.QueryRow(`SELECT embedding FROM file_embeddings LIMIT 1`)
	var raw string
	if err := row.Scan(&raw); err != nil {
		return 0, err
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return 0, err
	}
	return len(vec), nil
}

// Save upserts a row. clusterID defaults to -1 (noise) and label to "" when
// the caller has no assignment yet, matching the reference's save_embedding.
func (s *Store) Save(path string, embedding []float32, content string, mtime float64, clusterID int, label string) error {
	if s.dim == 0 && len(embedding) > 0 {
		s.dim = len(embedding)
	} else if len(embedding) > 0 && len(embedding) != s.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), s.dim)
	}

	blob, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("store: marshaling embedding: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO file_embeddings (filepath, embedding, content, last_modified, cluster_id, topic_label, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(filepath) DO UPDATE SET
			embedding=excluded.embedding,
			content=excluded.content,
			last_modified=excluded.last_modified,
			cluster_id=excluded.cluster_id,
			topic_label=excluded.topic_label
	`, path, string(blob), content, mtime, clusterID, label, float64(time.Now().Unix()))
	if err != nil {
		return fmt.Errorf("store: saving %q: %w", path, err)
	}
	return nil
}

// Get returns the cached document for path, or ok=false if the row is
// missing, the file no longer exists on disk, or the on-disk mtime diverges
// from the stored mtime by more than freshnessTolerance seconds. This is
// the implicit cache-invalidation protocol named in the specification.
func (s *Store) Get(path string) (doc Document, ok bool, err error) {
	row := s.db.QueryRow(`
		SELECT embedding, content, last_modified, cluster_id, topic_label
		FROM file_embeddings WHERE filepath = ?`, path)

	var blob, content, label string
	var mtime float64
	var clusterID int
	switch scanErr := row.Scan(&blob, &content, &mtime, &clusterID, &label); {
	case errors.Is(scanErr, sql.ErrNoRows):
		return Document{}, false, nil
	case scanErr != nil:
		return Document{}, false, fmt.Errorf("store: getting %q: %w", path, scanErr)
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		return Document{}, false, nil
	}
	diskMtime := float64(info.ModTime().Unix())
	if math.Abs(diskMtime-mtime) > freshnessTolerance {
		return Document{}, false, nil
	}

	var vec []float32
	if err := json.Unmarshal([]byte(blob), &vec); err != nil {
		return Document{}, false, fmt.Errorf("store: decoding embedding for %q: %w", path, err)
	}

	return Document{
		Path:       path,
		Embedding:  vec,
		Content:    content,
		Mtime:      mtime,
		ClusterID:  clusterID,
		TopicLabel: label,
	}, true, nil
}

// UpdateCluster sets the cluster assignment for path. If no row exists yet,
// it falls back to an insert with zero embedding/content, matching the
// "Store inconsistency: treat as insert" error-handling rule.
func (s *Store) UpdateCluster(path string, clusterID int, label string) error {
	res, err := s.db.Exec(`UPDATE file_embeddings SET cluster_id = ?, topic_label = ? WHERE filepath = ?`, clusterID, label, path)
	if err != nil {
		return fmt.Errorf("store: updating cluster for %q: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: checking update for %q: %w", path, err)
	}
	if n == 0 {
		return s.Save(path, nil, "", 0, clusterID, label)
	}
	return nil
}

// Move renames the primary key from src to dst, preserving all other
// columns.
func (s *Store) Move(src, dst string) error {
	_, err := s.db.Exec(`UPDATE file_embeddings SET filepath = ? WHERE filepath = ?`, dst, src)
	if err != nil {
		return fmt.Errorf("store: moving %q to %q: %w", src, dst, err)
	}
	return nil
}

// Delete removes the row for path. Deleting an absent path is not an error.
func (s *Store) Delete(path string) error {
	_, err := s.db.Exec(`DELETE FROM file_embeddings WHERE filepath = ?`, path)
	if err != nil {
		return fmt.Errorf("store: deleting %q: %w", path, err)
	}
	return nil
}

// LoadAll returns every row whose file is still on disk and fresh, keyed by
// path.
func (s *Store) LoadAll() (map[string]Document, error) {
	rows, err := s.db.Query(`SELECT filepath FROM file_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("store: loading all: %w", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scanning path: %w", err)
		}
		paths = append(paths, p)
	}
	rows.Close()

	out := make(map[string]Document, len(paths))
	for _, p := range paths {
		doc, ok, err := s.Get(p)
		if err != nil {
			return nil, err
		}
		if ok {
			out[p] = doc
		}
	}
	return out, nil
}

// Stats computes the aggregate figures surfaced by /stats. Noise
// (cluster_id = -1) is excluded from TotalClusters, matching the
// reference's get_stats.
func (s *Store) Stats() (Stats, error) {
	var totalFiles int
	var avgLen sql.NullFloat64
	if err := s.db.QueryRow(`SELECT COUNT(*), AVG(LENGTH(content)) FROM file_embeddings`).Scan(&totalFiles, &avgLen); err != nil {
		return Stats{}, fmt.Errorf("store: computing stats: %w", err)
	}

	var totalClusters int
	if err := s.db.QueryRow(`SELECT COUNT(DISTINCT cluster_id) FROM file_embeddings WHERE cluster_id != -1`).Scan(&totalClusters); err != nil {
		return Stats{}, fmt.Errorf("store: computing cluster count: %w", err)
	}

	return Stats{
		TotalFiles:       totalFiles,
		TotalClusters:    totalClusters,
		AvgContentLength: avgLen.Float64,
	}, nil
}
