// Package fileops performs the physical moves the Organizer decides on, and
// records which paths are mid-move so the Monitor can tell the system's own
// writes apart from a user's.
package fileops

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// settleDelay is T_settle from the specification: how long a path stays in
// the pending set after a move completes, so the debounce window that
// would otherwise see the mirrored filesystem event is guaranteed to have
// already started (T_settle >= T_debounce).
const settleDelay = 2 * time.Second

// FileManager performs moves and tracks in-flight paths.
type FileManager struct {
	rootDir string
	log     *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

// New creates a FileManager rooted at rootDir.
func New(rootDir string, log *slog.Logger) *FileManager {
	if log == nil {
		log = slog.Default()
	}
	return &FileManager{
		rootDir: rootDir,
		log:     log,
		pending: make(map[string]struct{}),
	}
}

// IsSystemOperation reports whether path is currently involved in a move
// this FileManager initiated.
func (f *FileManager) IsSystemOperation(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.pending[path]
	return ok
}

// Move relocates src to dst, marking both paths pending before the rename
// so the mirrored filesystem event is always suppressible by the Monitor.
func (f *FileManager) Move(src, dst string) error {
	if src == dst {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		f.clearPending(src, dst)
		return err
	}

	f.markPending(src, dst)

	if err := rename(src, dst); err != nil {
		f.log.Error("file move failed", "src", src, "dst", dst, "error", err)
		f.clearPending(src, dst)
		return err
	}

	f.scheduleClear(src, dst)

	srcDir := filepath.Dir(src)
	if srcDir != f.rootDir {
		if empty, _ := dirIsEmpty(srcDir); empty {
			_ = os.Remove(srcDir)
		}
	}

	return nil
}

// ClearPending removes path from the pending set immediately, bypassing
// the settle delay. Exported for callers outside the package that need to
// force a path out of the pending set on their own failure path; Move's own
// rename-failure branch uses the unexported clearPending instead.
func (f *FileManager) ClearPending(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, path)
}

func (f *FileManager) markPending(paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		f.pending[p] = struct{}{}
	}
}

func (f *FileManager) clearPending(paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		delete(f.pending, p)
	}
}

func (f *FileManager) scheduleClear(src, dst string) {
	time.AfterFunc(settleDelay, func() {
		f.clearPending(src, dst)
	})
}

func rename(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return err
	}
	return copyThenDelete(src, dst)
}

func copyThenDelete(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func dirIsEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
