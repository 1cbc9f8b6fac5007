// Package chunker splits document text into fixed-width overlapping word
// windows suitable for embedding and retrieval.
package chunker

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SupportedExtensions is the set of file extensions this system ingests.
var SupportedExtensions = map[string]bool{
	".txt": true, ".pdf": true,
}

// Chunk represents one word window of a source document.
type Chunk struct {
	Path      string
	Text      string
	Index     int // chunk index within the document, 0-based
	WordCount int
}

// Options controls chunking behaviour: a fixed-width sliding window over
// the document's words, stride W-O, with a minimum admitted length.
type Options struct {
	// WindowWords is the window size W, in words.
	WindowWords int
	// OverlapWords is the overlap O, in words; stride is WindowWords-OverlapWords.
	OverlapWords int
	// MinChars is the minimum chunk length in characters; shorter
	// trailing windows are discarded.
	MinChars int
}

// DefaultOptions returns the chunking parameters this system uses:
// W=400, O=50, L_min=50.
func DefaultOptions() Options {
	return Options{
		WindowWords:  400,
		OverlapWords: 50,
		MinChars:     50,
	}
}

// IsSupportedFile returns true if the file extension is ingestible and
// the file does not appear to be binary (checked via a short header sniff).
func IsSupportedFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if !SupportedExtensions[ext] {
		return false
	}
	return !isBinary(path)
}

// isBinary sniffs the first 512 bytes to detect binary content.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return true
	}
	buf = buf[:n]

	return bytes.IndexByte(buf, 0) != -1
}

// ChunkFile reads the file at path and windows its text per opts.
func ChunkFile(path string, opts Options) ([]Chunk, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return ChunkText(string(data), path, opts)
}

// ChunkText windows text into fixed-size overlapping word windows.
// Stride is WindowWords-OverlapWords; windows shorter than MinChars
// characters (after trimming) are discarded. The window count before
// min-length filtering is max(1, ceil((N-O)/(W-O))) for an N-word text.
func ChunkText(text string, path string, opts Options) ([]Chunk, error) {
	if opts.WindowWords <= 0 {
		opts = DefaultOptions()
	}
	stride := opts.WindowWords - opts.OverlapWords
	if stride <= 0 {
		stride = opts.WindowWords
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	idx := 0
	for start := 0; start < len(words); start += stride {
		end := start + opts.WindowWords
		if end > len(words) {
			end = len(words)
		}

		windowWords := words[start:end]
		chunkText := strings.TrimSpace(strings.Join(windowWords, " "))
		if len(chunkText) >= opts.MinChars {
			chunks = append(chunks, Chunk{
				Path:      path,
				Text:      chunkText,
				Index:     idx,
				WordCount: len(windowWords),
			})
			idx++
		}

		if end == len(words) {
			break
		}
	}

	return chunks, nil
}
