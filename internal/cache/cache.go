// Package cache keeps embedding vectors for previously seen chunk hashes in
// an append-only JSON Lines file per source document.
package cache

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"minirag/internal/domain"
)

// Entry is one persisted hash to vector pair.
type Entry struct {
	Hash      string    `json:"hash"`
	Embedding []float32 `json:"embedding"`
}

// Store reads and appends cache files under a directory.
// Callers must only append hashes that are absent from a loaded mapping;
// the store does no de-duplication of its own.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New returns a Store rooted at dir. The directory is created on first append.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}
}

// Dir returns the directory holding the cache files.
func (s *Store) Dir() string { return s.dir }

// Key derives the cache key of a source document from its absolute path.
func Key(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	h := sha256.Sum256([]byte(filepath.Clean(abs)))
	return hex.EncodeToString(h[:]), nil
}

// Path returns the file backing key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, "embeddings_"+key+".jsonl")
}

// Load reads every record for key. A missing file yields an empty mapping.
// Malformed records are logged and skipped. If a hash appears more than once
// the first record is kept.
func (s *Store) Load(key string) (map[string][]float32, error) {
	path := s.Path(key)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string][]float32{}, nil
		}
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	defer f.Close()

	out := make(map[string][]float32)
	r := bufio.NewReader(f)
	lineNo := 0
	skipped := 0
	for {
		line, readErr := r.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			entry, err := decode(line)
			switch {
			case err != nil:
				skipped++
				s.logger.Warn("skipping cache record", "path", path, "line", lineNo, "error", err)
			case entry != nil:
				if _, ok := out[entry.Hash]; !ok {
					out[entry.Hash] = entry.Embedding
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read cache %s: %w", path, readErr)
		}
	}
	s.logger.Debug("cache loaded", "path", path, "entries", len(out), "skipped", skipped)
	return out, nil
}

// decode parses one line. Blank lines yield (nil, nil).
func decode(line []byte) (*Entry, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}
	var e Entry
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCacheCorruption, err)
	}
	if e.Hash == "" || len(e.Embedding) == 0 {
		return nil, fmt.Errorf("%w: record missing hash or embedding", domain.ErrCacheCorruption)
	}
	return &e, nil
}

// Append adds one line per entry to key's file without touching existing
// lines, then syncs the file to disk.
func (s *Store) Append(key string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir %s: %w", s.dir, err)
	}
	path := s.Path(key)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open cache %s: %w", path, err)
	}

	w := bufio.NewWriter(f)
	torn, err := endsMidLine(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("inspect cache %s: %w", path, err)
	}
	if torn {
		// Terminate a line left unfinished by an interrupted append so the
		// new records start on their own lines.
		_ = w.WriteByte('\n')
	}
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return fmt.Errorf("encode cache record %s: %w", e.Hash, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write cache %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync cache %s: %w", path, err)
	}
	return f.Close()
}

func endsMidLine(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}
