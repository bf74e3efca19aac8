// Package service runs document ingestion and retrieval over the pipeline's
// collaborators.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"minirag/internal/cache"
	"minirag/internal/chunker"
	"minirag/internal/dedup"
	"minirag/internal/domain"
	"minirag/internal/embedding"
)

const (
	DefaultCollection = "my_docs"
	DefaultChunkSize  = 800
	DefaultOverlap    = 150
	DefaultBatchSize  = 32
)

// Deps are the collaborators a RAGService is built from.
type Deps struct {
	Extractor domain.Extractor
	Registry  *embedding.Registry
	Model     embedding.ModelRef
	Store     domain.VectorStore
	Answerer  domain.Answerer
	// CacheDir holds one subdirectory of cache files per embedding model.
	CacheDir  string
	BatchSize int
	Logger    *slog.Logger
}

// RAGService ingests documents into collections and answers queries
// against them.
type RAGService struct {
	extractor domain.Extractor
	registry  *embedding.Registry
	model     embedding.ModelRef
	store     domain.VectorStore
	answerer  domain.Answerer
	cacheDir  string
	batchSize int
	logger    *slog.Logger

	// docLocks serializes ingestion runs of the same document so two callers
	// never both embed and append the same missing hashes. Entries live only
	// while some caller holds or waits for them.
	locksMu  sync.Mutex
	docLocks map[string]*docLock
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

func NewRAGService(d Deps) *RAGService {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Registry == nil {
		d.Registry = embedding.NewRegistry()
	}
	if d.BatchSize <= 0 {
		d.BatchSize = DefaultBatchSize
	}
	return &RAGService{
		extractor: d.Extractor,
		registry:  d.Registry,
		model:     d.Model,
		store:     d.Store,
		answerer:  d.Answerer,
		cacheDir:  d.CacheDir,
		batchSize: d.BatchSize,
		logger:    d.Logger,
		docLocks:  make(map[string]*docLock),
	}
}

// IngestRequest describes one document ingestion.
type IngestRequest struct {
	Path string
	// Source is recorded in chunk metadata; defaults to the file's base name.
	Source     string
	Collection string
	ChunkSize  int
	Overlap    int
	BatchSize  int
	// Content, when set, is written to Path after the document lock is
	// taken, so concurrent uploads of one file name never swap it under a
	// running extraction.
	Content io.Reader
}

// IngestResult reports what an ingestion did.
type IngestResult struct {
	Collection string
	Source     string
	// Raw counts chunks before de-duplication.
	Raw int
	// Stored counts the de-duplicated chunks upserted.
	Stored int
	// Reused counts chunks whose vectors came from the cache.
	Reused int
	// Encoded counts chunks sent to the embedder.
	Encoded  int
	Duration time.Duration
}

// Ingest extracts, chunks, de-duplicates and embeds the document at req.Path,
// reusing cached vectors, and upserts the chunks into the collection.
// Repeating it with the same parameters leaves the collection unchanged.
func (s *RAGService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	start := time.Now()
	if req.Collection == "" {
		req.Collection = DefaultCollection
	}
	if strings.TrimSpace(req.Path) == "" {
		return nil, fmt.Errorf("%w: file path is required", domain.ErrInvalidParameter)
	}
	ch, err := chunker.New(req.ChunkSize, req.Overlap)
	if err != nil {
		return nil, err
	}
	if req.Source == "" {
		req.Source = filepath.Base(req.Path)
	}
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = s.batchSize
	}

	key, err := cache.Key(req.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidParameter, err)
	}
	unlock := s.lockDocument(key)
	defer unlock()

	if req.Content != nil {
		if err := writeAtomic(req.Path, req.Content); err != nil {
			return nil, fmt.Errorf("save %s: %w", req.Source, err)
		}
	}

	pages, err := s.extractor.Extract(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	chunks, err := ch.Pages(req.Source, pages)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoContentExtracted, req.Source)
	}
	unique := dedup.Dedupe(chunks)

	embedder, err := s.registry.Load(s.model)
	if err != nil {
		return nil, err
	}
	store := cache.New(filepath.Join(s.cacheDir, cacheNamespace(embedder.Name())), s.logger)
	vectors, err := store.Load(key)
	if err != nil {
		return nil, fmt.Errorf("load embedding cache: %w", err)
	}

	var missing []domain.Chunk
	for _, c := range unique {
		if _, ok := vectors[c.Meta.Hash]; !ok {
			missing = append(missing, c)
		}
	}

	if len(missing) > 0 {
		s.logger.Info("encoding new chunks", "new", len(missing), "total", len(unique), "batch_size", batchSize)
		texts := make([]string, len(missing))
		for i, c := range missing {
			texts[i] = c.Text
		}
		fresh, err := embedder.Encode(ctx, texts, domain.EncodeOptions{Normalize: true, BatchSize: batchSize})
		if err != nil {
			return nil, err
		}
		if len(fresh) != len(missing) {
			return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts", domain.ErrEmbeddingFailure, len(fresh), len(missing))
		}
		entries := make([]cache.Entry, len(missing))
		for i, c := range missing {
			entries[i] = cache.Entry{Hash: c.Meta.Hash, Embedding: fresh[i]}
		}
		if err := store.Append(key, entries); err != nil {
			return nil, fmt.Errorf("append embedding cache: %w", err)
		}
		for _, e := range entries {
			vectors[e.Hash] = e.Embedding
		}
	} else {
		s.logger.Info("all chunks reused from cache, skipping encoding", "total", len(unique))
	}

	records := make([]domain.Record, len(unique))
	for i, c := range unique {
		vec, ok := vectors[c.Meta.Hash]
		if !ok {
			return nil, fmt.Errorf("%w: no embedding for chunk %s after cache merge", domain.ErrInternal, c.ID)
		}
		records[i] = domain.Record{ID: c.ID, Document: c.Text, Metadata: c.Meta, Embedding: vec}
	}

	coll, err := s.store.Collection(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	if err := coll.Upsert(ctx, records); err != nil {
		return nil, err
	}

	res := &IngestResult{
		Collection: req.Collection,
		Source:     req.Source,
		Raw:        len(chunks),
		Stored:     len(records),
		Reused:     len(unique) - len(missing),
		Encoded:    len(missing),
		Duration:   time.Since(start),
	}
	s.logger.Info("document ingested",
		"source", res.Source,
		"collection", res.Collection,
		"chunks", res.Raw,
		"stored", res.Stored,
		"reused", res.Reused,
		"encoded", res.Encoded,
		"duration", res.Duration)
	return res, nil
}

// QueryRequest is one retrieval, optionally followed by answer synthesis.
type QueryRequest struct {
	Question   string
	Collection string
	TopK       int
	Answer     bool
}

// QueryResult holds the ranked hits and, when requested and hits exist, the answer.
type QueryResult struct {
	Question   string
	Collection string
	Hits       []domain.Hit
	Answer     string
	Answered   bool
}

// Query embeds the question and returns the TopK nearest chunks.
func (s *RAGService) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", domain.ErrInvalidParameter)
	}
	if req.TopK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be > 0", domain.ErrInvalidParameter)
	}
	if req.Collection == "" {
		req.Collection = DefaultCollection
	}

	embedder, err := s.registry.Load(s.model)
	if err != nil {
		return nil, err
	}
	vecs, err := embedder.Encode(ctx, []string{question}, domain.EncodeOptions{Normalize: true, BatchSize: 1})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for 1 text", domain.ErrEmbeddingFailure, len(vecs))
	}

	coll, err := s.store.Collection(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	hits, err := coll.Query(ctx, vecs[0], req.TopK)
	if err != nil {
		return nil, err
	}

	res := &QueryResult{Question: req.Question, Collection: req.Collection, Hits: hits}
	if req.Answer && len(hits) > 0 && s.answerer != nil {
		docs := make([]string, 0, len(hits))
		for _, h := range hits {
			if h.Document != "" {
				docs = append(docs, h.Document)
			}
		}
		answer, err := s.answerer.Answer(ctx, question, docs)
		if err != nil {
			return nil, err
		}
		res.Answer, res.Answered = answer, true
	}
	s.logger.Debug("query served", "collection", req.Collection, "top_k", req.TopK, "hits", len(hits), "answered", res.Answered)
	return res, nil
}

// Collections lists the collection names known to the vector store.
func (s *RAGService) Collections(ctx context.Context) ([]string, error) {
	return s.store.ListCollections(ctx)
}

// CollectionInfo is a collection name with its record count.
type CollectionInfo struct {
	Name  string
	Count int
}

// CollectionStats lists every collection with its record count.
func (s *RAGService) CollectionStats(ctx context.Context) ([]CollectionInfo, error) {
	names, err := s.store.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CollectionInfo, 0, len(names))
	for _, name := range names {
		coll, err := s.store.Collection(ctx, name)
		if err != nil {
			return nil, err
		}
		n, err := coll.Count(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, CollectionInfo{Name: name, Count: n})
	}
	return out, nil
}

// ModelName returns the name of the configured embedding model, loading it if needed.
func (s *RAGService) ModelName() (string, error) {
	e, err := s.registry.Load(s.model)
	if err != nil {
		return "", err
	}
	return e.Name(), nil
}

// CacheDir returns the root of the embedding cache.
func (s *RAGService) CacheDir() string { return s.cacheDir }

func (s *RAGService) lockDocument(key string) func() {
	s.locksMu.Lock()
	l, ok := s.docLocks[key]
	if !ok {
		l = &docLock{}
		s.docLocks[key] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.docLocks, key)
		}
		s.locksMu.Unlock()
	}
}

// lockedDocuments reports how many documents have a lock entry.
func (s *RAGService) lockedDocuments() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.docLocks)
}

// writeAtomic writes src to a temporary file next to path and renames it
// into place.
func writeAtomic(path string, src io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// cacheNamespace turns a model name into a directory name.
func cacheNamespace(model string) string {
	name := strings.Trim(unsafeNameChars.ReplaceAllString(model, "_"), "._")
	if name == "" {
		return "default"
	}
	return name
}
