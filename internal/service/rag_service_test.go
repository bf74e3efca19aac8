package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minirag/internal/cache"
	"minirag/internal/dedup"
	"minirag/internal/domain"
	"minirag/internal/embedding"
	"minirag/internal/embedding/hashing"
	"minirag/internal/extract"
	"minirag/internal/vectorstore/memory"
)

type countingEmbedder struct {
	mu    sync.Mutex
	inner domain.Embedder
	calls int
	texts int
	err   error
}

func (c *countingEmbedder) Name() string { return "counting/hash v1" }

func (c *countingEmbedder) Encode(ctx context.Context, texts []string, opts domain.EncodeOptions) ([][]float32, error) {
	c.mu.Lock()
	c.calls++
	c.texts += len(texts)
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.Encode(ctx, texts, opts)
}

type countingExtractor struct {
	mu    sync.Mutex
	inner domain.Extractor
	calls int
}

func (c *countingExtractor) Extract(ctx context.Context, path string) ([]domain.Page, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Extract(ctx, path)
}

type recordingAnswerer struct {
	question string
	context  []string
}

func (r *recordingAnswerer) Answer(_ context.Context, question string, chunks []string) (string, error) {
	r.question, r.context = question, chunks
	return "answer", nil
}

// failingStore rejects every upsert.
type failingStore struct{ domain.VectorStore }

func (f failingStore) Collection(ctx context.Context, name string) (domain.Collection, error) {
	c, err := f.VectorStore.Collection(ctx, name)
	if err != nil {
		return nil, err
	}
	return failingCollection{c}, nil
}

type failingCollection struct{ domain.Collection }

func (failingCollection) Upsert(context.Context, []domain.Record) error {
	return fmt.Errorf("%w: disk full", domain.ErrStoreFailure)
}

type fixture struct {
	svc       *RAGService
	embedder  *countingEmbedder
	extractor *countingExtractor
	store     domain.VectorStore
	answerer  *recordingAnswerer
	cacheDir  string
	dir       string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		embedder:  &countingEmbedder{inner: hashing.New(4096)},
		extractor: &countingExtractor{inner: extract.New()},
		store:     memory.New(),
		answerer:  &recordingAnswerer{},
		cacheDir:  filepath.Join(t.TempDir(), "cache"),
		dir:       t.TempDir(),
	}
	f.svc = f.build(f.store)
	return f
}

func (f *fixture) build(store domain.VectorStore) *RAGService {
	reg := embedding.NewRegistry()
	reg.Register("counting", func(embedding.ModelRef) (domain.Embedder, error) { return f.embedder, nil })
	return NewRAGService(Deps{
		Extractor: f.extractor,
		Registry:  reg,
		Model:     embedding.ModelRef{Provider: "counting"},
		Store:     store,
		Answerer:  f.answerer,
		CacheDir:  f.cacheDir,
	})
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *fixture) count(t *testing.T, name string) int {
	t.Helper()
	c, err := f.store.Collection(context.Background(), name)
	require.NoError(t, err)
	n, err := c.Count(context.Background())
	require.NoError(t, err)
	return n
}

func (f *fixture) documents(t *testing.T, name string) []string {
	t.Helper()
	ctx := context.Background()
	vec, err := f.embedder.inner.Encode(ctx, []string{"alpha"}, domain.EncodeOptions{Normalize: true})
	require.NoError(t, err)
	c, err := f.store.Collection(ctx, name)
	require.NoError(t, err)
	hits, err := c.Query(ctx, vec[0], 100)
	require.NoError(t, err)
	docs := make([]string, len(hits))
	for i, h := range hits {
		docs[i] = h.Document
	}
	sort.Strings(docs)
	return docs
}

func TestIngest_ExampleDocument(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "doc.txt", "Alpha beta gamma delta epsilon")

	res, err := f.svc.Ingest(context.Background(), IngestRequest{Path: path, Collection: "docs", ChunkSize: 10, Overlap: 3})
	require.NoError(t, err)
	assert.Equal(t, "doc.txt", res.Source)
	assert.Equal(t, 5, res.Raw)
	assert.Equal(t, 5, res.Stored)
	assert.Equal(t, 5, res.Encoded)
	assert.Zero(t, res.Reused)
	assert.Equal(t, 1, f.embedder.calls)

	want := []string{"Alpha beta", "eta gamma ", "ma delta e", "a epsilon", "on"}
	sort.Strings(want)
	assert.Equal(t, want, f.documents(t, "docs"))
}

func TestIngest_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "doc.txt", "The quick brown fox jumps over the lazy dog. Pack my box with five dozen liquor jugs.")
	req := IngestRequest{Path: path, Collection: "docs", ChunkSize: 20, Overlap: 5}

	first, err := f.svc.Ingest(context.Background(), req)
	require.NoError(t, err)
	countAfterFirst := f.count(t, "docs")
	docsAfterFirst := f.documents(t, "docs")

	second, err := f.svc.Ingest(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Stored, second.Stored)
	assert.Zero(t, second.Encoded)
	assert.Equal(t, second.Stored, second.Reused)
	assert.Equal(t, 1, f.embedder.calls)
	assert.Equal(t, countAfterFirst, f.count(t, "docs"))
	assert.Equal(t, docsAfterFirst, f.documents(t, "docs"))
}

func TestIngest_FullyCachedSkipsEmbedderButUpserts(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "doc.txt", "Alpha beta gamma delta epsilon")
	req := IngestRequest{Path: path, Collection: "docs", ChunkSize: 10, Overlap: 3}

	_, err := f.svc.Ingest(context.Background(), req)
	require.NoError(t, err)
	f.embedder.calls = 0

	// A fresh store has none of the records; every vector must come from the cache.
	f.store = memory.New()
	f.svc = f.build(f.store)
	res, err := f.svc.Ingest(context.Background(), req)
	require.NoError(t, err)

	assert.Zero(t, f.embedder.calls)
	assert.Equal(t, 5, res.Reused)
	assert.Equal(t, 5, f.count(t, "docs"))
}

func TestIngest_DropsDuplicateChunks(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "dup.txt", "abcde  abcde\n\nabcde")

	res, err := f.svc.Ingest(context.Background(), IngestRequest{Path: path, ChunkSize: 6, Overlap: 0})
	require.NoError(t, err)
	assert.Equal(t, DefaultCollection, res.Collection)
	assert.Equal(t, 3, res.Raw)
	assert.Equal(t, 2, res.Stored)
	assert.Equal(t, 2, f.embedder.texts)
	assert.Equal(t, 2, f.count(t, DefaultCollection))
}

func TestIngest_WritesCachePerModel(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "doc.txt", "Alpha beta gamma delta epsilon")
	_, err := f.svc.Ingest(context.Background(), IngestRequest{Path: path, ChunkSize: 10, Overlap: 3})
	require.NoError(t, err)

	key, err := cache.Key(path)
	require.NoError(t, err)
	loaded, err := cache.New(filepath.Join(f.cacheDir, "counting_hash_v1"), nil).Load(key)
	require.NoError(t, err)
	assert.Len(t, loaded, 5)
}

func TestIngest_InvalidParametersFailBeforeIO(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ size, overlap int }{{0, 0}, {10, 10}, {10, -1}, {-5, 0}} {
		_, err := f.svc.Ingest(context.Background(), IngestRequest{Path: filepath.Join(f.dir, "missing.txt"), ChunkSize: tc.size, Overlap: tc.overlap})
		assert.ErrorIs(t, err, domain.ErrInvalidParameter)
	}
	assert.Zero(t, f.extractor.calls)
	assert.Zero(t, f.embedder.calls)
}

func TestIngest_ErrorKinds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, IngestRequest{Path: f.write(t, "blank.txt", " \n\t "), ChunkSize: 10, Overlap: 2})
	assert.ErrorIs(t, err, domain.ErrNoContentExtracted)

	_, err = f.svc.Ingest(ctx, IngestRequest{Path: f.write(t, "slides.pptx", "x"), ChunkSize: 10, Overlap: 2})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	_, err = f.svc.Ingest(ctx, IngestRequest{Path: filepath.Join(f.dir, "gone.txt"), ChunkSize: 10, Overlap: 2})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Ingest(ctx, IngestRequest{Path: " ", ChunkSize: 10, Overlap: 2})
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)

	assert.Zero(t, f.embedder.calls)
}

func TestIngest_EmbeddingFailureLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t)
	f.embedder.err = domain.ErrEmbeddingFailure
	path := f.write(t, "doc.txt", "Alpha beta gamma delta epsilon")

	_, err := f.svc.Ingest(context.Background(), IngestRequest{Path: path, ChunkSize: 10, Overlap: 3})
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailure)

	_, statErr := os.Stat(f.cacheDir)
	assert.True(t, os.IsNotExist(statErr))
	assert.Zero(t, f.count(t, DefaultCollection))
}

func TestIngest_StoreFailureKeepsCacheForRetry(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "doc.txt", "Alpha beta gamma delta epsilon")
	req := IngestRequest{Path: path, ChunkSize: 10, Overlap: 3}

	broken := f.build(failingStore{f.store})
	_, err := broken.Ingest(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrStoreFailure)
	assert.Equal(t, 1, f.embedder.calls)

	res, err := f.svc.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, f.embedder.calls)
	assert.Equal(t, 5, res.Reused)
}

func TestQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.write(t, "doc.txt", "Cats purr softly at night. Dogs bark loudly at strangers. Fish swim silently in ponds.")
	_, err := f.svc.Ingest(ctx, IngestRequest{Path: path, Collection: "pets", ChunkSize: 30, Overlap: 0})
	require.NoError(t, err)

	res, err := f.svc.Query(ctx, QueryRequest{Question: "  dogs bark ", Collection: "pets", TopK: 2})
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	// 30-rune windows split the text as "...Dog" | "s bark loudly at strangers. Fi" | "sh swim..."
	assert.Contains(t, res.Hits[0].Document, "bark")
	assert.LessOrEqual(t, res.Hits[0].Distance, res.Hits[1].Distance)
	assert.Equal(t, "doc.txt", res.Hits[0].Metadata.Source)
	assert.Equal(t, 1, res.Hits[0].Metadata.Page)
	assert.False(t, res.Answered)
	assert.Empty(t, f.answerer.question)

	res, err = f.svc.Query(ctx, QueryRequest{Question: "dogs bark", Collection: "pets", TopK: 2, Answer: true})
	require.NoError(t, err)
	assert.True(t, res.Answered)
	assert.Equal(t, "answer", res.Answer)
	assert.Equal(t, "dogs bark", f.answerer.question)
	assert.Len(t, f.answerer.context, 2)
}

func TestQuery_EmptyCollectionSkipsAnswer(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Query(context.Background(), QueryRequest{Question: "anything", Collection: "empty", TopK: 3, Answer: true})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.False(t, res.Answered)
}

func TestQuery_InvalidParameters(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Query(context.Background(), QueryRequest{Question: "   ", TopK: 3})
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
	_, err = f.svc.Query(context.Background(), QueryRequest{Question: "q", TopK: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
	assert.Zero(t, f.embedder.calls)
}

func TestCollectionStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.write(t, "doc.txt", "Alpha beta gamma delta epsilon")
	_, err := f.svc.Ingest(ctx, IngestRequest{Path: path, Collection: "b", ChunkSize: 10, Overlap: 3})
	require.NoError(t, err)
	_, err = f.svc.Ingest(ctx, IngestRequest{Path: path, Collection: "a", ChunkSize: 30, Overlap: 0})
	require.NoError(t, err)

	names, err := f.svc.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	stats, err := f.svc.CollectionStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []CollectionInfo{{Name: "a", Count: 1}, {Name: "b", Count: 5}}, stats)
}

func TestCacheNamespace(t *testing.T) {
	assert.Equal(t, "hashing-384", cacheNamespace("hashing-384"))
	assert.Equal(t, "BAAI_bge-small-en", cacheNamespace("BAAI/bge-small-en"))
	assert.Equal(t, "default", cacheNamespace("../"))
}

func TestIngest_EmptyCachedVectorIsReEmbedded(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "doc.txt", "Alpha beta gamma delta epsilon")
	key, err := cache.Key(path)
	require.NoError(t, err)
	dir := filepath.Join(f.cacheDir, "counting_hash_v1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	line := fmt.Sprintf("{\"hash\":%q,\"embedding\":[]}\n", dedup.Hash("Alpha beta"))
	require.NoError(t, os.WriteFile(cache.New(dir, nil).Path(key), []byte(line), 0o644))

	res, err := f.svc.Ingest(context.Background(), IngestRequest{Path: path, Collection: "c", ChunkSize: 10, Overlap: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Encoded)
	assert.Equal(t, 0, res.Reused)
	assert.Equal(t, 5, f.count(t, "c"))
}

func TestIngest_ReleasesDocumentLocks(t *testing.T) {
	f := newFixture(t)
	paths := []string{
		f.write(t, "a.txt", "Alpha beta gamma delta epsilon"),
		f.write(t, "b.txt", "Zeta eta theta iota kappa"),
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			_, err := f.svc.Ingest(context.Background(), IngestRequest{Path: path, ChunkSize: 10, Overlap: 3})
			assert.NoError(t, err)
		}(paths[i%2])
	}
	wg.Wait()
	assert.Equal(t, 0, f.svc.lockedDocuments())
}

func TestIngest_ContentIsSavedUnderDocumentLock(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "uploads", "same.txt")
	short := "Alpha beta gamma"
	long := strings.Repeat("Lambda mu nu xi omicron pi rho sigma. ", 20)

	wantShort, err := f.svc.Ingest(context.Background(), IngestRequest{
		Path: path, Collection: "short", ChunkSize: 10, Overlap: 3, Content: strings.NewReader(short),
	})
	require.NoError(t, err)
	wantLong, err := f.svc.Ingest(context.Background(), IngestRequest{
		Path: path, Collection: "long", ChunkSize: 10, Overlap: 3, Content: strings.NewReader(long),
	})
	require.NoError(t, err)
	require.NotEqual(t, wantShort.Raw, wantLong.Raw)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		content, want := short, wantShort.Raw
		if i%2 == 1 {
			content, want = long, wantLong.Raw
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Ingest(context.Background(), IngestRequest{
				Path: path, Collection: "mixed", ChunkSize: 10, Overlap: 3, Content: strings.NewReader(content),
			})
			if assert.NoError(t, err) {
				assert.Equal(t, want, res.Raw)
			}
		}()
	}
	wg.Wait()

	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, []string{short, long}, string(saved))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary upload files are removed")
}
