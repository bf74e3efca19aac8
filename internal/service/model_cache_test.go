package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minirag/internal/embedding"
	"minirag/internal/extract"
	"minirag/internal/vectorstore/memory"
)

// dimensionServer answers /embeddings with vectors of the requested width.
func dimensionServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input      []string `json:"input"`
			Model      string   `json:"model"`
			Dimensions int      `json:"dimensions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		dim := req.Dimensions
		if dim == 0 {
			dim = 8
		}
		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			vec := make([]float64, dim)
			for j := range vec {
				vec[j] = float64(len(text)+i+j) + 1
			}
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": vec}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestIngest_DimensionChangeDoesNotReuseCache(t *testing.T) {
	srv := dimensionServer(t)
	defer srv.Close()
	t.Setenv("MINIRAG_TEST_EMBED_KEY", "k")

	ctx := context.Background()
	cacheDir := filepath.Join(t.TempDir(), "cache")
	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("Alpha beta gamma delta epsilon"), 0o644))

	build := func(dim int) *RAGService {
		return NewRAGService(Deps{
			Extractor: extract.New(),
			Registry:  embedding.NewRegistry(),
			Model: embedding.ModelRef{
				Provider:  embedding.ProviderOpenAI,
				Model:     "embed-small",
				Dimension: dim,
				BaseURL:   srv.URL + "/v1",
				APIKeyEnv: "MINIRAG_TEST_EMBED_KEY",
			},
			Store:    memory.New(),
			CacheDir: cacheDir,
		})
	}

	wide := build(4)
	res, err := wide.Ingest(ctx, IngestRequest{Path: path, Collection: "a", ChunkSize: 10, Overlap: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Encoded)

	narrow := build(2)
	res, err = narrow.Ingest(ctx, IngestRequest{Path: path, Collection: "b", ChunkSize: 10, Overlap: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Encoded)
	assert.Equal(t, 0, res.Reused)

	out, err := narrow.Query(ctx, QueryRequest{Question: "gamma", Collection: "b", TopK: 2})
	require.NoError(t, err)
	assert.Len(t, out.Hits, 2)

	wideName, err := wide.ModelName()
	require.NoError(t, err)
	narrowName, err := narrow.ModelName()
	require.NoError(t, err)
	assert.NotEqual(t, cacheNamespace(wideName), cacheNamespace(narrowName))
}
