package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minirag/internal/domain"
)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// fakeServer answers /embeddings with vectors [len(text), index] in reversed
// index order, so callers must reorder by index.
func fakeServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(len(req.Input[i])), float64(i)},
			})
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

func TestNew_MissingKey(t *testing.T) {
	t.Setenv("MINIRAG_TEST_EMPTY_KEY", "")
	_, err := New(Config{APIKeyEnv: "MINIRAG_TEST_EMPTY_KEY"})
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestModelName(t *testing.T) {
	assert.Equal(t, "text-embedding-3-small", modelName(DefaultBaseURL, "text-embedding-3-small", 0))
	assert.Equal(t, "text-embedding-3-small-256", modelName(DefaultBaseURL+"/", "text-embedding-3-small", 256))
	assert.Equal(t, "localhost:11434/v1/nomic-embed-text", modelName("http://localhost:11434/v1", "nomic-embed-text", 0))
	assert.NotEqual(t,
		modelName("http://gw-a:8080/v1", "m", 4),
		modelName("http://gw-b:8080/v1", "m", 4))
}

func TestEncode_OrderAndBatching(t *testing.T) {
	var calls int32
	srv := fakeServer(t, &calls)
	defer srv.Close()

	t.Setenv("MINIRAG_TEST_KEY", "test-key")
	e, err := New(Config{BaseURL: srv.URL + "/v1", APIKeyEnv: "MINIRAG_TEST_KEY", Model: "mini"})
	require.NoError(t, err)
	assert.Equal(t, strings.TrimPrefix(srv.URL, "http://")+"/v1/mini", e.Name())

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	out, err := e.Encode(context.Background(), texts, domain.EncodeOptions{BatchSize: 2})
	require.NoError(t, err)
	require.Len(t, out, 5)
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), out[i][0])
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestEncode_Normalize(t *testing.T) {
	var calls int32
	srv := fakeServer(t, &calls)
	defer srv.Close()

	e, err := New(Config{BaseURL: srv.URL + "/v1", APIKey: "test-key"})
	require.NoError(t, err)

	out, err := e.Encode(context.Background(), []string{"abc"}, domain.EncodeOptions{Normalize: true})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(out[0][0]), 1e-6)
	assert.InDelta(t, 0.0, float64(out[0][1]), 1e-6)
}

func TestEncode_EmptyInputMakesNoCall(t *testing.T) {
	var calls int32
	srv := fakeServer(t, &calls)
	defer srv.Close()

	e, err := New(Config{BaseURL: srv.URL + "/v1", APIKey: "test-key"})
	require.NoError(t, err)

	out, err := e.Encode(context.Background(), nil, domain.EncodeOptions{})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestEncode_ServerErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	e, err := New(Config{BaseURL: srv.URL + "/v1", APIKey: "test-key"})
	require.NoError(t, err)

	_, err = e.Encode(context.Background(), []string{"x"}, domain.EncodeOptions{})
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailure)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
