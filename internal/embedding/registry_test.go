package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minirag/internal/domain"
	"minirag/internal/embedding/hashing"
)

func TestRegistry_LoadsOncePerRef(t *testing.T) {
	r := NewRegistry()

	a, err := r.Load(ModelRef{Provider: "hashing", Dimension: 64})
	require.NoError(t, err)
	b, err := r.Load(ModelRef{Provider: "HASHING", Dimension: 64, Device: "cpu"})
	require.NoError(t, err)
	c, err := r.Load(ModelRef{Provider: "hashing", Dimension: 32})
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, "hashing-64", a.Name())
}

func TestRegistry_DefaultsToHashing(t *testing.T) {
	r := NewRegistry()
	e, err := r.Load(ModelRef{})
	require.NoError(t, err)
	assert.Equal(t, "hashing-384", e.Name())

	vecs, err := e.Encode(context.Background(), []string{"hello world"}, domain.EncodeOptions{Normalize: true})
	require.NoError(t, err)
	assert.Len(t, vecs[0], hashing.DefaultDimension)
}

func TestRegistry_UnknownProvider(t *testing.T) {
	_, err := NewRegistry().Load(ModelRef{Provider: "word2vec"})
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestRegistry_FailedLoadIsNotCached(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register("flaky", func(ref ModelRef) (domain.Embedder, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("model download failed")
		}
		return hashing.New(8), nil
	})

	_, err := r.Load(ModelRef{Provider: "flaky"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailure)
	assert.Zero(t, r.Len())

	_, err = r.Load(ModelRef{Provider: "flaky"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRegistry_OpenAIWithoutKey(t *testing.T) {
	t.Setenv("MINIRAG_MISSING_KEY", "")
	_, err := NewRegistry().Load(ModelRef{Provider: "openai", APIKeyEnv: "MINIRAG_MISSING_KEY"})
	assert.ErrorIs(t, err, domain.ErrEmbeddingFailure)
}

func TestRegistry_ConcurrentLoad(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	results := make([]domain.Embedder, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := r.Load(ModelRef{Provider: "hashing", Dimension: 16})
			assert.NoError(t, err)
			results[i] = e
		}(i)
	}
	wg.Wait()
	for _, e := range results[1:] {
		assert.Same(t, results[0], e)
	}
	assert.Equal(t, 1, r.Len())
}
