package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minirag/internal/domain"
	"minirag/internal/vectorstore/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.VectorStore {
		s, err := Open(filepath.Join(t.TempDir(), "vectors.bolt"), nil)
		require.NoError(t, err)
		return s
	})
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.bolt")

	s, err := Open(path, nil)
	require.NoError(t, err)
	c, err := s.Collection(ctx, "docs")
	require.NoError(t, err)
	require.NoError(t, c.Upsert(ctx, []domain.Record{{ID: "x", Document: "kept", Embedding: []float32{1, 0}}}))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	c, err = s.Collection(ctx, "docs")
	require.NoError(t, err)
	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
