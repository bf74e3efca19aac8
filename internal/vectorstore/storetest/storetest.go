// Package storetest is a behaviour suite every domain.VectorStore backend runs
// from its own tests.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minirag/internal/domain"
)

// Opener returns a fresh, empty store. The suite closes it.
type Opener func(t *testing.T) domain.VectorStore

func record(id, doc string, page int, vec ...float32) domain.Record {
	return domain.Record{
		ID:        id,
		Document:  doc,
		Metadata:  domain.ChunkMeta{Source: "doc.txt", Page: page, Position: page - 1, Hash: id},
		Embedding: vec,
	}
}

// Run exercises get-or-create, replace-by-id upserts, ordering and counts.
func Run(t *testing.T, open Opener) {
	t.Run("GetOrCreate", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		defer s.Close()

		a, err := s.Collection(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, "alpha", a.Name())
		_, err = s.Collection(ctx, "beta")
		require.NoError(t, err)
		_, err = s.Collection(ctx, "alpha")
		require.NoError(t, err)

		names, err := s.ListCollections(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"alpha", "beta"}, names)

		n, err := a.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		_, err = s.Collection(ctx, " ")
		assert.ErrorIs(t, err, domain.ErrInvalidParameter)
	})

	t.Run("UpsertReplacesByID", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		defer s.Close()

		c, err := s.Collection(ctx, "docs")
		require.NoError(t, err)
		require.NoError(t, c.Upsert(ctx, []domain.Record{
			record("sha256_a", "first", 1, 1, 0, 0),
			record("sha256_b", "second", 1, 0, 1, 0),
		}))
		require.NoError(t, c.Upsert(ctx, []domain.Record{
			record("sha256_a", "first again", 2, 1, 0, 0),
			record("sha256_c", "third", 2, 0, 0, 1),
		}))

		n, err := c.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		hits, err := c.Query(ctx, []float32{1, 0, 0}, 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "sha256_a", hits[0].ID)
		assert.Equal(t, "first again", hits[0].Document)
		assert.Equal(t, domain.ChunkMeta{Source: "doc.txt", Page: 2, Position: 1, Hash: "sha256_a"}, hits[0].Metadata)
	})

	t.Run("QueryOrdersByDistance", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		defer s.Close()

		c, err := s.Collection(ctx, "docs")
		require.NoError(t, err)
		require.NoError(t, c.Upsert(ctx, []domain.Record{
			record("far", "far", 1, 0, 1),
			record("near", "near", 1, 0.9, 0.1),
			record("exact", "exact", 1, 1, 0),
		}))

		hits, err := c.Query(ctx, []float32{1, 0}, 5)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, "exact", hits[0].ID)
		assert.Equal(t, "near", hits[1].ID)
		assert.Equal(t, "far", hits[2].ID)
		assert.InDelta(t, 0.0, hits[0].Distance, 1e-4)
		assert.InDelta(t, 1.0, hits[2].Distance, 1e-4)
		for i := 1; i < len(hits); i++ {
			assert.LessOrEqual(t, hits[i-1].Distance, hits[i].Distance)
		}
	})

	t.Run("EmptyCollectionQuery", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		defer s.Close()

		c, err := s.Collection(ctx, "empty")
		require.NoError(t, err)
		hits, err := c.Query(ctx, []float32{1, 0}, 3)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("CollectionsAreIsolated", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		defer s.Close()

		a, err := s.Collection(ctx, "a")
		require.NoError(t, err)
		b, err := s.Collection(ctx, "b")
		require.NoError(t, err)
		require.NoError(t, a.Upsert(ctx, []domain.Record{record("x", "in a", 1, 1, 0)}))

		n, err := b.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		n, err = a.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("RejectsDimensionChange", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		defer s.Close()

		c, err := s.Collection(ctx, "docs")
		require.NoError(t, err)
		require.NoError(t, c.Upsert(ctx, []domain.Record{record("x", "x", 1, 1, 0)}))
		err = c.Upsert(ctx, []domain.Record{record("y", "y", 1, 1, 0, 0)})
		assert.ErrorIs(t, err, domain.ErrStoreFailure)
	})

	t.Run("InvalidQuery", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		defer s.Close()

		c, err := s.Collection(ctx, "docs")
		require.NoError(t, err)
		_, err = c.Query(ctx, []float32{1}, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidParameter)
	})
}
