package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minirag/internal/domain"
)

func TestRank(t *testing.T) {
	records := []domain.Record{
		{ID: "far", Document: "far", Embedding: []float32{0, 1}},
		{ID: "near", Document: "near", Embedding: []float32{1, 0.1}},
		{ID: "exact", Document: "exact", Embedding: []float32{2, 0}},
		{ID: "opposite", Document: "opposite", Embedding: []float32{-1, 0}},
	}

	hits := Rank([]float32{1, 0}, records, 3)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"exact", "near", "far"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-9)
	assert.InDelta(t, 1.0, hits[2].Distance, 1e-9)

	all := Rank([]float32{1, 0}, records, 10)
	require.Len(t, all, 4)
	assert.Equal(t, "opposite", all[3].ID)
	assert.InDelta(t, 2.0, all[3].Distance, 1e-9)
}

func TestRank_TiesOrderedByID(t *testing.T) {
	records := []domain.Record{
		{ID: "b", Embedding: []float32{1, 0}},
		{ID: "a", Embedding: []float32{1, 0}},
	}
	hits := Rank([]float32{1, 0}, records, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "b", hits[1].ID)
}

func TestCheckRecords(t *testing.T) {
	dim, err := CheckRecords(nil)
	require.NoError(t, err)
	assert.Zero(t, dim)

	dim, err = CheckRecords([]domain.Record{{ID: "a", Embedding: []float32{1, 2}}, {ID: "b", Embedding: []float32{3, 4}}})
	require.NoError(t, err)
	assert.Equal(t, 2, dim)

	_, err = CheckRecords([]domain.Record{{ID: "", Embedding: []float32{1}}})
	assert.ErrorIs(t, err, domain.ErrStoreFailure)

	_, err = CheckRecords([]domain.Record{{ID: "a"}})
	assert.ErrorIs(t, err, domain.ErrStoreFailure)

	_, err = CheckRecords([]domain.Record{{ID: "a", Embedding: []float32{1}}, {ID: "b", Embedding: []float32{1, 2}}})
	assert.ErrorIs(t, err, domain.ErrStoreFailure)
}

func TestChecks(t *testing.T) {
	assert.ErrorIs(t, CheckName("  "), domain.ErrInvalidParameter)
	assert.NoError(t, CheckName("docs"))

	assert.ErrorIs(t, CheckQuery(nil, 3), domain.ErrInvalidParameter)
	assert.ErrorIs(t, CheckQuery([]float32{1}, 0), domain.ErrInvalidParameter)
	assert.NoError(t, CheckQuery([]float32{1}, 1))

	assert.NoError(t, CheckDimension("c", 0, 3))
	assert.NoError(t, CheckDimension("c", 3, 3))
	assert.ErrorIs(t, CheckDimension("c", 3, 4), domain.ErrStoreFailure)
}
