// Package vectorstore holds the checks and ranking shared by the vector
// store backends in its subpackages.
package vectorstore

import (
	"fmt"
	"sort"
	"strings"

	"minirag/internal/domain"
	"minirag/internal/vecmath"
)

// CheckName rejects empty or whitespace-only collection names.
func CheckName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: collection name must not be empty", domain.ErrInvalidParameter)
	}
	return nil
}

// CheckRecords validates a batch before it reaches a backend and returns the
// shared embedding dimension. An empty batch has dimension 0.
func CheckRecords(records []domain.Record) (int, error) {
	dim := 0
	for i, r := range records {
		if r.ID == "" {
			return 0, fmt.Errorf("%w: record %d has no id", domain.ErrStoreFailure, i)
		}
		if len(r.Embedding) == 0 {
			return 0, fmt.Errorf("%w: record %s has no embedding", domain.ErrStoreFailure, r.ID)
		}
		if dim == 0 {
			dim = len(r.Embedding)
		} else if len(r.Embedding) != dim {
			return 0, fmt.Errorf("%w: record %s has dimension %d, batch has %d", domain.ErrStoreFailure, r.ID, len(r.Embedding), dim)
		}
	}
	return dim, nil
}

// CheckDimension fails when a collection already holding vectors of width
// have receives vectors of width got. have == 0 means the collection is new.
func CheckDimension(collection string, have, got int) error {
	if have != 0 && got != 0 && have != got {
		return fmt.Errorf("%w: collection %s expects dimension %d, got %d", domain.ErrStoreFailure, collection, have, got)
	}
	return nil
}

// CheckQuery validates query arguments.
func CheckQuery(embedding []float32, topK int) error {
	if len(embedding) == 0 {
		return fmt.Errorf("%w: empty query embedding", domain.ErrInvalidParameter)
	}
	if topK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", domain.ErrInvalidParameter, topK)
	}
	return nil
}

// Rank returns the topK records nearest to query by cosine distance,
// ascending. Equal distances keep id order so results are deterministic.
func Rank(query []float32, records []domain.Record, topK int) []domain.Hit {
	hits := make([]domain.Hit, 0, len(records))
	for _, r := range records {
		hits = append(hits, domain.Hit{
			ID:       r.ID,
			Document: r.Document,
			Metadata: r.Metadata,
			Distance: vecmath.CosineDistance(query, r.Embedding),
		})
	}
	SortHits(hits)
	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits
}

// SortHits orders hits by ascending distance, then id.
func SortHits(hits []domain.Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
}
