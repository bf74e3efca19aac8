// Package dedup assigns content-addressed identities to chunks and drops
// repeated chunks within one ingestion batch.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"

	"minirag/internal/domain"
)

// IDPrefix is prepended to the content hash to form a chunk ID.
const IDPrefix = "sha256_"

// Hash returns the lowercase hex SHA-256 of text.
func Hash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// ID derives the storage identifier for a content hash.
func ID(hash string) string {
	return IDPrefix + hash
}

// Dedupe keeps the first chunk for every distinct text, preserving order.
// Surviving chunks get their hash recorded in Meta.Hash and an ID derived
// from it, so the same content always maps to the same ID.
func Dedupe(chunks []domain.Chunk) []domain.Chunk {
	seen := make(map[string]struct{}, len(chunks))
	out := make([]domain.Chunk, 0, len(chunks))
	for _, ch := range chunks {
		h := Hash(ch.Text)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		ch.ID = ID(h)
		ch.Meta.Hash = h
		out = append(out, ch)
	}
	return out
}
