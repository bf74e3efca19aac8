package domain

import "errors"

var (
	// ErrUnsupportedFormat is returned for file extensions no extractor handles.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrExtraction is returned when a document parser fails.
	ErrExtraction = errors.New("extraction error")

	// ErrInvalidParameter is returned for bad caller input such as chunk_size or overlap.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNoContentExtracted is returned when a document yields zero chunks.
	ErrNoContentExtracted = errors.New("no content extracted")

	// ErrCacheCorruption marks a malformed cache record. Loading skips such records.
	ErrCacheCorruption = errors.New("cache corruption")

	// ErrEmbeddingFailure is returned when the embedding model call fails.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrStoreFailure is returned when the vector store is unavailable or rejects a write.
	ErrStoreFailure = errors.New("store failure")

	// ErrNotFound is returned when a requested file or collection does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInternal marks a broken internal invariant.
	ErrInternal = errors.New("internal error")
)

// IsUserError reports whether err is caused by caller input rather than by
// an unavailable collaborator.
func IsUserError(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrExtraction) ||
		errors.Is(err, ErrInvalidParameter) ||
		errors.Is(err, ErrNoContentExtracted) ||
		errors.Is(err, ErrNotFound)
}
