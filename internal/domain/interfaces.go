package domain

import "context"

// Page is the text of one page of a source document. Numbers are 1-based.
type Page struct {
	Number int
	Text   string
}

// ChunkMeta travels with a chunk into the vector store.
type ChunkMeta struct {
	Source   string `json:"source"`
	Page     int    `json:"page"`
	Position int    `json:"position"`
	Hash     string `json:"hash,omitempty"`
}

// Chunk is a contiguous piece of a page's normalized text.
type Chunk struct {
	ID   string
	Text string
	Meta ChunkMeta
}

// Record is what gets upserted into a collection.
type Record struct {
	ID        string
	Document  string
	Metadata  ChunkMeta
	Embedding []float32
}

// Hit is a single nearest-neighbour match. Lower distance is closer.
type Hit struct {
	ID       string
	Document string
	Metadata ChunkMeta
	Distance float64
}

// Extractor turns a file into ordered page texts.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]Page, error)
}

// EncodeOptions controls a single Encode call.
type EncodeOptions struct {
	Normalize bool
	BatchSize int
}

// Embedder converts texts into vectors, one per input, preserving order.
// An empty input yields an empty output.
type Embedder interface {
	Name() string
	Encode(ctx context.Context, texts []string, opts EncodeOptions) ([][]float32, error)
}

// Collection is a named partition of a vector store.
type Collection interface {
	Name() string
	// Upsert replaces records that share an ID.
	Upsert(ctx context.Context, records []Record) error
	// Query returns up to topK hits ordered by ascending distance.
	Query(ctx context.Context, embedding []float32, topK int) ([]Hit, error)
	Count(ctx context.Context) (int, error)
}

// VectorStore persists collections of embedded chunks.
type VectorStore interface {
	// Collection returns the named collection, creating it if needed.
	Collection(ctx context.Context, name string) (Collection, error)
	ListCollections(ctx context.Context) ([]string, error)
	Close() error
}

// InsufficientContext is the reply every Answerer gives when no context was retrieved.
const InsufficientContext = "Not enough data in the provided context to answer."

// Answerer synthesizes an answer to question using only the given context.
type Answerer interface {
	Answer(ctx context.Context, question string, context []string) (string, error)
}
