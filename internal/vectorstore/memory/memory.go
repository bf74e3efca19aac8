package memory

import (
	"context"
	"sort"
	"sync"

	"minirag/internal/domain"
	"minirag/internal/vectorstore"
)

// Store is an in-memory vector store using brute-force cosine distance.
// Nothing survives the process.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*Collection
}

var _ domain.VectorStore = (*Store)(nil)

func New() *Store {
	return &Store{collections: make(map[string]*Collection)}
}

func (s *Store) Collection(_ context.Context, name string) (domain.Collection, error) {
	if err := vectorstore.CheckName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &Collection{name: name, records: make(map[string]domain.Record)}
		s.collections[name] = c
	}
	return c, nil
}

func (s *Store) ListCollections(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Close() error { return nil }

// Collection is one named set of records keyed by id.
type Collection struct {
	mu        sync.RWMutex
	name      string
	dimension int
	records   map[string]domain.Record
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Upsert(_ context.Context, records []domain.Record) error {
	dim, err := vectorstore.CheckRecords(records)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := vectorstore.CheckDimension(c.name, c.dimension, dim); err != nil {
		return err
	}
	for _, r := range records {
		r.Embedding = append([]float32(nil), r.Embedding...)
		c.records[r.ID] = r
	}
	if c.dimension == 0 {
		c.dimension = dim
	}
	return nil
}

func (c *Collection) Query(_ context.Context, embedding []float32, topK int) ([]domain.Hit, error) {
	if err := vectorstore.CheckQuery(embedding, topK); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.records) == 0 {
		return []domain.Hit{}, nil
	}
	if err := vectorstore.CheckDimension(c.name, c.dimension, len(embedding)); err != nil {
		return nil, err
	}
	all := make([]domain.Record, 0, len(c.records))
	for _, r := range c.records {
		all = append(all, r)
	}
	return vectorstore.Rank(embedding, all, topK), nil
}

func (c *Collection) Count(context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records), nil
}
