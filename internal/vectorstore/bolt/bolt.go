// Package bolt stores collections as bbolt buckets of JSON records keyed by id.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"minirag/internal/domain"
	"minirag/internal/vectorstore"
)

type storedRecord struct {
	Document  string           `json:"document"`
	Metadata  domain.ChunkMeta `json:"metadata"`
	Embedding []float32        `json:"embedding"`
}

// Store is a bbolt-backed vector store.
type Store struct {
	db     *bbolt.DB
	logger *slog.Logger
}

var _ domain.VectorStore = (*Store)(nil)

// Open opens or creates the bbolt file at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating data directory: %v", domain.ErrStoreFailure, err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", domain.ErrStoreFailure, path, err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Collection(_ context.Context, name string) (domain.Collection, error) {
	if err := vectorstore.CheckName(name); err != nil {
		return nil, err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating collection %s: %v", domain.ErrStoreFailure, name, err)
	}
	return &Collection{store: s, name: name}, nil
}

func (s *Store) ListCollections(context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing collections: %v", domain.ErrStoreFailure, err)
	}
	return names, nil
}

// Collection is one bucket.
type Collection struct {
	store *Store
	name  string
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) bucket(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	b := tx.Bucket([]byte(c.name))
	if b == nil {
		return nil, fmt.Errorf("%w: collection %s was removed", domain.ErrStoreFailure, c.name)
	}
	return b, nil
}

// dimension reads the width of the first stored vector; 0 for an empty bucket.
func dimension(b *bbolt.Bucket) (int, error) {
	_, v := b.Cursor().First()
	if v == nil {
		return 0, nil
	}
	var r storedRecord
	if err := json.Unmarshal(v, &r); err != nil {
		return 0, err
	}
	return len(r.Embedding), nil
}

func (c *Collection) Upsert(_ context.Context, records []domain.Record) error {
	dim, err := vectorstore.CheckRecords(records)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	err = c.store.db.Update(func(tx *bbolt.Tx) error {
		b, err := c.bucket(tx)
		if err != nil {
			return err
		}
		have, err := dimension(b)
		if err != nil {
			return fmt.Errorf("%w: decoding record: %v", domain.ErrStoreFailure, err)
		}
		if err := vectorstore.CheckDimension(c.name, have, dim); err != nil {
			return err
		}
		for _, r := range records {
			data, err := json.Marshal(storedRecord{Document: r.Document, Metadata: r.Metadata, Embedding: r.Embedding})
			if err != nil {
				return fmt.Errorf("%w: encoding %s: %v", domain.ErrStoreFailure, r.ID, err)
			}
			if err := b.Put([]byte(r.ID), data); err != nil {
				return fmt.Errorf("%w: writing %s: %v", domain.ErrStoreFailure, r.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.store.logger.Debug("bolt upsert", "collection", c.name, "records", len(records))
	return nil
}

func (c *Collection) Query(_ context.Context, embedding []float32, topK int) ([]domain.Hit, error) {
	if err := vectorstore.CheckQuery(embedding, topK); err != nil {
		return nil, err
	}
	var all []domain.Record
	err := c.store.db.View(func(tx *bbolt.Tx) error {
		b, err := c.bucket(tx)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var r storedRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("%w: decoding %s: %v", domain.ErrStoreFailure, k, err)
			}
			if err := vectorstore.CheckDimension(c.name, len(r.Embedding), len(embedding)); err != nil {
				return err
			}
			all = append(all, domain.Record{ID: string(k), Document: r.Document, Metadata: r.Metadata, Embedding: r.Embedding})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return vectorstore.Rank(embedding, all, topK), nil
}

func (c *Collection) Count(context.Context) (int, error) {
	var n int
	err := c.store.db.View(func(tx *bbolt.Tx) error {
		b, err := c.bucket(tx)
		if err != nil {
			return err
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}
