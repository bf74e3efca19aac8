// Package pgvector stores collections in PostgreSQL using the pgvector
// extension's cosine distance operator.
package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvec "github.com/pgvector/pgvector-go"

	"minirag/internal/domain"
	"minirag/internal/vectorstore"
)

var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS rag_collections (
		name       TEXT PRIMARY KEY,
		dimension  INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS rag_records (
		collection TEXT NOT NULL REFERENCES rag_collections(name) ON DELETE CASCADE,
		id         TEXT NOT NULL,
		document   TEXT NOT NULL,
		meta       JSONB NOT NULL,
		embedding  vector NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
}

// Store is a pgvector-backed vector store.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ domain.VectorStore = (*Store)(nil)

// Open connects to dsn and creates the schema when missing.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to postgres: %v", domain.ErrStoreFailure, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: pinging postgres: %v", domain.ErrStoreFailure, err)
	}
	for _, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("%w: migrating: %v", domain.ErrStoreFailure, err)
		}
	}
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Collection(ctx context.Context, name string) (domain.Collection, error) {
	if err := vectorstore.CheckName(name); err != nil {
		return nil, err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO rag_collections (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return nil, fmt.Errorf("%w: creating collection %s: %v", domain.ErrStoreFailure, name, err)
	}
	return &Collection{store: s, name: name}, nil
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM rag_collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing collections: %v", domain.ErrStoreFailure, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%w: listing collections: %v", domain.ErrStoreFailure, err)
	}
	return names, nil
}

// Collection is a view onto the rows of one collection.
type Collection struct {
	store *Store
	name  string
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Upsert(ctx context.Context, records []domain.Record) error {
	dim, err := vectorstore.CheckRecords(records)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := c.store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrStoreFailure, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var have int
	err = tx.QueryRow(ctx, `SELECT dimension FROM rag_collections WHERE name = $1 FOR UPDATE`, c.name).Scan(&have)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: collection %s was removed", domain.ErrStoreFailure, c.name)
	}
	if err != nil {
		return fmt.Errorf("%w: reading collection %s: %v", domain.ErrStoreFailure, c.name, err)
	}
	if err := vectorstore.CheckDimension(c.name, have, dim); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	if have == 0 {
		batch.Queue(`UPDATE rag_collections SET dimension = $1 WHERE name = $2`, dim, c.name)
	}
	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("%w: encoding metadata of %s: %v", domain.ErrStoreFailure, r.ID, err)
		}
		batch.Queue(`
			INSERT INTO rag_records (collection, id, document, meta, embedding)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (collection, id) DO UPDATE SET
				document = EXCLUDED.document,
				meta = EXCLUDED.meta,
				embedding = EXCLUDED.embedding`,
			c.name, r.ID, r.Document, string(meta), pgvec.NewVector(r.Embedding))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%w: upserting into %s: %v", domain.ErrStoreFailure, c.name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrStoreFailure, err)
	}
	c.store.logger.Debug("pgvector upsert", "collection", c.name, "records", len(records))
	return nil
}

func (c *Collection) Query(ctx context.Context, embedding []float32, topK int) ([]domain.Hit, error) {
	if err := vectorstore.CheckQuery(embedding, topK); err != nil {
		return nil, err
	}
	var have int
	err := c.store.pool.QueryRow(ctx, `SELECT dimension FROM rag_collections WHERE name = $1`, c.name).Scan(&have)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: reading collection %s: %v", domain.ErrStoreFailure, c.name, err)
	}
	if err := vectorstore.CheckDimension(c.name, have, len(embedding)); err != nil {
		return nil, err
	}

	rows, err := c.store.pool.Query(ctx, `
		SELECT id, document, meta, embedding <=> $2 AS distance
		FROM rag_records
		WHERE collection = $1
		ORDER BY distance, id
		LIMIT $3`,
		c.name, pgvec.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s: %v", domain.ErrStoreFailure, c.name, err)
	}
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Hit, error) {
		var (
			h    domain.Hit
			meta []byte
		)
		if err := row.Scan(&h.ID, &h.Document, &meta, &h.Distance); err != nil {
			return h, err
		}
		return h, json.Unmarshal(meta, &h.Metadata)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading hits of %s: %v", domain.ErrStoreFailure, c.name, err)
	}
	return hits, nil
}

func (c *Collection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.store.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rag_records WHERE collection = $1`, c.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: counting %s: %v", domain.ErrStoreFailure, c.name, err)
	}
	return n, nil
}
