// Package sqlite is the default persistent vector store: a single SQLite file
// holding every collection, with embeddings stored as float32 BLOBs and
// distances computed in process.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"minirag/internal/domain"
	"minirag/internal/vectorstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	name       TEXT PRIMARY KEY,
	dimension  INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
	id         TEXT NOT NULL,
	document   TEXT NOT NULL,
	meta       TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	PRIMARY KEY (collection, id)
);
`

// Store is a SQLite-backed vector store.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ domain.VectorStore = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating data directory: %v", domain.ErrStoreFailure, err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", domain.ErrStoreFailure, err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating schema: %v", domain.ErrStoreFailure, err)
	}
	logger.Debug("sqlite vector store opened", "path", path)
	return &Store{db: db, path: path, logger: logger}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Collection(ctx context.Context, name string) (domain.Collection, error) {
	if err := vectorstore.CheckName(name); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name) VALUES (?) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return nil, fmt.Errorf("%w: creating collection %s: %v", domain.ErrStoreFailure, name, err)
	}
	return &Collection{store: s, name: name}, nil
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing collections: %v", domain.ErrStoreFailure, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: scanning collection: %v", domain.ErrStoreFailure, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
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

	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrStoreFailure, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var have int
	err = tx.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, c.name).Scan(&have)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: collection %s was removed", domain.ErrStoreFailure, c.name)
	}
	if err != nil {
		return fmt.Errorf("%w: reading collection %s: %v", domain.ErrStoreFailure, c.name, err)
	}
	if err := vectorstore.CheckDimension(c.name, have, dim); err != nil {
		return err
	}
	if have == 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE collections SET dimension = ? WHERE name = ?`, dim, c.name); err != nil {
			return fmt.Errorf("%w: setting dimension: %v", domain.ErrStoreFailure, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (collection, id, document, meta, embedding)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			document = excluded.document,
			meta = excluded.meta,
			embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("%w: preparing upsert: %v", domain.ErrStoreFailure, err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("%w: encoding metadata of %s: %v", domain.ErrStoreFailure, r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.name, r.ID, r.Document, string(meta), encodeEmbedding(r.Embedding)); err != nil {
			return fmt.Errorf("%w: upserting %s: %v", domain.ErrStoreFailure, r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrStoreFailure, err)
	}
	c.store.logger.Debug("sqlite upsert", "collection", c.name, "records", len(records))
	return nil
}

func (c *Collection) Query(ctx context.Context, embedding []float32, topK int) ([]domain.Hit, error) {
	if err := vectorstore.CheckQuery(embedding, topK); err != nil {
		return nil, err
	}
	var have int
	err := c.store.db.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, c.name).Scan(&have)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: reading collection %s: %v", domain.ErrStoreFailure, c.name, err)
	}
	if err := vectorstore.CheckDimension(c.name, have, len(embedding)); err != nil {
		return nil, err
	}

	rows, err := c.store.db.QueryContext(ctx,
		`SELECT id, document, meta, embedding FROM records WHERE collection = ?`, c.name)
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s: %v", domain.ErrStoreFailure, c.name, err)
	}
	defer rows.Close()

	var all []domain.Record
	for rows.Next() {
		var (
			r    domain.Record
			meta string
			blob []byte
		)
		if err := rows.Scan(&r.ID, &r.Document, &meta, &blob); err != nil {
			return nil, fmt.Errorf("%w: scanning record: %v", domain.ErrStoreFailure, err)
		}
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return nil, fmt.Errorf("%w: decoding metadata of %s: %v", domain.ErrStoreFailure, r.ID, err)
		}
		if r.Embedding, err = decodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("%w: decoding embedding of %s: %v", domain.ErrStoreFailure, r.ID, err)
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: querying %s: %v", domain.ErrStoreFailure, c.name, err)
	}
	return vectorstore.Rank(embedding, all, topK), nil
}

func (c *Collection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection = ?`, c.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: counting %s: %v", domain.ErrStoreFailure, c.name, err)
	}
	return n, nil
}

// encodeEmbedding writes little-endian IEEE 754 float32 values without a
// length prefix.
func encodeEmbedding(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
