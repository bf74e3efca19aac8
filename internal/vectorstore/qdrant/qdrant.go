package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"minirag/internal/domain"
	"minirag/internal/vectorstore"
)

// pointNamespace derives Qdrant point ids, which must be UUIDs or integers,
// from content ids.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("minirag.chunk"))

// PointID maps a content id to its stable Qdrant point id.
func PointID(id string) string {
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Store is a minimal REST client to Qdrant. Collections use cosine distance.
// A Qdrant collection needs a vector size, so it is created on the first
// upsert; until then it is only known to this process.
type Store struct {
	url    string
	apiKey string
	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

var _ domain.VectorStore = (*Store)(nil)

func New(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Store{
		url:     strings.TrimSuffix(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		pending: make(map[string]struct{}),
	}
}

func (s *Store) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Store) Collection(_ context.Context, name string) (domain.Collection, error) {
	if err := vectorstore.CheckName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.pending[name] = struct{}{}
	s.mu.Unlock()
	return &Collection{store: s, name: name}, nil
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var names []string
	for _, c := range resp.Result.Collections {
		seen[c.Name] = struct{}{}
		names = append(names, c.Name)
	}
	s.mu.Lock()
	for name := range s.pending {
		if _, ok := seen[name]; !ok {
			names = append(names, name)
		}
	}
	s.mu.Unlock()
	sort.Strings(names)
	return names, nil
}

// Collection addresses one Qdrant collection.
type Collection struct {
	store *Store
	name  string
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) path(suffix string) string {
	return "/collections/" + url.PathEscape(c.name) + suffix
}

// size returns the configured vector size, or 0 when the collection does not exist yet.
func (c *Collection) size(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	status, err := c.store.do(ctx, http.MethodGet, c.path(""), nil, &resp)
	if status == http.StatusNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return resp.Result.Config.Params.Vectors.Size, nil
}

func (c *Collection) Upsert(ctx context.Context, records []domain.Record) error {
	dim, err := vectorstore.CheckRecords(records)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	have, err := c.size(ctx)
	if err != nil {
		return err
	}
	if have == 0 {
		body := map[string]any{
			"vectors": map[string]any{"size": dim, "distance": "Cosine"},
		}
		if _, err := c.store.do(ctx, http.MethodPut, c.path(""), body, nil); err != nil {
			return err
		}
		c.store.logger.Info("qdrant collection created", "collection", c.name, "dimension", dim)
	} else if err := vectorstore.CheckDimension(c.name, have, dim); err != nil {
		return err
	}

	points := make([]map[string]any, len(records))
	for i, r := range records {
		points[i] = map[string]any{
			"id":     PointID(r.ID),
			"vector": r.Embedding,
			"payload": map[string]any{
				"content_id": r.ID,
				"document":   r.Document,
				"source":     r.Metadata.Source,
				"page":       r.Metadata.Page,
				"position":   r.Metadata.Position,
				"hash":       r.Metadata.Hash,
			},
		}
	}
	_, err = c.store.do(ctx, http.MethodPut, c.path("/points?wait=true"), map[string]any{"points": points}, nil)
	return err
}

type payload struct {
	ContentID string `json:"content_id"`
	Document  string `json:"document"`
	Source    string `json:"source"`
	Page      int    `json:"page"`
	Position  int    `json:"position"`
	Hash      string `json:"hash"`
}

func (c *Collection) Query(ctx context.Context, embedding []float32, topK int) ([]domain.Hit, error) {
	if err := vectorstore.CheckQuery(embedding, topK); err != nil {
		return nil, err
	}
	req := map[string]any{
		"vector":       embedding,
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload payload `json:"payload"`
		} `json:"result"`
	}
	status, err := c.store.do(ctx, http.MethodPost, c.path("/points/search"), req, &resp)
	if status == http.StatusNotFound {
		return []domain.Hit{}, nil
	}
	if err != nil {
		return nil, err
	}
	hits := make([]domain.Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		p := r.Payload
		hits = append(hits, domain.Hit{
			ID:       p.ContentID,
			Document: p.Document,
			Metadata: domain.ChunkMeta{Source: p.Source, Page: p.Page, Position: p.Position, Hash: p.Hash},
			// Qdrant reports cosine similarity.
			Distance: 1 - r.Score,
		})
	}
	vectorstore.SortHits(hits)
	return hits, nil
}

func (c *Collection) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	status, err := c.store.do(ctx, http.MethodPost, c.path("/points/count"), map[string]any{"exact": true}, &resp)
	if status == http.StatusNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// do sends a JSON request and decodes a JSON reply into out. The HTTP status
// is returned alongside transport and status errors.
func (s *Store) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%w: encoding qdrant request: %v", domain.ErrStoreFailure, err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.url+path, r)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreFailure, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: qdrant %s %s: %v", domain.ErrStoreFailure, method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("%w: qdrant %s %s failed: %s %s", domain.ErrStoreFailure, method, path, resp.Status, bytes.TrimSpace(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decoding qdrant reply: %v", domain.ErrStoreFailure, err)
		}
	}
	return resp.StatusCode, nil
}
