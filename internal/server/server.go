// Package server exposes the RAG service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"minirag/internal/chunker"
	"minirag/internal/domain"
	"minirag/internal/extract"
	"minirag/internal/service"
)

const (
	defaultTopK        = 5
	defaultMaxUpload   = 50 << 20
	requestIDHeader    = "X-Request-ID"
	fallbackUploadName = "uploaded_file"
)

// FormatChecker reports whether an uploaded file name has a supported extension.
type FormatChecker interface {
	Supported(path string) bool
}

// Options configures a Server.
type Options struct {
	// DataDir receives uploaded files before they are ingested.
	DataDir string
	// Store describes the vector store for /health.
	Store          string
	TopK           int
	MaxUploadBytes int64
	AllowedOrigins []string
	Formats        FormatChecker
}

// Server is the HTTP adapter over a RAGService.
type Server struct {
	svc     *service.RAGService
	opts    Options
	logger  *slog.Logger
	handler http.Handler
}

func New(svc *service.RAGService, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	if opts.Formats == nil {
		opts.Formats = extract.New()
	}
	s := &Server{svc: svc, opts: opts, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("GET /api/collections", s.handleCollections)

	s.handler = s.withRequestID(s.withCORS(mux))
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type healthResponse struct {
	Status   string `json:"status"`
	DataDir  string `json:"data_dir"`
	DB       string `json:"db"`
	CacheDir string `json:"cache_dir"`
	Model    string `json:"model"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	model, err := s.svc.ModelName()
	if err != nil {
		s.logger.Warn("embedding model unavailable", "error", err)
		model = ""
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		DataDir:  s.opts.DataDir,
		DB:       s.opts.Store,
		CacheDir: s.svc.CacheDir(),
		Model:    model,
	})
}

type ingestResponse struct {
	StoredChunks int    `json:"stored_chunks"`
	Collection   string `json:"collection"`
	Source       string `json:"source"`
	Encoded      int    `json:"encoded_chunks"`
	Reused       int    `json:"reused_chunks"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	collection := formValue(r, "collection", service.DefaultCollection)
	chunkSize, err := formInt(r, "chunk_size", service.DefaultChunkSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	overlap, err := formInt(r, "overlap", service.DefaultOverlap)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := chunker.Validate(chunkSize, overlap); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	name := uploadName(header.Filename)
	if !s.opts.Formats.Supported(name) {
		writeError(w, http.StatusBadRequest, "Unsupported file type. Use PDF/DOCX/TXT.")
		return
	}

	res, err := s.svc.Ingest(r.Context(), service.IngestRequest{
		Path:       filepath.Join(s.opts.DataDir, name),
		Source:     name,
		Collection: collection,
		ChunkSize:  chunkSize,
		Overlap:    overlap,
		Content:    file,
	})
	if err != nil {
		s.fail(w, r, "ingest", err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{
		StoredChunks: res.Stored,
		Collection:   res.Collection,
		Source:       res.Source,
		Encoded:      res.Encoded,
		Reused:       res.Reused,
	})
}

type queryRequest struct {
	Question   string `json:"question"`
	Collection string `json:"collection"`
	TopK       *int   `json:"top_k"`
	UseLLM     *bool  `json:"use_llm"`
}

type queryHit struct {
	Rank     int              `json:"rank"`
	ID       string           `json:"id"`
	Distance float64          `json:"distance"`
	Metadata domain.ChunkMeta `json:"metadata"`
	Text     string           `json:"text"`
}

type queryResponse struct {
	Question   string     `json:"question"`
	Collection string     `json:"collection"`
	Results    []queryHit `json:"results"`
	Answer     *string    `json:"answer"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body queryRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.Collection == "" {
		body.Collection = service.DefaultCollection
	}
	topK := s.opts.TopK
	if body.TopK != nil {
		topK = *body.TopK
	}
	useLLM := true
	if body.UseLLM != nil {
		useLLM = *body.UseLLM
	}

	res, err := s.svc.Query(r.Context(), service.QueryRequest{
		Question:   body.Question,
		Collection: body.Collection,
		TopK:       topK,
		Answer:     useLLM,
	})
	if err != nil {
		s.fail(w, r, "query", err)
		return
	}

	out := queryResponse{
		Question:   res.Question,
		Collection: res.Collection,
		Results:    make([]queryHit, len(res.Hits)),
	}
	for i, h := range res.Hits {
		out.Results[i] = queryHit{Rank: i + 1, ID: h.ID, Distance: h.Distance, Metadata: h.Metadata, Text: h.Document}
	}
	if res.Answered {
		out.Answer = &res.Answer
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	names, err := s.svc.Collections(r.Context())
	if err != nil {
		s.fail(w, r, "list collections", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"collections": names})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	log := s.logger.With("op", op, "request_id", w.Header().Get(requestIDHeader), "error", err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed")
	} else {
		log.Info("request rejected")
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case domain.IsUserError(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrEmbeddingFailure), errors.Is(err, domain.ErrStoreFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "request_id", id, "duration", time.Since(start))
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && slices.Contains(s.opts.AllowedOrigins, origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
					h.Set("Access-Control-Allow-Headers", req)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func uploadName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return fallbackUploadName
	}
	return name
}

func formValue(r *http.Request, key, def string) string {
	if v := strings.TrimSpace(r.FormValue(key)); v != "" {
		return v
	}
	return def
}

func formInt(r *http.Request, key string, def int) (int, error) {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
