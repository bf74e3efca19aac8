package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"minirag/internal/domain"
)

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Dimension int                   `yaml:"dimension"`
	Device    string                `yaml:"device,omitempty"`
	BatchSize int                   `yaml:"batch_size"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how page text is split into chunks.
type ChunkerConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	Overlap   int `yaml:"overlap"`
}

// CacheConfig locates the embedding cache.
type CacheConfig struct {
	Dir string `yaml:"dir"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type     string          `yaml:"type"`
	SQLite   *FileStoreConfig `yaml:"sqlite,omitempty"`
	Bolt     *FileStoreConfig `yaml:"bolt,omitempty"`
	Qdrant   *QdrantConfig    `yaml:"qdrant,omitempty"`
	Postgres *PostgresConfig  `yaml:"postgres,omitempty"`
}

// FileStoreConfig points an embedded store at its database file.
type FileStoreConfig struct {
	Path string `yaml:"path"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// PostgresConfig contains connection details for a pgvector database. The
// DSN is read from DSNEnv when DSN is empty.
type PostgresConfig struct {
	DSN    string `yaml:"dsn,omitempty"`
	DSNEnv string `yaml:"dsn_env"`
}

// LLMConfig configures the chat model used for answers.
type LLMConfig struct {
	BaseURL       string  `yaml:"base_url"`
	APIKeyEnv     string  `yaml:"api_key_env"`
	Model         string  `yaml:"model"`
	Temperature   float64 `yaml:"temperature"`
	TimeoutSecs   int     `yaml:"timeout_secs"`
	ContextTokens int     `yaml:"context_tokens"`
	Encoding      string  `yaml:"encoding"`
}

// AnswererConfig selects how answers are synthesized: llm, extractive or auto.
type AnswererConfig struct {
	Mode string     `yaml:"mode"`
	LLM  *LLMConfig `yaml:"llm,omitempty"`
}

// QueryConfig holds CLI query defaults.
type QueryConfig struct {
	Collection string `yaml:"collection"`
	TopK       int    `yaml:"top_k"`
	// Mode is retrieval or answer.
	Mode string `yaml:"mode"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	DataDir        string   `yaml:"data_dir"`
	TopK           int      `yaml:"top_k"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Log         LogConfig         `yaml:"log"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Cache       CacheConfig       `yaml:"cache"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Answerer    AnswererConfig    `yaml:"answerer"`
	Query       QueryConfig       `yaml:"query"`
	Server      ServerConfig      `yaml:"server"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/minirag/config.yaml.
// If neither exists, it writes defaults to ~/.config/minirag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Default returns the built-in configuration.
func Default() *AppConfig { return defaultConfig() }

// Validate rejects unknown implementation types and bad chunking defaults.
func (c *AppConfig) Validate() error {
	var errs []error
	check := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%w: %s %q is not one of %s", domain.ErrInvalidParameter, field, value, strings.Join(allowed, ", ")))
	}
	check("embedder.type", c.Embedder.Type, "hashing", "openai")
	check("vector_store.type", c.VectorStore.Type, "sqlite", "bolt", "memory", "qdrant", "pgvector")
	check("answerer.mode", c.Answerer.Mode, "auto", "llm", "extractive")
	check("query.mode", c.Query.Mode, "retrieval", "answer")
	check("log.format", c.Log.Format, "text", "json")

	if c.Chunker.ChunkSize <= 0 || c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		errs = append(errs, fmt.Errorf("%w: chunker needs chunk_size > 0 and 0 <= overlap < chunk_size, got %d/%d",
			domain.ErrInvalidParameter, c.Chunker.ChunkSize, c.Chunker.Overlap))
	}
	if c.Query.TopK <= 0 || c.Server.TopK <= 0 {
		errs = append(errs, fmt.Errorf("%w: top_k must be > 0", domain.ErrInvalidParameter))
	}
	if c.VectorStore.Type == "qdrant" && c.VectorStore.Qdrant.URL == "" {
		errs = append(errs, fmt.Errorf("%w: vector_store.qdrant.url is required", domain.ErrInvalidParameter))
	}
	return errors.Join(errs...)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "minirag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Log:         LogConfig{Level: "info", Format: "text"},
		Embedder:    EmbedderConfig{Type: "hashing", Dimension: 384, BatchSize: 32},
		Chunker:     ChunkerConfig{ChunkSize: 800, Overlap: 150},
		Cache:       CacheConfig{Dir: "./cache"},
		VectorStore: VectorStoreConfig{Type: "sqlite"},
		Answerer:    AnswererConfig{Mode: "auto"},
		Query:       QueryConfig{Collection: "my_docs", TopK: 3, Mode: "retrieval"},
		Server:      ServerConfig{Addr: ":8000", DataDir: "./data", TopK: 5, MaxUploadMB: 50},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = 32
	}
	if cfg.Embedder.Type == "hashing" && cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 384
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 800
		if cfg.Chunker.Overlap == 0 {
			cfg.Chunker.Overlap = 150
		}
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = "./cache"
	}

	vs := &cfg.VectorStore
	if vs.Type == "" {
		vs.Type = "sqlite"
	}
	if vs.SQLite == nil {
		vs.SQLite = &FileStoreConfig{}
	}
	if vs.SQLite.Path == "" {
		vs.SQLite.Path = "./chroma_db/minirag.db"
	}
	if vs.Bolt == nil {
		vs.Bolt = &FileStoreConfig{}
	}
	if vs.Bolt.Path == "" {
		vs.Bolt.Path = "./chroma_db/minirag.bolt"
	}
	if vs.Type == "qdrant" {
		if vs.Qdrant == nil {
			vs.Qdrant = &QdrantConfig{}
		}
		if vs.Qdrant.URL == "" {
			vs.Qdrant.URL = "http://localhost:6333"
		}
		if vs.Qdrant.TimeoutSecs == 0 {
			vs.Qdrant.TimeoutSecs = 15
		}
	}
	if vs.Type == "pgvector" {
		if vs.Postgres == nil {
			vs.Postgres = &PostgresConfig{}
		}
		if vs.Postgres.DSNEnv == "" {
			vs.Postgres.DSNEnv = "MINIRAG_POSTGRES_DSN"
		}
	}

	if cfg.Answerer.Mode == "" {
		cfg.Answerer.Mode = "auto"
	}
	if cfg.Answerer.LLM == nil {
		cfg.Answerer.LLM = &LLMConfig{}
	}
	llm := cfg.Answerer.LLM
	if llm.APIKeyEnv == "" {
		llm.APIKeyEnv = "OPENAI_API_KEY"
	}
	if llm.Model == "" {
		llm.Model = "gpt-4o-mini"
	}
	if llm.TimeoutSecs == 0 {
		llm.TimeoutSecs = 60
	}
	if llm.ContextTokens == 0 {
		llm.ContextTokens = 3000
	}
	if llm.Encoding == "" {
		llm.Encoding = "cl100k_base"
	}

	if cfg.Query.Collection == "" {
		cfg.Query.Collection = "my_docs"
	}
	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = 3
	}
	if cfg.Query.Mode == "" {
		cfg.Query.Mode = "retrieval"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.DataDir == "" {
		cfg.Server.DataDir = "./data"
	}
	if cfg.Server.TopK == 0 {
		cfg.Server.TopK = 5
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 50
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
			"http://localhost:8000",
		}
	}
}
