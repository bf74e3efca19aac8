package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"minirag/internal/answer"
	"minirag/internal/config"
	"minirag/internal/domain"
	"minirag/internal/embedding"
	"minirag/internal/extract"
	"minirag/internal/logger"
	"minirag/internal/service"
	"minirag/internal/vectorstore/bolt"
	"minirag/internal/vectorstore/memory"
	"minirag/internal/vectorstore/pgvector"
	"minirag/internal/vectorstore/qdrant"
	"minirag/internal/vectorstore/sqlite"
)

// AppContext holds everything a command needs, built from the config file.
type AppContext struct {
	Config     *config.AppConfig
	ConfigPath string
	Logger     *slog.Logger
	Store      domain.VectorStore
	// StoreDesc names the backend and location, e.g. "sqlite:./chroma_db/minirag.db".
	StoreDesc string
	Answerer  answer.Selection
	Service   *service.RAGService
}

// NewAppContext loads the .env and YAML config named by the global flags,
// then assembles the store, embedder registry, answerer and service.
func NewAppContext(ctx context.Context, cmd *cli.Command) (*AppContext, error) {
	if err := loadEnv(cmd.String("env")); err != nil {
		return nil, err
	}

	cfg, path, err := loadConfig(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyGlobalOverrides(cmd, cfg); err != nil {
		return nil, err
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	log := logger.New(logger.Config{Level: level, Format: cfg.Log.Format})
	log.Debug("config loaded", "path", path)

	store, desc, err := OpenStore(ctx, cfg.VectorStore, log)
	if err != nil {
		return nil, err
	}

	sel := answer.Select(cfg.Answerer.Mode, llmConfig(cfg.Answerer.LLM), nil, log)
	svc := service.NewRAGService(service.Deps{
		Extractor: extract.New(),
		Registry:  embedding.NewRegistry(),
		Model:     ModelRef(cfg.Embedder),
		Store:     store,
		Answerer:  sel.Answerer,
		CacheDir:  cfg.Cache.Dir,
		BatchSize: cfg.Embedder.BatchSize,
		Logger:    log,
	})

	return &AppContext{
		Config:     cfg,
		ConfigPath: path,
		Logger:     log,
		Store:      store,
		StoreDesc:  desc,
		Answerer:   sel,
		Service:    svc,
	}, nil
}

// Close releases the vector store.
func (ac *AppContext) Close() {
	if ac.Store != nil {
		if err := ac.Store.Close(); err != nil {
			ac.Logger.Warn("closing vector store", "error", err)
		}
	}
}

func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func loadConfig(path string) (*config.AppConfig, string, error) {
	if path == "" {
		return config.LoadDefault()
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

// applyGlobalOverrides lets --db and --cache-dir win over the config file.
// --db names a database file, so only the file-backed stores accept it.
func applyGlobalOverrides(cmd *cli.Command, cfg *config.AppConfig) error {
	if cmd.IsSet("db") {
		db := cmd.String("db")
		switch cfg.VectorStore.Type {
		case "sqlite":
			if cfg.VectorStore.SQLite == nil {
				cfg.VectorStore.SQLite = &config.FileStoreConfig{}
			}
			cfg.VectorStore.SQLite.Path = db
		case "bolt":
			if cfg.VectorStore.Bolt == nil {
				cfg.VectorStore.Bolt = &config.FileStoreConfig{}
			}
			cfg.VectorStore.Bolt.Path = db
		default:
			return fmt.Errorf("%w: --db applies to the sqlite and bolt stores, not %q",
				domain.ErrInvalidParameter, cfg.VectorStore.Type)
		}
	}
	if cmd.IsSet("cache-dir") {
		cfg.Cache.Dir = cmd.String("cache-dir")
	}
	if cmd.IsSet("device") {
		cfg.Embedder.Device = cmd.String("device")
	}
	return nil
}

// OpenStore constructs the configured vector store.
func OpenStore(ctx context.Context, vs config.VectorStoreConfig, log *slog.Logger) (domain.VectorStore, string, error) {
	switch vs.Type {
	case "memory":
		return memory.New(), "memory", nil
	case "sqlite", "":
		st, err := sqlite.Open(vs.SQLite.Path, log)
		return st, "sqlite:" + vs.SQLite.Path, err
	case "bolt":
		st, err := bolt.Open(vs.Bolt.Path, log)
		return st, "bolt:" + vs.Bolt.Path, err
	case "qdrant":
		if vs.Qdrant == nil {
			return nil, "", fmt.Errorf("%w: qdrant config missing", domain.ErrInvalidParameter)
		}
		st := qdrant.New(qdrant.Config{
			URL:     vs.Qdrant.URL,
			APIKey:  os.Getenv(vs.Qdrant.APIKeyEnv),
			Timeout: time.Duration(vs.Qdrant.TimeoutSecs) * time.Second,
		}, log)
		return st, "qdrant:" + vs.Qdrant.URL, nil
	case "pgvector":
		if vs.Postgres == nil {
			return nil, "", fmt.Errorf("%w: postgres config missing", domain.ErrInvalidParameter)
		}
		dsn := vs.Postgres.DSN
		if dsn == "" {
			dsn = os.Getenv(vs.Postgres.DSNEnv)
		}
		if dsn == "" {
			return nil, "", fmt.Errorf("%w: set vector_store.postgres.dsn or %s", domain.ErrInvalidParameter, vs.Postgres.DSNEnv)
		}
		st, err := pgvector.Open(ctx, dsn, log)
		return st, "pgvector", err
	default:
		return nil, "", fmt.Errorf("%w: unknown vector store %q", domain.ErrInvalidParameter, vs.Type)
	}
}

// ModelRef maps the embedder config onto a registry key.
func ModelRef(e config.EmbedderConfig) embedding.ModelRef {
	ref := embedding.ModelRef{Provider: e.Type, Device: e.Device, Dimension: e.Dimension}
	if e.OpenAI != nil {
		ref.Model = e.OpenAI.Model
		ref.BaseURL = e.OpenAI.BaseURL
		ref.APIKeyEnv = e.OpenAI.APIKeyEnv
		ref.Timeout = time.Duration(e.OpenAI.TimeoutSecs) * time.Second
	}
	return ref
}

func llmConfig(c *config.LLMConfig) answer.LLMConfig {
	if c == nil {
		return answer.LLMConfig{}
	}
	return answer.LLMConfig{
		BaseURL:       c.BaseURL,
		APIKeyEnv:     c.APIKeyEnv,
		Model:         c.Model,
		Temperature:   c.Temperature,
		Timeout:       time.Duration(c.TimeoutSecs) * time.Second,
		ContextTokens: c.ContextTokens,
		Encoding:      c.Encoding,
	}
}
