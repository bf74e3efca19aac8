package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"minirag/internal/config"
	"minirag/internal/service"
)

// IngestFlags are shared by ingest, chat and experiment.
func IngestFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "file",
			Aliases:  []string{"f"},
			Usage:    "Path to a PDF/DOCX/TXT file",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "collection",
			Usage: "Collection name (default from config: my_docs)",
		},
		&cli.IntFlag{
			Name:  "chunk-size",
			Usage: "Chunk size in characters (default from config: 800)",
		},
		&cli.IntFlag{
			Name:  "chunk-overlap",
			Usage: "Chunk overlap in characters (default from config: 150)",
		},
		&cli.IntFlag{
			Name:  "batch-size",
			Usage: "Batch size for encoding embeddings (default from config: 32)",
		},
	}
}

// IngestAction ingests one document.
func IngestAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	_, err = runIngest(ctx, cmd, appCtx, os.Stdout)
	return err
}

func runIngest(ctx context.Context, cmd *cli.Command, appCtx *AppContext, w io.Writer) (*service.IngestResult, error) {
	req := ingestRequest(cmd, appCtx.Config)
	res, err := appCtx.Service.Ingest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", req.Path, err)
	}
	printIngest(w, res)
	return res, nil
}

func ingestRequest(cmd *cli.Command, cfg *config.AppConfig) service.IngestRequest {
	req := service.IngestRequest{
		Path:       cmd.String("file"),
		Collection: cfg.Query.Collection,
		ChunkSize:  cfg.Chunker.ChunkSize,
		Overlap:    cfg.Chunker.Overlap,
		BatchSize:  cfg.Embedder.BatchSize,
	}
	if cmd.IsSet("collection") {
		req.Collection = cmd.String("collection")
	}
	if cmd.IsSet("chunk-size") {
		req.ChunkSize = int(cmd.Int("chunk-size"))
	}
	if cmd.IsSet("chunk-overlap") {
		req.Overlap = int(cmd.Int("chunk-overlap"))
	}
	if cmd.IsSet("batch-size") {
		req.BatchSize = int(cmd.Int("batch-size"))
	}
	return req
}

func printIngest(w io.Writer, res *service.IngestResult) {
	if res.Encoded > 0 {
		fmt.Fprintf(w, "Encoded %d / %d new chunks.\n", res.Encoded, res.Stored)
	} else {
		fmt.Fprintln(w, "All chunks reused from cache; skipped encoding.")
	}
	fmt.Fprintf(w, "Ingested %d deduped chunks (%d raw) from %s into collection '%s' in %s.\n",
		res.Stored, res.Raw, res.Source, res.Collection, res.Duration.Round(time.Millisecond))
}
