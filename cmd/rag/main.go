package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"minirag/cmd/rag/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "rag",
		Usage: "Ingest documents into a vector store and ask questions about them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to YAML config file (default: ./config.yaml, then ~/.config/minirag/config.yaml)",
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "Environment file path",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "Database file for the sqlite or bolt vector store (rejected for other store types)",
			},
			&cli.StringFlag{
				Name:  "cache-dir",
				Usage: "Directory for embedding cache files",
			},
			&cli.StringFlag{
				Name:  "device",
				Usage: "Device hint for local embedding models (e.g. cpu)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log at debug level",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Chunk, embed and store a document",
				Flags:  commands.IngestFlags(),
				Action: commands.IngestAction,
			},
			{
				Name:  "query",
				Usage: "Search a collection (one-shot with --question, interactive otherwise)",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "question",
						Aliases: []string{"q"},
						Usage:   "Question to ask; omit to open the interactive loop",
					},
					&cli.StringFlag{
						Name:  "collection",
						Usage: "Collection name (default from config: my_docs)",
					},
				}, commands.QueryFlags()...),
				Action: commands.QueryAction,
			},
			{
				Name:   "chat",
				Usage:  "Ingest a document, then query it interactively",
				Flags:  append(commands.IngestFlags(), commands.QueryFlags()...),
				Action: commands.ChatAction,
			},
			{
				Name:   "collections",
				Usage:  "List collections with their chunk counts",
				Action: commands.CollectionsAction,
			},
			{
				Name:  "serve",
				Usage: "Run the HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (default from config: :8000)",
					},
					&cli.StringFlag{
						Name:  "data-dir",
						Usage: "Directory for uploaded files (default from config: ./data)",
					},
				},
				Action: commands.ServeAction,
			},
			{
				Name:   "experiment",
				Usage:  "Sweep chunk sizes, overlaps and top-k over one document",
				Flags:  commands.ExperimentFlags(),
				Action: commands.ExperimentAction,
			},
		},
	}
}
