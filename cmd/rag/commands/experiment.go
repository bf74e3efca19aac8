package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"minirag/internal/service"
)

var (
	experimentChunkSizes = []int{500, 800, 1200}
	experimentOverlaps   = []int{50, 150, 250}
	experimentTopKs      = []int{3, 5}

	probeQueries = []string{
		"Summarize the main content",
		"What are the important points to note?",
		"Specific details about the document",
	}
)

// ExperimentFlags configures the chunking sweep.
func ExperimentFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "file",
			Aliases:  []string{"f"},
			Usage:    "Path to a PDF/DOCX/TXT file",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "prefix",
			Usage: "Collection name prefix",
			Value: "exp",
		},
		&cli.StringSliceFlag{
			Name:  "query",
			Usage: "Probe query (repeatable; defaults to three generic questions)",
		},
	}
}

// experimentPort is the part of the service the sweep drives.
type experimentPort interface {
	Ingest(ctx context.Context, req service.IngestRequest) (*service.IngestResult, error)
	Query(ctx context.Context, req service.QueryRequest) (*service.QueryResult, error)
}

type sweep struct {
	file       string
	prefix     string
	chunkSizes []int
	overlaps   []int
	topKs      []int
	queries    []string
}

// ExperimentRow is the top hit of one probe query under one configuration.
type ExperimentRow struct {
	ChunkSize  int
	Overlap    int
	TopK       int
	Collection string
	Stored     int
	Query      string
	Hits       int
	Top1       float64
	Source     string
	Page       int
	Preview    string
}

// ExperimentAction ingests the file under every chunking configuration and
// reports the best hit of each probe query.
func ExperimentAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	queries := cmd.StringSlice("query")
	if len(queries) == 0 {
		queries = probeQueries
	}
	rows, err := runSweep(ctx, appCtx.Service, sweep{
		file:       cmd.String("file"),
		prefix:     cmd.String("prefix"),
		chunkSizes: experimentChunkSizes,
		overlaps:   experimentOverlaps,
		topKs:      experimentTopKs,
		queries:    queries,
	})
	if err != nil {
		return err
	}
	renderExperiment(os.Stdout, rows)
	return nil
}

func experimentCollection(prefix string, chunkSize, overlap int) string {
	return fmt.Sprintf("%s_cs%d_ov%d", prefix, chunkSize, overlap)
}

func runSweep(ctx context.Context, svc experimentPort, s sweep) ([]ExperimentRow, error) {
	var rows []ExperimentRow
	for _, size := range s.chunkSizes {
		for _, overlap := range s.overlaps {
			coll := experimentCollection(s.prefix, size, overlap)
			ing, err := svc.Ingest(ctx, service.IngestRequest{
				Path:       s.file,
				Collection: coll,
				ChunkSize:  size,
				Overlap:    overlap,
			})
			if err != nil {
				return nil, fmt.Errorf("chunk_size=%d overlap=%d: %w", size, overlap, err)
			}
			for _, k := range s.topKs {
				for _, q := range s.queries {
					res, err := svc.Query(ctx, service.QueryRequest{Question: q, Collection: coll, TopK: k})
					if err != nil {
						return nil, fmt.Errorf("chunk_size=%d overlap=%d top_k=%d: %w", size, overlap, k, err)
					}
					row := ExperimentRow{
						ChunkSize:  size,
						Overlap:    overlap,
						TopK:       k,
						Collection: coll,
						Stored:     ing.Stored,
						Query:      q,
						Hits:       len(res.Hits),
					}
					if len(res.Hits) > 0 {
						top := res.Hits[0]
						row.Top1 = top.Distance
						row.Source = top.Metadata.Source
						row.Page = top.Metadata.Page
						row.Preview = preview(top.Document, 60)
					}
					rows = append(rows, row)
				}
			}
		}
	}
	return rows, nil
}

func renderExperiment(w io.Writer, rows []ExperimentRow) {
	table := tablewriter.NewWriter(w)
	table.Header("chunk_size", "overlap", "top_k", "chunks", "query", "hits", "top1_dist", "source", "page", "preview")
	for _, r := range rows {
		dist, page := "-", "-"
		if r.Hits > 0 {
			dist = fmt.Sprintf("%.4f", r.Top1)
			page = fmt.Sprintf("%d", r.Page)
		}
		table.Append(
			fmt.Sprintf("%d", r.ChunkSize),
			fmt.Sprintf("%d", r.Overlap),
			fmt.Sprintf("%d", r.TopK),
			fmt.Sprintf("%d", r.Stored),
			r.Query,
			fmt.Sprintf("%d", r.Hits),
			dist,
			r.Source,
			page,
			r.Preview,
		)
	}
	table.Render()
}
