package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"minirag/internal/config"
	"minirag/internal/domain"
	"minirag/internal/service"
	"minirag/internal/tui"
)

const (
	modeRetrieval = "retrieval"
	modeAnswer    = "answer"

	previewRunes = 500
)

// QueryFlags are shared by query and chat.
func QueryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "top-k",
			Aliases: []string{"k"},
			Usage:   "Top-k results when querying (default from config: 3)",
		},
		&cli.StringFlag{
			Name:  "mode",
			Usage: "retrieval: show chunks; answer: synthesize an answer from the retrieved context",
		},
		&cli.BoolFlag{
			Name:  "plain",
			Usage: "Read questions line by line from stdin instead of opening the TUI",
		},
	}
}

type queryOptions struct {
	collection string
	topK       int
	answer     bool
}

func queryOptionsFrom(cmd *cli.Command, cfg *config.AppConfig) (queryOptions, error) {
	opts := queryOptions{collection: cfg.Query.Collection, topK: cfg.Query.TopK}
	if cmd.IsSet("collection") {
		opts.collection = cmd.String("collection")
	}
	if cmd.IsSet("top-k") {
		opts.topK = int(cmd.Int("top-k"))
	}
	mode := cfg.Query.Mode
	if cmd.IsSet("mode") {
		mode = cmd.String("mode")
	}
	switch mode {
	case modeRetrieval:
	case modeAnswer:
		opts.answer = true
	default:
		return opts, fmt.Errorf("%w: --mode must be %s or %s, got %q", domain.ErrInvalidParameter, modeRetrieval, modeAnswer, mode)
	}
	return opts, nil
}

// QueryAction answers one --question, or opens the interactive loop.
func QueryAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	opts, err := queryOptionsFrom(cmd, appCtx.Config)
	if err != nil {
		return err
	}
	if q := cmd.String("question"); q != "" {
		res, err := appCtx.Service.Query(ctx, service.QueryRequest{
			Question: q, Collection: opts.collection, TopK: opts.topK, Answer: opts.answer,
		})
		if err != nil {
			return err
		}
		printResult(os.Stdout, res)
		return nil
	}
	return interact(ctx, cmd, appCtx, opts)
}

// ChatAction ingests --file and then opens the interactive loop on its collection.
func ChatAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	opts, err := queryOptionsFrom(cmd, appCtx.Config)
	if err != nil {
		return err
	}
	res, err := runIngest(ctx, cmd, appCtx, os.Stdout)
	if err != nil {
		return err
	}
	opts.collection = res.Collection
	return interact(ctx, cmd, appCtx, opts)
}

func interact(ctx context.Context, cmd *cli.Command, appCtx *AppContext, opts queryOptions) error {
	if cmd.Bool("plain") {
		return queryLoop(ctx, os.Stdin, os.Stdout, appCtx.Service, opts)
	}
	model, _ := appCtx.Service.ModelName()
	m := tui.New(ctx, appCtx.Service, tui.Options{
		Collection: opts.collection,
		TopK:       opts.topK,
		Answer:     opts.answer,
		Summary: fmt.Sprintf("collection=%s  store=%s  model=%s  answerer=%s",
			opts.collection, appCtx.StoreDesc, model, appCtx.Answerer.Backend),
	})
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

// queryLoop reads one question per line until a blank line or EOF.
func queryLoop(ctx context.Context, in io.Reader, out io.Writer, svc tui.QueryPort, opts queryOptions) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "Query (blank to exit): ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		q := strings.TrimSpace(sc.Text())
		if q == "" {
			return nil
		}
		res, err := svc.Query(ctx, service.QueryRequest{
			Question: q, Collection: opts.collection, TopK: opts.topK, Answer: opts.answer,
		})
		if err != nil {
			if domain.IsUserError(err) {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			return err
		}
		printResult(out, res)
	}
}

func printResult(w io.Writer, res *service.QueryResult) {
	if len(res.Hits) == 0 {
		fmt.Fprintf(w, "No results in collection '%s'.\n", res.Collection)
	}
	for i, h := range res.Hits {
		fmt.Fprintf(w, "#%d | dist=%.4f | source=%s | page=%d\n  %s\n\n",
			i+1, h.Distance, h.Metadata.Source, h.Metadata.Page, preview(h.Document, previewRunes))
	}
	if res.Answered {
		fmt.Fprintf(w, "ANSWER:\n%s\n\n", res.Answer)
	}
}

func preview(text string, n int) string {
	r := []rune(strings.ReplaceAll(text, "\n", " "))
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}
