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

// CollectionsAction prints every collection with its record count.
func CollectionsAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	infos, err := appCtx.Service.CollectionStats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Vector store: %s\n\n", appCtx.StoreDesc)
	renderCollections(os.Stdout, infos)
	return nil
}

func renderCollections(w io.Writer, infos []service.CollectionInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "No collections yet.")
		return
	}
	table := tablewriter.NewWriter(w)
	table.Header("Collection", "Chunks")
	for _, c := range infos {
		table.Append(c.Name, fmt.Sprintf("%d", c.Count))
	}
	table.Render()
}
