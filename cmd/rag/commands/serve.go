package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"minirag/internal/server"
)

// ServeAction runs the HTTP API until the process is interrupted.
func ServeAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cfg := appCtx.Config.Server
	if cmd.IsSet("addr") {
		cfg.Addr = cmd.String("addr")
	}
	if cmd.IsSet("data-dir") {
		cfg.DataDir = cmd.String("data-dir")
	}

	srv := server.New(appCtx.Service, server.Options{
		DataDir:        cfg.DataDir,
		Store:          appCtx.StoreDesc,
		TopK:           cfg.TopK,
		MaxUploadBytes: int64(cfg.MaxUploadMB) << 20,
		AllowedOrigins: cfg.AllowedOrigins,
	}, appCtx.Logger)

	appCtx.Logger.Info("starting http server",
		"addr", cfg.Addr,
		"store", appCtx.StoreDesc,
		"answerer", appCtx.Answerer.Backend)
	return srv.Run(ctx, cfg.Addr)
}
