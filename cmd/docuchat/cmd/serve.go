package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivansantander-hub/docuchat/internal/server"
	"github.com/ivansantander-hub/docuchat/internal/watcher"
	"github.com/ivansantander-hub/docuchat/pkg/version"
)

func newServeCmd() *cobra.Command {
	var port int
	var host string
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the DocuChat HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if host == "" {
				host = app.cfg.Server.Host
			}
			if port == 0 {
				port = app.cfg.Server.Port
			}

			return runServe(cmd.Context(), app, host, port, watch)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Bind address (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (default from config)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Also watch the uploads directory for new files")
	return cmd
}

func runServe(ctx context.Context, app *app, host string, port int, watch bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Options{
		Registry:     app.registry,
		Pipeline:     app.pipeline,
		Catalog:      app.catalog,
		Sessions:     app.sessions,
		Orchestrator: app.orch,
		Logger:       app.logger,
		Version:      version.Short(),
	})

	if watch || app.cfg.Watcher.Enabled {
		w := watcher.New(app.cfg.UploadsDir(), app.pipeline, app.cfg.Watcher.Debounce, app.logger)
		go func() {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				app.logger.Error("uploads watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start(fmt.Sprintf("%s:%d", host, port))
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
