package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/sojourn/internal/config"
	"github.com/conneroisu/sojourn/internal/server"
	"github.com/conneroisu/sojourn/internal/watcher"
)

func newServeCmd(a *app) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve templates over HTTP and WebSocket",
		Long: `Serve the configured bundles over HTTP. Renders stream to the client as
they flush, and /ws/render/{name} sends each flush as a WebSocket message.
With --watch, bundles are recompiled on change and connected /ws clients are
told which templates changed.

Endpoints:
  GET  /health              Server and registry status
  GET  /templates           Compiled templates and their params
  GET  /render/{name}       Render with query params (ij.name for injected)
  POST /render/{name}       Render with a JSON body {"params": ..., "injected": ...}
  GET  /ws/render/{name}    Render over a WebSocket
  GET  /ws                  Reload notifications

Examples:
  sojourn serve                       # Serve on localhost:8080
  sojourn serve -p 3000 --host 0.0.0.0
  sojourn serve --watch=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.load(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			holder, reloader, err := a.registry(cfg, logger)
			if err != nil {
				if !watch {
					return err
				}
				logger.Error(ctx, err, "initial compile failed, serving once bundles compile")
			}

			if watch {
				fileWatcher, err := watcher.NewFileWatcher(300*time.Millisecond, logger)
				if err != nil {
					return fmt.Errorf("failed to create file watcher: %w", err)
				}
				defer fileWatcher.Stop()
				fileWatcher.AddFilter(watcher.BundleFilter)
				fileWatcher.AddFilter(watcher.NoHiddenFilter)
				fileWatcher.AddFilter(watcher.NoGitFilter)
				fileWatcher.AddHandler(reloader.Handle)
				if err := watchPaths(ctx, fileWatcher, cfg.Bundle.Paths, logger); err != nil {
					return err
				}
				if err := fileWatcher.Start(ctx); err != nil {
					return fmt.Errorf("failed to start file watcher: %w", err)
				}
			}

			srv := server.New(cfg, holder, logger)
			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error(shutdownCtx, err, "error during server shutdown")
				}
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "Serving templates at http://%s\n", srv.Addr())
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntP("port", "p", config.DefaultPort, "Port to serve on")
	cmd.Flags().String("host", config.DefaultHost, "Host to bind to")
	cmd.Flags().BoolVarP(&watch, "watch", "w", true, "Recompile bundles when they change")
	a.v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	a.v.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	return cmd
}
