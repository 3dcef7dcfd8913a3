package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/sojourn/internal/logging"
	"github.com/conneroisu/sojourn/internal/renderer"
	"github.com/conneroisu/sojourn/internal/watcher"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		debounce time.Duration
		target   string
		output   string
		data     *DataFlags
	)

	cmd := &cobra.Command{
		Use:     "watch",
		Aliases: []string{"w"},
		Short:   "Recompile bundles whenever they change",
		Long: `Watch the configured bundles and recompile them on every change. A
bundle that fails to compile is reported and the last good templates stay in
use. With --render, the named template is re-rendered after every successful
reload.

Examples:
  sojourn watch                              # Report compile errors as you edit
  sojourn watch --render page -o page.html   # Keep page.html up to date`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.load(cmd)
			if err != nil {
				return err
			}
			params, injected, err := data.Data()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			holder, reloader, err := a.registry(cfg, logger)
			if err != nil {
				logger.Error(ctx, err, "initial compile failed, waiting for changes")
			}
			r := newRenderer(cfg, holder, logger)

			rerender := func() {
				if target == "" || holder.Load() == nil {
					return
				}
				if output == "" {
					if err := r.Render(ctx, cmd.OutOrStdout(), target, params, injected); err != nil {
						logger.Error(ctx, err, "render failed", "template", target)
					}
					return
				}
				if err := renderToFile(ctx, r, output, target, params, injected); err != nil {
					logger.Error(ctx, err, "render failed", "template", target)
					return
				}
				logger.Info(ctx, "rendered", "template", target, "output", output)
			}
			rerender()

			fileWatcher, err := watcher.NewFileWatcher(debounce, logger)
			if err != nil {
				return fmt.Errorf("failed to create file watcher: %w", err)
			}
			defer fileWatcher.Stop()
			fileWatcher.AddFilter(watcher.BundleFilter)
			fileWatcher.AddFilter(watcher.NoHiddenFilter)
			fileWatcher.AddFilter(watcher.NoGitFilter)
			fileWatcher.AddHandler(func(events []watcher.ChangeEvent) error {
				if err := reloader.Handle(events); err != nil {
					return err
				}
				rerender()
				return nil
			})

			if err := watchPaths(ctx, fileWatcher, cfg.Bundle.Paths, logger); err != nil {
				return err
			}
			if err := fileWatcher.Start(ctx); err != nil {
				return fmt.Errorf("failed to start file watcher: %w", err)
			}
			logger.Info(ctx, "watching bundles", "paths", cfg.Bundle.Paths)
			<-ctx.Done()
			return nil
		},
	}

	data = addDataFlags(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", 300*time.Millisecond, "Delay that groups rapid changes")
	cmd.Flags().StringVar(&target, "render", "", "Template to re-render after each reload")
	cmd.Flags().StringVarP(&output, "output", "o", "", "File to write --render output to (default stdout)")
	return cmd
}

// watchPaths watches directories recursively and files through their
// directory, so editors that replace files on save are still seen.
func watchPaths(ctx context.Context, fw *watcher.FileWatcher, paths []string, logger logging.Logger) error {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			logger.Warn(ctx, err, "cannot watch bundle path", "path", path)
			continue
		}
		if info.IsDir() {
			err = fw.AddRecursive(path)
		} else {
			err = fw.AddPath(filepath.Dir(path))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// renderToFile renders name into path, replacing the file only once the
// render succeeded.
func renderToFile(ctx context.Context, r *renderer.Renderer, path, name string, params, injected map[string]any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sojourn-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := r.Render(ctx, tmp, name, params, injected); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
