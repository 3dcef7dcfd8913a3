// Package cmd provides the sojourn command-line interface.
//
// Configuration is layered, highest priority first:
//  1. Command-line flags (--bundle, --port, ...)
//  2. SOJOURN_* environment variables, e.g. SOJOURN_RENDER_SOFT_LIMIT
//  3. The config file: --config, else SOJOURN_CONFIG_FILE, else ./.sojourn.yml
//  4. Built-in defaults
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/sojourn/internal/config"
	"github.com/conneroisu/sojourn/internal/logging"
	"github.com/conneroisu/sojourn/internal/registry"
	"github.com/conneroisu/sojourn/internal/watcher"
)

// app carries what every command shares: its own viper instance and the
// flags that feed it.
type app struct {
	cfgFile string
	v       *viper.Viper
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	root := &cobra.Command{
		Use:   "sojourn",
		Short: "Render suspendable streaming templates",
		Long: `sojourn compiles YAML template bundles and renders them as streams that
can pause on late data or a full output buffer and resume where they left off.

Quick Start:
  sojourn list                              List the templates in ./
  sojourn render page -p title=Hello        Render a template to stdout
  sojourn render page --defer items=500ms   Deliver a param late
  sojourn watch --render page -o page.html  Re-render on every bundle change
  sojourn serve                             Serve templates over HTTP`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is .sojourn.yml, can also use SOJOURN_CONFIG_FILE env var)")
	pf.StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	pf.StringSliceP("bundle", "b", nil, "bundle files or directories")
	a.v.BindPFlag("log.level", pf.Lookup("log-level"))
	a.v.BindPFlag("bundle.paths", pf.Lookup("bundle"))

	root.AddCommand(
		newRenderCmd(a),
		newListCmd(a),
		newWatchCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

// initConfig reads the config file. A missing default file is fine; a
// missing file that was asked for is not.
func (a *app) initConfig(cmd *cobra.Command) error {
	config.Setup(a.v, a.cfgFile)
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read configuration: %w", err)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Using config file:", a.v.ConfigFileUsed())
	return nil
}

// load decodes the configuration and builds its logger, reporting
// validation warnings through it.
func (a *app) load(cmd *cobra.Command) (*config.Config, logging.Logger, error) {
	cfg, err := config.LoadFrom(a.v)
	if err != nil {
		return nil, nil, err
	}
	logger, err := cfg.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	for _, w := range config.Validate(cfg).Warnings {
		logger.Warn(cmd.Context(), &w, "configuration warning")
	}
	return cfg, logger, nil
}

// registry loads the configured bundles into a holder. The returned
// reloader refreshes the holder from the same paths.
func (a *app) registry(cfg *config.Config, logger logging.Logger) (*registry.Holder, *watcher.Reloader, error) {
	holder := registry.NewHolder(nil)
	reloader := watcher.NewReloader(holder, registry.Options{Logger: logger}, cfg.Bundle.Paths...)
	return holder, reloader, reloader.Reload()
}

// signalContext is canceled on interrupt or termination.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
