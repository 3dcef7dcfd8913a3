package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conneroisu/sojourn/internal/config"
	"github.com/conneroisu/sojourn/internal/logging"
	"github.com/conneroisu/sojourn/internal/registry"
	"github.com/conneroisu/sojourn/internal/renderer"
)

func newRenderCmd(a *app) *cobra.Command {
	var output string
	var data *DataFlags

	cmd := &cobra.Command{
		Use:     "render <template>",
		Aliases: []string{"r"},
		Short:   "Render a template",
		Long: `Render a template from the configured bundles to stdout or a file.

Param values are parsed as YAML, so numbers, booleans and lists keep their
types. Deferred params arrive after a delay; the render streams everything
it can before them and resumes when they complete.

Examples:
  sojourn render shop.page -p title=Shop -p 'items=[a, b]'
  sojourn render shop.page --params data.yaml --ij user=ann
  sojourn render shop.page --params data.yaml --defer items=2s
  sojourn render shop.page -b ./templates -o page.html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.load(cmd)
			if err != nil {
				return err
			}
			params, injected, err := data.Data()
			if err != nil {
				return err
			}
			holder, _, err := a.registry(cfg, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				out = f
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return newRenderer(cfg, holder, logger).Render(ctx, out, args[0], params, injected)
		},
	}

	data = addDataFlags(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write output to a file instead of stdout")
	return cmd
}

func newRenderer(cfg *config.Config, holder *registry.Holder, logger logging.Logger) *renderer.Renderer {
	return renderer.New(holder, renderer.Options{
		SoftLimit: cfg.Render.SoftLimit,
		Logger:    logger,
		Context:   cfg.RenderContext(),
	})
}
