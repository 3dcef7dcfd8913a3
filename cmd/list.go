package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/sojourn/internal/registry"
)

func newListCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List compiled templates",
		Long: `List every template in the configured bundles with its kind, delegate
and params. Delegate implementations are listed under their delegate name.

Examples:
  sojourn list                  # Table of templates
  sojourn list -f json          # JSON, for scripts
  sojourn list -b ./site -f yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.load(cmd)
			if err != nil {
				return err
			}
			holder, _, err := a.registry(cfg, logger)
			if err != nil {
				return err
			}
			infos := holder.Load().Describe()

			out := cmd.OutOrStdout()
			switch strings.ToLower(format) {
			case "json":
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(infos)
			case "yaml":
				encoder := yaml.NewEncoder(out)
				defer encoder.Close()
				return encoder.Encode(infos)
			default:
				return outputListTable(out, infos)
			}
		},
	}

	addFormatFlag(cmd, &format, "table", "json", "yaml")
	return cmd
}

func outputListTable(out io.Writer, infos []registry.TemplateInfo) error {
	if len(infos) == 0 {
		fmt.Fprintln(out, "No templates found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tDELEGATE\tPARAMS\tSOURCE")
	for _, info := range infos {
		delegate := "-"
		if d := info.Delegate; d != nil {
			delegate = fmt.Sprintf("%s/%s (%d)", orDefault(d.Package), orDefault(d.Variant), d.Priority)
		}
		params := make([]string, 0, len(info.Params))
		for _, p := range info.Params {
			param := p.Name + ":" + p.Type
			if p.Injected {
				param = "ij." + param
			}
			if !p.Required {
				param += "?"
			}
			params = append(params, param)
		}
		paramList := strings.Join(params, ", ")
		if paramList == "" {
			paramList = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", info.Name, info.Kind, delegate, paramList, info.Source)
	}
	return w.Flush()
}

func orDefault(s string) string {
	if s == "" {
		return "default"
	}
	return s
}
