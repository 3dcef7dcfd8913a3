package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/sojourn/internal/version"
)

func newVersionCmd() *cobra.Command {
	var (
		format string
		short  bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the sojourn version, git commit, build time, Go version and
target platform.

Examples:
  sojourn version             # Full version info
  sojourn version --short     # Version only
  sojourn version -f json     # Output as JSON`,
		Args: cobra.NoArgs,
		// Version needs no configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			out := cmd.OutOrStdout()
			switch strings.ToLower(format) {
			case "json":
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(info)
			case "yaml":
				encoder := yaml.NewEncoder(out)
				defer encoder.Close()
				return encoder.Encode(info)
			}
			if short {
				fmt.Fprintln(out, info.Short())
				return nil
			}
			fmt.Fprintln(out, "sojourn")
			fmt.Fprintln(out, info.String())
			if info.IsRelease() {
				fmt.Fprintln(out, "Build type: release")
			} else {
				fmt.Fprintln(out, "Build type: development")
			}
			return nil
		},
	}

	addFormatFlag(cmd, &format, "text", "json", "yaml")
	cmd.Flags().BoolVar(&short, "short", false, "Show short version only")
	return cmd
}
