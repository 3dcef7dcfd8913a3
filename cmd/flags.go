package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/sojourn/internal/renderer"
	"github.com/conneroisu/sojourn/internal/value"
)

// DataFlags collect template data from the command line.
type DataFlags struct {
	ParamsFile string
	Params     []string
	Injected   []string
	Deferred   []string
}

func addDataFlags(cmd *cobra.Command) *DataFlags {
	flags := &DataFlags{}
	cmd.Flags().StringVar(&flags.ParamsFile, "params", "", "YAML file of template params")
	cmd.Flags().StringArrayVarP(&flags.Params, "param", "p", nil, "Template param as name=value (value is YAML)")
	cmd.Flags().StringArrayVar(&flags.Injected, "ij", nil, "Injected param as name=value (value is YAML)")
	cmd.Flags().StringArrayVar(&flags.Deferred, "defer", nil, "Deliver a param late, as name=duration")
	return flags
}

// Data returns the params and injected data the flags describe. Deferred
// params are replaced by futures that complete after their delay.
func (f *DataFlags) Data() (map[string]any, map[string]any, error) {
	params := map[string]any{}
	if f.ParamsFile != "" {
		data, err := os.ReadFile(f.ParamsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read params file %s: %w", f.ParamsFile, err)
		}
		if err := yaml.Unmarshal(data, &params); err != nil {
			return nil, nil, fmt.Errorf("invalid YAML in params file %s: %w", f.ParamsFile, err)
		}
		if params == nil {
			params = map[string]any{}
		}
	}
	if err := parseAssignments(f.Params, params); err != nil {
		return nil, nil, err
	}
	injected := map[string]any{}
	if err := parseAssignments(f.Injected, injected); err != nil {
		return nil, nil, err
	}

	for _, d := range f.Deferred {
		name, raw, ok := strings.Cut(d, "=")
		if !ok {
			return nil, nil, fmt.Errorf("invalid --defer %q, want name=duration", d)
		}
		delay, err := time.ParseDuration(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --defer %q: %w", d, err)
		}
		v, found := params[name]
		if !found {
			return nil, nil, fmt.Errorf("cannot defer %q: no such param", name)
		}
		boxed, err := value.Box(v)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot defer %q: %w", name, err)
		}
		params[name] = renderer.Delayed(boxed, delay)
	}
	return params, injected, nil
}

func parseAssignments(in []string, into map[string]any) error {
	for _, a := range in {
		name, raw, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			return fmt.Errorf("invalid assignment %q, want name=value", a)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return fmt.Errorf("invalid value for %s: %w", name, err)
		}
		if v == nil && raw != "null" && raw != "~" {
			// An empty value is the empty string, not null.
			v = raw
		}
		into[name] = v
	}
	return nil
}

// addFormatFlag adds -f/--format limited to formats.
func addFormatFlag(cmd *cobra.Command, target *string, formats ...string) {
	cmd.Flags().StringVarP(target, "format", "f", formats[0],
		"Output format ("+strings.Join(formats, "|")+")")
	AddFlagValidation(cmd, "format", func(format string) error {
		return ValidateFormat(format, formats)
	})
}

// ValidateFormat rejects formats outside allowed, suggesting a close match.
func ValidateFormat(format string, allowed []string) error {
	for _, a := range allowed {
		if strings.EqualFold(format, a) {
			return nil
		}
	}
	for _, a := range allowed {
		if strings.HasPrefix(a, strings.ToLower(format)) && format != "" {
			return fmt.Errorf("unsupported format %q, did you mean %q?", format, a)
		}
	}
	return fmt.Errorf("unsupported format %q (supported: %s)", format, strings.Join(allowed, ", "))
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}
	flag.Value = &validatingValue{Value: flag.Value, validator: validator}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if err := v.validator(val); err != nil {
		return err
	}
	return v.Value.Set(val)
}
