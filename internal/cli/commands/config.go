package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alvesdmateus/shipper/internal/builder"
	"github.com/alvesdmateus/shipper/internal/resolver"
)

// shownValue is one row of `config show`
type shownValue struct {
	Key    string `yaml:"key"`
	Value  string `yaml:"value"`
	Source string `yaml:"source"`
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect resolved configuration",
	}
	cmd.AddCommand(newConfigShowCmd(a))
	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	var (
		deploy  deployFlags
		runtime runtimeFlags
		showRT  bool
		changed bool
		output  string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show every configuration key with its resolved value and source",
		Long: `Show every configuration key with its resolved value and the tier it
came from (default, file, env, override). Secret values are masked.
With --runtime the service's runtime namespace is shown instead of the
deployment namespace. With --changed keys still at their built-in default
are left out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var values []resolver.Value

			if showRT {
				snap, err := a.runtimeSnapshot(runtime.overrides(cmd))
				if err != nil {
					return err
				}
				defaults := resolver.RuntimeDefaults()
				if _, err := resolver.LoadRuntimeConfig(snap, defaults); err != nil {
					return err
				}
				values = snap.Explain(resolver.RuntimeKeys, defaults)
			} else {
				snap, defaults, err := a.deploySnapshot(deploy.overrides(cmd))
				if err != nil {
					return err
				}
				values = snap.Explain(resolver.DeployKeys, defaults)
			}

			if changed {
				values = setValues(values)
			}
			return writeValues(cmd.OutOrStdout(), output, maskValues(values))
		},
	}

	deploy.register(cmd, true)
	runtime.register(cmd)
	cmd.Flags().BoolVar(&showRT, "runtime", false, "show the runtime namespace of the service")
	cmd.Flags().BoolVar(&changed, "changed", false, "show only keys set by a file, the environment or a flag")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table or yaml")

	return cmd
}

// setValues drops keys that resolved to their built-in default
func setValues(values []resolver.Value) []resolver.Value {
	var out []resolver.Value
	for _, v := range values {
		if v.IsSet() {
			out = append(out, v)
		}
	}
	return out
}

func maskValues(values []resolver.Value) []shownValue {
	out := make([]shownValue, 0, len(values))
	for _, v := range values {
		value := v.Value
		if value != "" && builder.IsSecretKey(v.Key) {
			value = builder.RedactedValue
		}
		if v.Key == resolver.KeyBuildArgs {
			value = resolver.FormatBuildArgs(builder.RedactMap(resolver.ParseBuildArgs(value)))
		}
		out = append(out, shownValue{Key: v.Key, Value: value, Source: v.Tier.String()})
	}
	return out
}

func writeValues(w io.Writer, format string, values []shownValue) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(values); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE")
		for _, v := range values {
			value := v.Value
			if value == "" {
				value = `""`
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Key, value, v.Source)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q, use table or yaml", format)
	}
}
