package main

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/tendril/internal/presentation/graph"
	"github.com/aretw0/tendril/internal/presentation/tui"
	"github.com/aretw0/tendril/pkg/capability"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var capabilitiesCmd = &cobra.Command{
	Use:     "capabilities",
	Aliases: []string{"caps"},
	Short:   "Print the capability map",
	Long:    `Prints which output types every feature accepts, with its route and default transfer action.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		caps := capability.Default()
		routes, err := capability.DefaultRoutes().WithOverrides(cfg.Routes)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		switch format {
		case "markdown", "md":
			markdown := tui.CapabilityMarkdown(caps, routes)
			render, err := tui.NewRenderer()
			if err != nil {
				fmt.Fprint(out, markdown)
				return nil
			}
			rendered, err := render(markdown)
			if err != nil {
				fmt.Fprint(out, markdown)
				return nil
			}
			fmt.Fprint(out, rendered)
		case "yaml":
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(capability.Rows(caps, routes)); err != nil {
				return err
			}
			return enc.Close()
		case "mermaid":
			fmt.Fprint(out, graph.GenerateMermaid(caps, routes, nil))
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(capability.Rows(caps, routes))
		default:
			return fmt.Errorf("unknown format %q (use markdown, yaml, json or mermaid)", format)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(capabilitiesCmd)
	capabilitiesCmd.Flags().StringP("format", "f", "markdown", "Output format: markdown, yaml, json or mermaid")
}
