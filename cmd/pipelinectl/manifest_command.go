package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/construction-pipeline/internal/core/registry"
	"github.com/kirillkom/construction-pipeline/internal/stages"
)

func newManifestCommand(_ *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Inspect module manifests",
	}
	cmd.AddCommand(newManifestValidateCommand())
	cmd.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the built-in manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write(stages.DefaultManifestYAML())
			return err
		},
	})
	return cmd
}

func newManifestValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Load a manifest against the built-in stages and print its tiers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := registry.ReadManifest(args[0])
			if err != nil {
				return err
			}
			reg, err := registry.Load(m, stages.Catalog(stages.Deps{}))
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(reg.Modules()))
			for i, tier := range reg.Tiers() {
				for _, module := range tier {
					d := module.Descriptor
					enabled := "yes"
					if !d.Enabled {
						enabled = "no"
					}
					rows = append(rows, []string{
						fmt.Sprintf("%d", i+1),
						d.Name,
						d.Key(),
						strings.Join(d.DependsOn, ", "),
						enabled,
					})
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Tier", "Module", "Output", "Depends on", "Enabled"},
				rows,
				[]columnAlignment{alignRight},
			))
			fmt.Fprintf(cmd.OutOrStdout(), "manifest ok: %d modules in %d tiers\n", len(reg.Modules()), len(reg.Tiers()))
			return nil
		},
	}
}
