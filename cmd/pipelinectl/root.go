package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	ctx := newCommandContext(flags)

	rootCmd := &cobra.Command{
		Use:           "pipelinectl",
		Short:         "Run and inspect construction document pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.manifest, "manifest", "", "Module manifest file (defaults to PIPELINE_MANIFEST or the built-in manifest)")
	rootCmd.PersistentFlags().StringVar(&flags.cachePath, "cache-path", "", "Project snapshot directory (defaults to CACHE_PATH)")
	rootCmd.PersistentFlags().StringVar(&flags.storagePath, "storage-path", "", "Artifact storage directory (defaults to STORAGE_PATH)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "Log level written to stderr")
	rootCmd.PersistentFlags().BoolVar(&flags.json, "json", false, "Print JSON instead of tables")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newShowCommand(ctx))
	rootCmd.AddCommand(newProvenanceCommand(ctx))
	rootCmd.AddCommand(newManifestCommand(ctx))

	return rootCmd
}
