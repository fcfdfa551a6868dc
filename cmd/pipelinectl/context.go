package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kirillkom/construction-pipeline/internal/bootstrap"
	"github.com/kirillkom/construction-pipeline/internal/config"
	"github.com/kirillkom/construction-pipeline/internal/observability/logging"
)

type globalFlags struct {
	manifest    string
	cachePath   string
	storagePath string
	logLevel    string
	json        bool
}

type commandContext struct {
	flags *globalFlags
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

// config reads the environment and applies flag overrides.
func (c *commandContext) config() config.Config {
	cfg := config.Load()
	if c.flags.manifest != "" {
		cfg.PipelineManifest = c.flags.manifest
	}
	if c.flags.cachePath != "" {
		cfg.CacheBackend = config.CacheBackendLocalFS
		cfg.CachePath = c.flags.cachePath
	}
	if c.flags.storagePath != "" {
		cfg.StoragePath = c.flags.storagePath
	}
	return cfg
}

func (c *commandContext) logger(cmd *cobra.Command) *slog.Logger {
	return logging.NewTextLogger(cmd.ErrOrStderr(), c.flags.logLevel)
}

// openApp builds the pipeline in-process. The CLI never talks to NATS.
func (c *commandContext) openApp(ctx context.Context, cmd *cobra.Command, disabled []string) (*bootstrap.App, error) {
	return bootstrap.New(ctx, c.config(), bootstrap.Options{
		Logger:    c.logger(cmd),
		SkipQueue: true,
		Disabled:  disabled,
	})
}
