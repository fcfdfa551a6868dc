package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kirillkom/construction-pipeline/internal/config"
	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
	"github.com/kirillkom/construction-pipeline/internal/core/projectcache"
	"github.com/kirillkom/construction-pipeline/internal/core/registry"
	"github.com/kirillkom/construction-pipeline/internal/core/usecase"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/chunking"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/parser/pdf"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/parser/plaintext"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/parser/xlsx"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/parser/xmlest"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/queue/nats"
	snapshotfs "github.com/kirillkom/construction-pipeline/internal/infrastructure/repository/localfs"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/construction-pipeline/internal/stages"
)

type Options struct {
	Logger   *slog.Logger
	Observer ports.PipelineObserver
	// SkipQueue builds the application without a NATS connection. Uploads are stored only.
	SkipQueue bool
	// Disabled turns manifest modules off for this process.
	Disabled []string
}

type App struct {
	Config   config.Config
	Registry *registry.Registry

	Queue      *nats.Queue
	Store      *projectcache.Store
	IngestUC   *usecase.IngestArtifactsUseCase
	PipelineUC *usecase.PipelineUseCase
	QueryUC    *usecase.ProjectQueryUseCase
	Modules    *usecase.InteractiveService

	closeFn func()
}

// LoadManifest reads PIPELINE_MANIFEST or falls back to the embedded manifest.
func LoadManifest(cfg config.Config) (registry.Manifest, error) {
	var (
		m   registry.Manifest
		err error
	)
	if cfg.PipelineManifest != "" {
		m, err = registry.ReadManifest(cfg.PipelineManifest)
	} else {
		m, err = stages.DefaultManifest()
	}
	if err != nil {
		return registry.Manifest{}, err
	}
	if cfg.PipelineMaxParallel > 0 {
		m.MaxParallel = cfg.PipelineMaxParallel
	}
	return m, nil
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	manifest, err := LoadManifest(cfg)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	for _, name := range opts.Disabled {
		if !manifest.SetEnabled(name, false) {
			return nil, &domain.RegistryError{Module: name, Reason: "cannot disable unknown module"}
		}
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    cfg.RetryMaxAttempts,
		RetryInitialBackoff: cfg.RetryInitialBackoff,
		RetryMaxBackoff:     cfg.RetryMaxBackoff,
		BreakerEnabled:      cfg.BreakerEnabled,
		BreakerOpenTimeout:  cfg.BreakerOpenTimeout,
	}, logger)

	reasoner := ollama.New(ollama.Options{
		BaseURL:    cfg.OllamaURL,
		GenModel:   cfg.OllamaGenModel,
		Timeout:    cfg.OllamaTimeout,
		RatePerSec: cfg.OllamaRatePerSec,
		Burst:      cfg.OllamaBurst,
		Executor:   executor,
	})

	splitter := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	parsers := map[domain.ArtifactFormat]ports.Parser{
		domain.FormatXLSX: xlsx.NewParser(),
		domain.FormatPDF:  pdf.NewParser(splitter),
		domain.FormatXML:  xmlest.NewParser(),
		domain.FormatCSV:  plaintext.NewCSVParser(),
		domain.FormatText: plaintext.NewTextParser(splitter),
	}

	reg, err := registry.Load(manifest, stages.Catalog(stages.Deps{
		Storage:  storage,
		Parsers:  parsers,
		Reasoner: reasoner,
		Currency: cfg.Currency,
		Logger:   logger,
	}))
	if err != nil {
		return nil, err
	}

	backend, locker, db, err := openSnapshots(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := projectcache.New(backend, projectcache.WithLocker(locker), projectcache.WithLogger(logger))

	var (
		queue    *nats.Queue
		outbound ports.MessageQueue
	)
	if !opts.SkipQueue {
		queue, err = nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			closeDB(db)
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		outbound = queue
	}

	var pipelineOpts []usecase.PipelineOption
	if cfg.PipelineFailFast != nil {
		pipelineOpts = append(pipelineOpts, usecase.WithFailFast(*cfg.PipelineFailFast))
	}

	return &App{
		Config:   cfg,
		Registry: reg,
		Queue:    queue,
		Store:    store,

		IngestUC:   usecase.NewIngestArtifactsUseCase(storage, outbound, cfg.UploadMaxBytes),
		PipelineUC: usecase.NewPipelineUseCase(reg, store, opts.Observer, logger, pipelineOpts...),
		QueryUC:    usecase.NewProjectQueryUseCase(store),
		Modules:    usecase.NewInteractiveService(store, reg.Aggregates(), reasoner),

		closeFn: func() {
			if queue != nil {
				queue.Close()
			}
			closeDB(db)
		},
	}, nil
}

// openSnapshots picks the snapshot backend. Both backends also provide the cross-process lock.
func openSnapshots(ctx context.Context, cfg config.Config) (ports.SnapshotStore, ports.ProjectLocker, *sql.DB, error) {
	switch cfg.CacheBackend {
	case config.CacheBackendLocalFS, "":
		fs, err := snapshotfs.NewSnapshotStore(cfg.CachePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init snapshot store: %w", err)
		}
		return fs, fs, nil, nil
	case config.CacheBackendPostgres:
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		repo := postgres.NewSnapshotRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repo, repo, db, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

func closeDB(db *sql.DB) {
	if db != nil {
		_ = db.Close()
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
