package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/construction-pipeline/internal/bootstrap"
	"github.com/kirillkom/construction-pipeline/internal/config"
	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/observability/logging"
	"github.com/kirillkom/construction-pipeline/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics("worker", registry)

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:   logger,
		Observer: pipelineMetrics,
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject, "metrics_port", cfg.WorkerMetricsPort)
	err = app.Queue.SubscribeUploadBatches(ctx, func(handlerCtx context.Context, batch domain.UploadBatch) error {
		pipelineMetrics.StartBatch()
		defer pipelineMetrics.FinishBatch()
		pipelineMetrics.ObserveQueueLag(queueLag(batch, time.Now()))

		runCtx, cancel := context.WithTimeout(handlerCtx, cfg.RunTimeout)
		defer cancel()
		project, run, err := app.PipelineUC.Run(runCtx, domain.RunRequest{
			ProjectID: batch.ProjectID,
			Artifacts: batch.Artifacts,
			Trigger:   domain.TriggerUpload,
		})
		if err != nil {
			return err
		}
		logger.Info("upload_batch_processed",
			"project_id", project.ID,
			"run_id", run.RunID,
			"run_status", run.Status,
			"project_status", project.Status,
		)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}

// queueLag is the time since the oldest artifact of the batch was uploaded.
func queueLag(batch domain.UploadBatch, now time.Time) time.Duration {
	var oldest time.Time
	for _, artifact := range batch.Artifacts {
		if oldest.IsZero() || artifact.UploadedAt.Before(oldest) {
			oldest = artifact.UploadedAt
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return now.Sub(oldest)
}
