package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
)

// PipelineMetrics records stage outcomes and run results of the orchestrator.
type PipelineMetrics struct {
	service string

	stageTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	runTotal      *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	batchInFlight prometheus.Gauge
	batchQueueLag prometheus.Histogram
}

var _ ports.PipelineObserver = (*PipelineMetrics)(nil)

func NewPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	stageTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cpl",
			Subsystem: "pipeline",
			Name:      "stage_outcomes_total",
			Help:      "Total stage outcomes by stage and status.",
		},
		[]string{"service", "stage", "status"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cpl",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Stage entry point duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 180},
		},
		[]string{"service", "stage"},
	)
	runTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cpl",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total pipeline runs by status.",
		},
		[]string{"service", "status"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cpl",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Pipeline run duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	batchInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cpl",
			Subsystem: "worker",
			Name:      "batches_in_flight",
			Help:      "Number of upload batches being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	batchQueueLag := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cpl",
			Subsystem: "worker",
			Name:      "batch_queue_lag_seconds",
			Help:      "Delay between artifact upload and pipeline start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registerer.MustRegister(stageTotal, stageDuration, runTotal, runDuration, batchInFlight, batchQueueLag)

	return &PipelineMetrics{
		service:       service,
		stageTotal:    stageTotal,
		stageDuration: stageDuration,
		runTotal:      runTotal,
		runDuration:   runDuration,
		batchInFlight: batchInFlight,
		batchQueueLag: batchQueueLag,
	}
}

func (m *PipelineMetrics) ObserveStage(stage string, status domain.OutcomeStatus, durationSeconds float64) {
	m.stageTotal.WithLabelValues(m.service, stage, string(status)).Inc()
	if status != domain.OutcomeSkipped {
		m.stageDuration.WithLabelValues(m.service, stage).Observe(durationSeconds)
	}
}

func (m *PipelineMetrics) ObserveRun(status domain.RunStatus, durationSeconds float64) {
	m.runTotal.WithLabelValues(m.service, string(status)).Inc()
	m.runDuration.WithLabelValues(m.service, string(status)).Observe(durationSeconds)
}

func (m *PipelineMetrics) StartBatch() {
	m.batchInFlight.Inc()
}

func (m *PipelineMetrics) FinishBatch() {
	m.batchInFlight.Dec()
}

// ObserveQueueLag records the time since the oldest artifact of a batch was uploaded.
func (m *PipelineMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.batchQueueLag.Observe(lag.Seconds())
}
