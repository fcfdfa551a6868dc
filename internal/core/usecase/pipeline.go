package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/construction-pipeline/internal/core/aggregate"
	"github.com/kirillkom/construction-pipeline/internal/core/contract"
	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
	"github.com/kirillkom/construction-pipeline/internal/core/projectcache"
	"github.com/kirillkom/construction-pipeline/internal/core/provenance"
	"github.com/kirillkom/construction-pipeline/internal/core/registry"
)

// PipelineUseCase runs the registered stages of one project in tiers and merges their outputs.
type PipelineUseCase struct {
	registry *registry.Registry
	store    *projectcache.Store
	observer ports.PipelineObserver
	logger   *slog.Logger
	failFast bool
	now      func() time.Time
	newRunID func() string
}

type PipelineOption func(*PipelineUseCase)

// WithFailFast overrides the manifest fail_fast flag.
func WithFailFast(failFast bool) PipelineOption {
	return func(uc *PipelineUseCase) { uc.failFast = failFast }
}

func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(uc *PipelineUseCase) { uc.now = now }
}

func WithRunIDs(next func() string) PipelineOption {
	return func(uc *PipelineUseCase) { uc.newRunID = next }
}

func NewPipelineUseCase(
	reg *registry.Registry,
	store *projectcache.Store,
	observer ports.PipelineObserver,
	logger *slog.Logger,
	opts ...PipelineOption,
) *PipelineUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	uc := &PipelineUseCase{
		registry: reg,
		store:    store,
		observer: observer,
		logger:   logger,
		failFast: reg.FailFast(),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// stageRun is the raw result of one entry point invocation before validation.
type stageRun struct {
	module   registry.Module
	output   domain.StageOutput
	err      error
	skipped  bool
	duration time.Duration
}

// Run executes one orchestrator run. Stage problems never surface as an error: they are recorded in
// the returned run record. An error is returned only when the project cannot be leased, loaded or
// persisted.
func (uc *PipelineUseCase) Run(ctx context.Context, req domain.RunRequest) (*domain.Project, *domain.RunRecord, error) {
	if req.ProjectID == "" {
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "run pipeline", errors.New("project id is required"))
	}
	if req.Trigger == "" {
		req.Trigger = domain.TriggerUpload
	}

	release, err := uc.store.Acquire(ctx, req.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	project, err := uc.store.LoadOrCreate(ctx, req.ProjectID)
	if err != nil {
		uc.logger.Error("pipeline_project_load_failed", "project_id", req.ProjectID, "error", err)
		return nil, nil, fmt.Errorf("load project %s: %w", req.ProjectID, err)
	}

	project.AddArtifacts(req.Artifacts)
	batch := req.Artifacts
	if req.Trigger == domain.TriggerRerun {
		batch = append([]domain.Artifact(nil), project.RawArtifacts...)
	}
	project.Status = domain.ProjectProcessing

	run := domain.RunRecord{
		RunID:     uc.newRunID(),
		ProjectID: req.ProjectID,
		Trigger:   req.Trigger,
		StartedAt: uc.now().UTC(),
		Outcomes:  []domain.StageOutcome{},
	}
	uc.logger.Info("pipeline_run_started",
		"project_id", req.ProjectID,
		"run_id", run.RunID,
		"trigger", req.Trigger,
		"artifacts", len(batch),
	)

	aborted := false
	for _, tier := range uc.registry.Tiers() {
		runs := uc.runTier(ctx, project, tier, batch)
		for _, sr := range runs {
			outcome := uc.apply(project, sr)
			run.Outcomes = append(run.Outcomes, outcome)
			uc.logStage(run, outcome, sr.err)
			if uc.observer != nil {
				uc.observer.ObserveStage(outcome.Name, outcome.Status, sr.duration.Seconds())
			}
			if uc.failFast && aborts(outcome.Status) {
				aborted = true
				break
			}
		}
		if aborted {
			break
		}
	}

	// Keys of stages that were never attempted keep their last persisted value.
	for _, key := range uc.registry.OutputKeys() {
		if _, ok := project.StageResults[key]; !ok {
			uc.store.SetNull(project, key)
		}
	}

	run.Status = runStatus(run.Outcomes, aborted)
	run.FinishedAt = uc.now().UTC()
	project.Status = run.Status.ProjectStatus()
	project.UpdatedAt = run.FinishedAt
	project.History = append(project.History, run)

	if err := uc.store.Persist(context.WithoutCancel(ctx), project); err != nil {
		uc.logger.Error("pipeline_persist_failed", "project_id", req.ProjectID, "run_id", run.RunID, "error", err)
		return nil, nil, err
	}

	elapsed := run.FinishedAt.Sub(run.StartedAt)
	if uc.observer != nil {
		uc.observer.ObserveRun(run.Status, elapsed.Seconds())
	}
	uc.logger.Info("pipeline_run_finished",
		"project_id", req.ProjectID,
		"run_id", run.RunID,
		"status", run.Status,
		"project_status", project.Status,
		"duration_ms", elapsed.Milliseconds(),
	)
	record := run
	return project.Clone(), &record, nil
}

// runTier invokes the enabled modules of one tier concurrently and returns their raw results in
// registry order once all of them have finished or timed out.
func (uc *PipelineUseCase) runTier(ctx context.Context, project *domain.Project, tier []registry.Module, batch []domain.Artifact) []stageRun {
	runs := make([]stageRun, len(tier))
	var g errgroup.Group
	g.SetLimit(uc.registry.MaxParallel())

	for i, module := range tier {
		runs[i].module = module
		if !module.Descriptor.Enabled {
			runs[i].skipped = true
			continue
		}
		in := stageInput(project, batch)
		g.Go(func() error {
			started := time.Now()
			out, err := invoke(ctx, module, in)
			runs[i].output = out
			runs[i].err = err
			runs[i].duration = time.Since(started)
			return nil
		})
	}
	_ = g.Wait()
	return runs
}

func stageInput(project *domain.Project, batch []domain.Artifact) domain.StageInput {
	results := make(map[string]*domain.StageResult, len(project.StageResults))
	for k, r := range project.StageResults {
		results[k] = r.Clone()
	}
	index := make(map[string]domain.ProvenanceRecord, len(project.ProvenanceIndex))
	for k, rec := range project.ProvenanceIndex {
		index[k] = rec
	}
	return domain.StageInput{
		ProjectID:    project.ID,
		Results:      results,
		Artifacts:    append([]domain.Artifact(nil), batch...),
		AllArtifacts: append([]domain.Artifact(nil), project.RawArtifacts...),
		Provenance:   index,
	}
}

// invoke runs one entry point bounded by the module timeout. A stage that ignores cancellation is
// abandoned and its late result dropped.
func invoke(ctx context.Context, module registry.Module, in domain.StageInput) (domain.StageOutput, error) {
	stageCtx, cancel := context.WithTimeout(ctx, module.Descriptor.Timeout)
	defer cancel()

	type result struct {
		out domain.StageOutput
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("stage %s panicked: %v", module.Descriptor.Name, r)}
			}
		}()
		out, err := module.Stage.Run(stageCtx, in)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-stageCtx.Done():
		if ctx.Err() != nil {
			return domain.StageOutput{}, fmt.Errorf("run stage %s: %w", module.Descriptor.Name, ctx.Err())
		}
		return domain.StageOutput{}, domain.WrapError(
			domain.ErrStageTimeout,
			"run stage "+module.Descriptor.Name,
			fmt.Errorf("exceeded %s", module.Descriptor.Timeout),
		)
	}
}

// apply validates and merges one stage result and returns its outcome. Any outcome other than ok
// leaves an explicit null under the stage output key.
func (uc *PipelineUseCase) apply(project *domain.Project, sr stageRun) domain.StageOutcome {
	d := sr.module.Descriptor
	outcome := domain.StageOutcome{
		Name:       d.Name,
		DurationMS: float64(sr.duration.Microseconds()) / 1000,
	}
	key := d.Key()

	if sr.skipped {
		outcome.Status = domain.OutcomeSkipped
		uc.store.SetNull(project, key)
		return outcome
	}

	fail := func(err error) domain.StageOutcome {
		outcome.Status = classify(err)
		outcome.ErrorMessage = err.Error()
		uc.store.SetNull(project, key)
		return outcome
	}

	if sr.err != nil {
		return fail(sr.err)
	}
	validated, violation := contract.Validate(d.Name, sr.output, sr.module.Output)
	if violation != nil {
		return fail(violation)
	}
	records, err := provenance.Track(d.Name, validated.Items(), validated.Aggregates(), project.ProvenanceIndex, uc.now())
	if err != nil {
		return fail(err)
	}

	result := uc.store.MergeStageOutput(project, key, validated, records)
	for _, spec := range uc.registry.AggregatesFor(key) {
		result.Aggregates = aggregate.Upsert(result.Aggregates, aggregate.Compute(spec, result))
	}
	outcome.Status = domain.OutcomeOK
	return outcome
}

// classify maps a stage error onto its outcome. Contract and provenance problems, including an
// invalid provider response, degrade the stage. Everything else fails it.
func classify(err error) domain.OutcomeStatus {
	if kind, ok := domain.ProviderKind(err); ok && kind == domain.ProviderInvalidResponse {
		return domain.OutcomeDegraded
	}
	if errors.Is(err, domain.ErrContractViolation) || errors.Is(err, domain.ErrMissingProvenance) {
		return domain.OutcomeDegraded
	}
	return domain.OutcomeFailed
}

// aborts reports whether an outcome stops a fail-fast run. Contract and provenance problems count.
func aborts(status domain.OutcomeStatus) bool {
	return status == domain.OutcomeFailed || status == domain.OutcomeDegraded
}

func runStatus(outcomes []domain.StageOutcome, aborted bool) domain.RunStatus {
	if aborted {
		return domain.RunFailed
	}
	for _, o := range outcomes {
		if o.Status == domain.OutcomeDegraded || o.Status == domain.OutcomeFailed {
			return domain.RunDegraded
		}
	}
	return domain.RunCompleted
}

func (uc *PipelineUseCase) logStage(run domain.RunRecord, outcome domain.StageOutcome, err error) {
	attrs := []any{
		"project_id", run.ProjectID,
		"run_id", run.RunID,
		"stage", outcome.Name,
		"status", outcome.Status,
		"duration_ms", outcome.DurationMS,
	}
	switch outcome.Status {
	case domain.OutcomeOK, domain.OutcomeSkipped:
		uc.logger.Info("stage_completed", attrs...)
	default:
		if err == nil {
			err = errors.New(outcome.ErrorMessage)
		}
		uc.logger.Warn("stage_completed", append(attrs, "error", err)...)
	}
}
