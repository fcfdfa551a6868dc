package ports

import (
	"context"
	"encoding/json"
	"io"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
)

// ObjectStorage stores raw uploaded artifacts.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue hands upload batches from the API to the worker.
type MessageQueue interface {
	PublishUploadBatch(ctx context.Context, batch domain.UploadBatch) error
	SubscribeUploadBatches(ctx context.Context, handler func(context.Context, domain.UploadBatch) error) error
}

// SnapshotStore persists one serialized project document per project id.
// Load returns domain.ErrProjectNotFound when nothing is stored. Save must be atomic.
type SnapshotStore interface {
	Load(ctx context.Context, projectID string) ([]byte, error)
	Save(ctx context.Context, projectID string, data []byte) error
}

// ProjectLocker provides cross-process exclusion for one project id.
type ProjectLocker interface {
	Lock(ctx context.Context, projectID string) (unlock func() error, err error)
}

// ParseInput is the raw content of one stored artifact.
type ParseInput struct {
	Artifact domain.Artifact
	Data     []byte
}

// ParseIssue is a recoverable per-location parse problem.
type ParseIssue struct {
	Locator string `json:"locator"`
	Message string `json:"message"`
}

type ParseResult struct {
	Items  []domain.Item
	Issues []ParseIssue
}

// Parser extracts located items from one artifact format.
type Parser interface {
	Parse(ctx context.Context, in ParseInput) (ParseResult, error)
}

// ReasoningRequest is an opaque prompt plus structured context for the reasoning provider.
type ReasoningRequest struct {
	Operation string
	Prompt    string
	Context   any
}

// ReasoningProvider returns a structured JSON result or a *domain.ProviderError.
type ReasoningProvider interface {
	Reason(ctx context.Context, req ReasoningRequest) (json.RawMessage, error)
}

// Stage is the statically typed entry point of one pipeline module.
type Stage interface {
	Run(ctx context.Context, in domain.StageInput) (domain.StageOutput, error)
}

// StageFunc adapts a function to Stage.
type StageFunc func(ctx context.Context, in domain.StageInput) (domain.StageOutput, error)

func (f StageFunc) Run(ctx context.Context, in domain.StageInput) (domain.StageOutput, error) {
	return f(ctx, in)
}

// PipelineObserver receives per-stage and per-run events, typically metrics.
type PipelineObserver interface {
	ObserveStage(stage string, status domain.OutcomeStatus, durationSeconds float64)
	ObserveRun(status domain.RunStatus, durationSeconds float64)
}
