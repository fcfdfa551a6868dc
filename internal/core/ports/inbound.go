package ports

import (
	"context"
	"io"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
)

// UploadFile is one multipart file of an upload batch.
type UploadFile struct {
	Filename  string
	MediaType string
	Body      io.Reader
}

// ArtifactIngestor is the inbound contract for upload orchestration.
type ArtifactIngestor interface {
	Upload(ctx context.Context, projectID string, files []UploadFile) (*domain.UploadBatch, error)
}

// PipelineRunner runs the registered stages against one project.
type PipelineRunner interface {
	Run(ctx context.Context, req domain.RunRequest) (*domain.Project, *domain.RunRecord, error)
}

// ProjectReader is the inbound read model over persisted projects.
type ProjectReader interface {
	View(ctx context.Context, projectID string, scope []string) (*domain.ProjectView, error)
	History(ctx context.Context, projectID string) ([]domain.RunRecord, error)
	Provenance(ctx context.Context, projectID, itemID string) (domain.ProvenanceRecord, error)
	ProvenanceVersions(ctx context.Context, projectID, itemID string) ([]domain.ProvenanceRecord, error)
}

// InteractiveModules serves on-demand modules (summary, resource sheet, tech card) from snapshots.
type InteractiveModules interface {
	Render(ctx context.Context, projectID, module string, params map[string]string) (any, error)
}
