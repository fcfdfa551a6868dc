package usecase

import (
	"context"
	"errors"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/projectcache"
	"github.com/kirillkom/construction-pipeline/internal/core/provenance"
)

// ProjectQueryUseCase serves read-only views of persisted projects. It never takes the run lease.
type ProjectQueryUseCase struct {
	store *projectcache.Store
}

func NewProjectQueryUseCase(store *projectcache.Store) *ProjectQueryUseCase {
	return &ProjectQueryUseCase{store: store}
}

func (uc *ProjectQueryUseCase) View(ctx context.Context, projectID string, scope []string) (*domain.ProjectView, error) {
	if projectID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "view project", errors.New("project id is required"))
	}
	return uc.store.Snapshot(ctx, projectID, scope)
}

func (uc *ProjectQueryUseCase) History(ctx context.Context, projectID string) ([]domain.RunRecord, error) {
	project, err := uc.store.Project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return project.History, nil
}

func (uc *ProjectQueryUseCase) Provenance(ctx context.Context, projectID, itemID string) (domain.ProvenanceRecord, error) {
	if itemID == "" {
		return domain.ProvenanceRecord{}, domain.WrapError(domain.ErrInvalidInput, "resolve provenance", errors.New("item id is required"))
	}
	project, err := uc.store.Project(ctx, projectID)
	if err != nil {
		return domain.ProvenanceRecord{}, err
	}
	return provenance.Resolve(project, itemID)
}

// ProvenanceVersions lists every record the item has had, oldest first.
func (uc *ProjectQueryUseCase) ProvenanceVersions(ctx context.Context, projectID, itemID string) ([]domain.ProvenanceRecord, error) {
	if _, err := uc.Provenance(ctx, projectID, itemID); err != nil {
		return nil, err
	}
	project, err := uc.store.Project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return provenance.Versions(project, itemID), nil
}
