package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/projectcache"
)

func seededQuery(t *testing.T) *ProjectQueryUseCase {
	t.Helper()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p := domain.NewProject("p1", now)
	p.StageResults[positionsKey] = &domain.StageResult{
		Stage:      positionsKey,
		Items:      []domain.Item{position("pos:1", "m3", 10, nil)},
		ProducedAt: now,
	}
	p.ProvenanceIndex["pos:1@v1"] = domain.ProvenanceRecord{ItemID: "pos:1", Stage: positionsKey, SourcePath: "p1/old.xlsx", Version: 1}
	p.ProvenanceIndex["pos:1"] = domain.ProvenanceRecord{ItemID: "pos:1", Stage: positionsKey, SourcePath: "p1/new.xlsx", Version: 2}
	p.History = []domain.RunRecord{{RunID: "r1", ProjectID: "p1", Status: domain.RunCompleted}}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal project: %v", err)
	}
	backend := newMemorySnapshots()
	backend.docs["p1"] = data
	return NewProjectQueryUseCase(projectcache.New(backend, projectcache.WithLogger(quietLogger())))
}

func TestProjectQueryProvenance(t *testing.T) {
	uc := seededQuery(t)
	ctx := context.Background()

	rec, err := uc.Provenance(ctx, "p1", "pos:1")
	if err != nil {
		t.Fatalf("Provenance() error = %v", err)
	}
	if rec.Version != 2 || rec.SourcePath != "p1/new.xlsx" {
		t.Fatalf("expected current record, got %+v", rec)
	}

	versions, err := uc.ProvenanceVersions(ctx, "p1", "pos:1")
	if err != nil {
		t.Fatalf("ProvenanceVersions() error = %v", err)
	}
	if len(versions) != 2 || versions[0].Version != 1 || versions[1].Version != 2 {
		t.Fatalf("expected versions oldest first, got %+v", versions)
	}

	if _, err := uc.ProvenanceVersions(ctx, "p1", "pos:9"); !errors.Is(err, domain.ErrMissingProvenance) {
		t.Fatalf("expected ErrMissingProvenance, got %v", err)
	}
	if _, err := uc.Provenance(ctx, "p1", ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestProjectQueryHistoryAndMissingProject(t *testing.T) {
	uc := seededQuery(t)
	ctx := context.Background()

	history, err := uc.History(ctx, "p1")
	if err != nil || len(history) != 1 || history[0].RunID != "r1" {
		t.Fatalf("unexpected history %+v, err %v", history, err)
	}
	if _, err := uc.History(ctx, "nobody"); !errors.Is(err, domain.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}
