package provenance

import (
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
)

func sourcedItem(id string, qty float64) domain.Item {
	return domain.Item{
		ID:     id,
		Kind:   "position",
		Fields: map[string]domain.Value{"quantity": domain.Quantity(qty, "m3")},
		Source: &domain.SourceRef{Path: "estimate.xlsx", SheetOrPage: "Sheet1", Offset: 7, OffsetKind: "row", Confidence: 1},
	}
}

func TestContentHashIgnoresSource(t *testing.T) {
	a := sourcedItem("p1", 3)
	b := sourcedItem("p1", 3)
	b.Source = &domain.SourceRef{Path: "other.xlsx", Confidence: 0.2}

	ha, err := ContentHash(a)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	hb, _ := ContentHash(b)
	if ha != hb {
		t.Fatalf("expected source to be excluded from hash")
	}
	hc, _ := ContentHash(sourcedItem("p1", 4))
	if ha == hc {
		t.Fatal("expected changed quantity to change hash")
	}
}

func TestTrackRejectsItemsWithoutSource(t *testing.T) {
	good := sourcedItem("p1", 1)
	noSource := sourcedItem("p2", 1)
	noSource.Source = nil
	badConfidence := sourcedItem("p3", 1)
	badConfidence.Source.Confidence = 1.5

	_, err := Track("positions", []domain.Item{good, noSource, badConfidence}, nil, nil, time.Now())
	var mp *domain.MissingProvenanceError
	if !errors.As(err, &mp) {
		t.Fatalf("expected MissingProvenanceError, got %v", err)
	}
	if len(mp.ItemIDs) != 2 || mp.ItemIDs[0] != "p2" || mp.ItemIDs[1] != "p3" {
		t.Fatalf("unexpected missing items %v", mp.ItemIDs)
	}
	if !errors.Is(err, domain.ErrMissingProvenance) {
		t.Fatal("expected ErrMissingProvenance kind")
	}
}

func TestTrackChecksAggregateConstituents(t *testing.T) {
	items := []domain.Item{sourcedItem("p1", 1)}
	index := map[string]domain.ProvenanceRecord{"old": {ItemID: "old"}}

	ok := []domain.Aggregate{{ID: "agg:total", Constituents: []string{"p1", "old"}}}
	if _, err := Track("positions", items, ok, index, time.Now()); err != nil {
		t.Fatalf("expected resolvable constituents, got %v", err)
	}

	bad := []domain.Aggregate{{ID: "agg:total", Constituents: []string{"ghost"}}}
	if _, err := Track("positions", items, bad, index, time.Now()); !errors.Is(err, domain.ErrMissingProvenance) {
		t.Fatalf("expected missing provenance for dangling constituent, got %v", err)
	}
}

func TestApplyVersionsChangedContent(t *testing.T) {
	index := map[string]domain.ProvenanceRecord{}
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	first, _ := Attach("positions", sourcedItem("p1", 1), sourcedItem("p1", 1).Source, t0)
	if rec := Apply(index, first); rec.Version != 1 {
		t.Fatalf("expected version 1, got %d", rec.Version)
	}

	same, _ := Attach("positions", sourcedItem("p1", 1), sourcedItem("p1", 1).Source, t0.Add(time.Hour))
	rec := Apply(index, same)
	if rec.Version != 1 || !rec.ExtractedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("expected refreshed extracted_at at version 1, got %+v", rec)
	}
	if len(index) != 1 {
		t.Fatalf("expected no archived version, got %d records", len(index))
	}

	changed, _ := Attach("positions", sourcedItem("p1", 2), sourcedItem("p1", 2).Source, t0.Add(2*time.Hour))
	rec = Apply(index, changed)
	if rec.Version != 2 {
		t.Fatalf("expected version 2, got %d", rec.Version)
	}
	archived, ok := index["p1@v1"]
	if !ok || archived.ContentHash != first.ContentHash {
		t.Fatalf("expected archived v1 record, got %+v", archived)
	}

	p := domain.NewProject("x", t0)
	p.ProvenanceIndex = index
	versions := Versions(p, "p1")
	if len(versions) != 2 || versions[0].Version != 1 || versions[1].Version != 2 {
		t.Fatalf("unexpected versions %+v", versions)
	}
}

func TestResolveAndUnattributed(t *testing.T) {
	p := domain.NewProject("x", time.Now())
	item := sourcedItem("p1", 1)
	item.Source = nil
	p.StageResults["positions"] = &domain.StageResult{Stage: "positions", Items: []domain.Item{item}}
	p.StageResults["plan"] = nil

	if _, err := Resolve(p, "p1"); !errors.Is(err, domain.ErrMissingProvenance) {
		t.Fatalf("expected missing provenance, got %v", err)
	}
	if ids := Unattributed(p); len(ids) != 1 || ids[0] != "p1" {
		t.Fatalf("unexpected unattributed ids %v", ids)
	}

	p.ProvenanceIndex["p1"] = domain.ProvenanceRecord{ItemID: "p1", Version: 1}
	if _, err := Resolve(p, "p1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ids := Unattributed(p); len(ids) != 0 {
		t.Fatalf("expected complete provenance, got %v", ids)
	}
}
