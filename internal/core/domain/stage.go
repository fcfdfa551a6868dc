package domain

import (
	"sort"
)

// StageInput is what an entry point receives: a read-only copy of the accumulated stage results
// plus the artifacts of the current batch.
type StageInput struct {
	ProjectID    string
	Results      map[string]*StageResult
	Artifacts    []Artifact
	AllArtifacts []Artifact
	Provenance   map[string]ProvenanceRecord
}

// Result returns the output stored under key. A missing key and an explicit null both read as nil.
func (in StageInput) Result(key string) *StageResult {
	if in.Results == nil {
		return nil
	}
	return in.Results[key]
}

// SourceOf rebuilds a source reference from the recorded provenance of itemID, so derived items
// can point at the location of the fact they were derived from.
func (in StageInput) SourceOf(itemID string, confidence float64) (*SourceRef, bool) {
	rec, ok := in.Provenance[itemID]
	if !ok {
		return nil, false
	}
	if confidence <= 0 || confidence > rec.Confidence {
		confidence = rec.Confidence
	}
	return &SourceRef{
		Path:        rec.SourcePath,
		SheetOrPage: rec.SheetOrPage,
		Offset:      rec.Offset,
		OffsetKind:  rec.OffsetKind,
		Confidence:  confidence,
	}, true
}

// StageOutput is the candidate output of an entry point before contract validation.
type StageOutput struct {
	Items      []Item
	Aggregates []Aggregate
}

// UploadBatch is the unit handed from ingest to the orchestrator.
type UploadBatch struct {
	ProjectID string     `json:"project_id"`
	Artifacts []Artifact `json:"artifacts"`
}

// RunRequest starts one orchestrator run.
type RunRequest struct {
	ProjectID string
	Artifacts []Artifact
	Trigger   RunTrigger
}

// SortItems orders items by id for deterministic storage.
func SortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}
