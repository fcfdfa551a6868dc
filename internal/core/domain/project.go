package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"
)

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateProjectID checks that id is usable as a storage key segment and a file name.
func ValidateProjectID(id string) error {
	if !projectIDPattern.MatchString(id) {
		return fmt.Errorf("invalid project id %q", id)
	}
	return nil
}

type ProjectStatus string

const (
	ProjectCreated    ProjectStatus = "created"
	ProjectProcessing ProjectStatus = "processing"
	ProjectReady      ProjectStatus = "ready"
	ProjectPartial    ProjectStatus = "partial"
	ProjectFailed     ProjectStatus = "failed"
)

// Project is the per-analysis aggregate state keyed by project id.
// A nil StageResults entry is an explicit null: the stage was disabled, failed or degraded.
type Project struct {
	ID              string                      `json:"project_id"`
	Status          ProjectStatus               `json:"status"`
	CreatedAt       time.Time                   `json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
	RawArtifacts    []Artifact                  `json:"raw_artifacts"`
	StageResults    map[string]*StageResult     `json:"stage_results"`
	ProvenanceIndex map[string]ProvenanceRecord `json:"provenance_index"`
	History         []RunRecord                 `json:"history"`

	// unknown top-level fields of a persisted document, written back verbatim.
	extra map[string]json.RawMessage
}

func NewProject(id string, now time.Time) *Project {
	return &Project{
		ID:              id,
		Status:          ProjectCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
		RawArtifacts:    []Artifact{},
		StageResults:    map[string]*StageResult{},
		ProvenanceIndex: map[string]ProvenanceRecord{},
		History:         []RunRecord{},
	}
}

// AddArtifacts appends artifacts whose content hash is not yet known and returns the added ones.
func (p *Project) AddArtifacts(artifacts []Artifact) []Artifact {
	known := make(map[string]struct{}, len(p.RawArtifacts))
	for _, a := range p.RawArtifacts {
		known[a.ContentHash] = struct{}{}
	}
	added := make([]Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		if _, ok := known[a.ContentHash]; ok {
			continue
		}
		known[a.ContentHash] = struct{}{}
		p.RawArtifacts = append(p.RawArtifacts, a)
		added = append(added, a)
	}
	return added
}

// StageKeys returns the stage_results keys in sorted order.
func (p *Project) StageKeys() []string {
	keys := make([]string, 0, len(p.StageResults))
	for k := range p.StageResults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LastRun returns the most recent run record.
func (p *Project) LastRun() (RunRecord, bool) {
	if len(p.History) == 0 {
		return RunRecord{}, false
	}
	return p.History[len(p.History)-1], true
}

// Clone returns a deep copy that shares no mutable state with p.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	out := &Project{
		ID:              p.ID,
		Status:          p.Status,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
		RawArtifacts:    append([]Artifact{}, p.RawArtifacts...),
		StageResults:    make(map[string]*StageResult, len(p.StageResults)),
		ProvenanceIndex: make(map[string]ProvenanceRecord, len(p.ProvenanceIndex)),
		History:         make([]RunRecord, 0, len(p.History)),
	}
	for k, r := range p.StageResults {
		out.StageResults[k] = r.Clone()
	}
	for k, rec := range p.ProvenanceIndex {
		out.ProvenanceIndex[k] = rec
	}
	for _, run := range p.History {
		out.History = append(out.History, run.clone())
	}
	if p.extra != nil {
		out.extra = make(map[string]json.RawMessage, len(p.extra))
		for k, v := range p.extra {
			out.extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

type projectAlias Project

var projectFields = map[string]struct{}{
	"project_id": {}, "status": {}, "created_at": {}, "updated_at": {},
	"raw_artifacts": {}, "stage_results": {}, "provenance_index": {}, "history": {},
}

func (p Project) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(projectAlias(p))
	if err != nil {
		return nil, err
	}
	if len(p.extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(p.extra)+len(projectFields))
	for k, v := range p.extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (p *Project) UnmarshalJSON(data []byte) error {
	var alias projectAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Project(alias)
	for k, v := range raw {
		if _, ok := projectFields[k]; ok {
			continue
		}
		if p.extra == nil {
			p.extra = make(map[string]json.RawMessage)
		}
		p.extra[k] = v
	}
	p.normalize()
	return nil
}

func (p *Project) normalize() {
	if p.RawArtifacts == nil {
		p.RawArtifacts = []Artifact{}
	}
	if p.StageResults == nil {
		p.StageResults = map[string]*StageResult{}
	}
	if p.ProvenanceIndex == nil {
		p.ProvenanceIndex = map[string]ProvenanceRecord{}
	}
	if p.History == nil {
		p.History = []RunRecord{}
	}
}

// Validate checks the structural invariants a decoded snapshot must satisfy.
func (p *Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("project_id is empty")
	}
	switch p.Status {
	case ProjectCreated, ProjectProcessing, ProjectReady, ProjectPartial, ProjectFailed:
	default:
		return fmt.Errorf("unknown status %q", p.Status)
	}
	return nil
}

// ProjectView is a read-only point-in-time projection used by on-demand modules.
type ProjectView struct {
	ProjectID    string                      `json:"project_id"`
	Status       ProjectStatus               `json:"status"`
	UpdatedAt    time.Time                   `json:"updated_at"`
	Scope        []string                    `json:"scope,omitempty"`
	Artifacts    []Artifact                  `json:"artifacts"`
	StageResults map[string]*StageResult     `json:"stage_results"`
	Provenance   map[string]ProvenanceRecord `json:"provenance"`
	LastRun      *RunRecord                  `json:"last_run,omitempty"`
}
