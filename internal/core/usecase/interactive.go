package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/construction-pipeline/internal/core/aggregate"
	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
	"github.com/kirillkom/construction-pipeline/internal/core/projectcache"
)

// On-demand module names.
const (
	ModuleSummary       = "summary"
	ModuleResourceSheet = "resource_sheet"
	ModuleTechCard      = "tech_card"
)

const (
	positionsKey    = "positions"
	specsKey        = "specs"
	kindPosition    = "position"
	kindRequirement = "requirement"
	maxCardContext  = 50
)

const techCardPrompt = `You write a construction technological card for one estimate position.
Use the position, its source and the listed requirements. Answer with
{"title": string, "steps": [string], "materials": [string], "quality_checks": [string], "norms": [string]}.`

// InteractiveService renders on-demand views from persisted snapshots. It never takes the run
// lease, so it can serve while a pipeline run is in progress.
type InteractiveService struct {
	store      *projectcache.Store
	aggregates []domain.AggregateSpec
	reasoner   ports.ReasoningProvider
}

func NewInteractiveService(store *projectcache.Store, aggregates []domain.AggregateSpec, reasoner ports.ReasoningProvider) *InteractiveService {
	return &InteractiveService{store: store, aggregates: aggregates, reasoner: reasoner}
}

var _ ports.InteractiveModules = (*InteractiveService)(nil)

type StageAvailability string

const (
	StageAvailable StageAvailability = "available"
	StageNull      StageAvailability = "null"
)

type StageSummary struct {
	Key          string            `json:"key"`
	Availability StageAvailability `json:"availability"`
	Items        int               `json:"items"`
	ProducedAt   string            `json:"produced_at,omitempty"`
}

type Summary struct {
	ProjectID  string               `json:"project_id"`
	Status     domain.ProjectStatus `json:"status"`
	Artifacts  int                  `json:"artifacts"`
	Stages     []StageSummary       `json:"stages"`
	Aggregates []domain.Aggregate   `json:"aggregates"`
	LastRun    *domain.RunRecord    `json:"last_run,omitempty"`
}

type ResourceLine struct {
	Unit      string   `json:"unit"`
	Positions []string `json:"positions"`
	Quantity  *float64 `json:"quantity"`
	Amount    *float64 `json:"amount"`
	Currency  string   `json:"currency,omitempty"`
}

type ResourceSheet struct {
	ProjectID string         `json:"project_id"`
	Available bool           `json:"available"`
	Lines     []ResourceLine `json:"lines"`
}

type TechCard struct {
	ProjectID string                  `json:"project_id"`
	ItemID    string                  `json:"item_id"`
	Position  domain.Item             `json:"position"`
	Source    domain.ProvenanceRecord `json:"source"`
	Card      json.RawMessage         `json:"card"`
}

func (s *InteractiveService) Render(ctx context.Context, projectID, module string, params map[string]string) (any, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "render "+module, errors.New("project id is required"))
	}
	switch module {
	case ModuleSummary:
		return s.summary(ctx, projectID)
	case ModuleResourceSheet:
		return s.resourceSheet(ctx, projectID)
	case ModuleTechCard:
		return s.techCard(ctx, projectID, params["item"])
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "render", fmt.Errorf("unknown module %q", module))
	}
}

func (s *InteractiveService) summary(ctx context.Context, projectID string) (*Summary, error) {
	v, err := s.store.Snapshot(ctx, projectID, nil)
	if err != nil {
		return nil, err
	}
	out := &Summary{
		ProjectID:  v.ProjectID,
		Status:     v.Status,
		Artifacts:  len(v.Artifacts),
		Stages:     make([]StageSummary, 0, len(v.StageResults)),
		Aggregates: make([]domain.Aggregate, 0, len(s.aggregates)),
		LastRun:    v.LastRun,
	}
	keys := make([]string, 0, len(v.StageResults))
	for k := range v.StageResults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		result := v.StageResults[key]
		st := StageSummary{Key: key, Availability: StageNull}
		if result != nil {
			st.Availability = StageAvailable
			st.Items = len(result.Items)
			st.ProducedAt = result.ProducedAt.UTC().Format(time.RFC3339)
		}
		out.Stages = append(out.Stages, st)
	}

	for _, spec := range s.aggregates {
		out.Aggregates = append(out.Aggregates, storedOrComputed(spec, v.StageResults[spec.Source]))
	}
	return out, nil
}

// storedOrComputed prefers the aggregate persisted with its source and recomputes it otherwise,
// which covers sources that are null.
func storedOrComputed(spec domain.AggregateSpec, source *domain.StageResult) domain.Aggregate {
	if source != nil {
		for _, agg := range source.Aggregates {
			if agg.Name == spec.Name {
				return agg
			}
		}
	}
	return aggregate.Compute(spec, source)
}

func (s *InteractiveService) resourceSheet(ctx context.Context, projectID string) (*ResourceSheet, error) {
	v, err := s.store.Snapshot(ctx, projectID, []string{positionsKey})
	if err != nil {
		return nil, err
	}
	positions := v.StageResults[positionsKey]
	sheet := &ResourceSheet{ProjectID: v.ProjectID, Available: positions != nil, Lines: []ResourceLine{}}
	if positions == nil {
		return sheet, nil
	}

	byUnit := map[string]*ResourceLine{}
	var units []string
	for _, item := range positions.ItemsOfKind(kindPosition) {
		unit := "unknown"
		if u := item.Fields["unit"]; !u.IsNull() && u.Text != "" {
			unit = u.Text
		}
		line, ok := byUnit[unit]
		if !ok {
			zeroQty, zeroAmount := 0.0, 0.0
			line = &ResourceLine{Unit: unit, Quantity: &zeroQty, Amount: &zeroAmount}
			byUnit[unit] = line
			units = append(units, unit)
		}
		line.Positions = append(line.Positions, item.ID)
		line.Quantity = addOrNull(line.Quantity, item.Fields["quantity"])
		amount := item.Fields["amount"]
		if line.Currency == "" && !amount.IsNull() {
			line.Currency = amount.Unit
		}
		if line.Currency != "" && !amount.IsNull() && amount.Unit != line.Currency {
			line.Amount = nil
			continue
		}
		line.Amount = addOrNull(line.Amount, amount)
	}
	sort.Strings(units)
	for _, unit := range units {
		sheet.Lines = append(sheet.Lines, *byUnit[unit])
	}
	return sheet, nil
}

// addOrNull adds v to sum. A null or non-numeric value makes the sum null for good.
func addOrNull(sum *float64, v domain.Value) *float64 {
	if sum == nil {
		return nil
	}
	f, ok := v.Float()
	if !ok {
		return nil
	}
	total := math.Round((*sum+f)*1000) / 1000
	return &total
}

func (s *InteractiveService) techCard(ctx context.Context, projectID, itemID string) (*TechCard, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "render tech card", errors.New("item parameter is required"))
	}
	v, err := s.store.Snapshot(ctx, projectID, []string{positionsKey, specsKey})
	if err != nil {
		return nil, err
	}
	position, ok := v.StageResults[positionsKey].ItemByID(itemID)
	if !ok || position.Kind != kindPosition {
		return nil, domain.WrapError(domain.ErrInvalidInput, "render tech card", fmt.Errorf("position %q not found", itemID))
	}
	if s.reasoner == nil {
		return nil, domain.NewProviderError(domain.ProviderUnavailable, ModuleTechCard, errors.New("reasoning provider is not configured"))
	}

	requirements := v.StageResults[specsKey].ItemsOfKind(kindRequirement)
	if len(requirements) > maxCardContext {
		requirements = requirements[:maxCardContext]
	}
	reqTexts := make([]string, 0, len(requirements))
	for _, r := range requirements {
		reqTexts = append(reqTexts, r.Fields["text"].Text)
	}
	source := v.Provenance[itemID]

	raw, err := s.reasoner.Reason(ctx, ports.ReasoningRequest{
		Operation: ModuleTechCard,
		Prompt:    techCardPrompt,
		Context: map[string]any{
			"position":     position,
			"source":       source,
			"requirements": reqTexts,
		},
	})
	if err != nil {
		return nil, err
	}
	return &TechCard{
		ProjectID: v.ProjectID,
		ItemID:    itemID,
		Position:  position,
		Source:    source,
		Card:      raw,
	}, nil
}
