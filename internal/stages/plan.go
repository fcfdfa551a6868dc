package stages

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
)

const (
	opPlanWorks    = "plan_works"
	taskConfidence = 0.6
	maxPlanInputs  = 200
)

const planPrompt = `You plan construction works from estimate positions and technical requirements.
Return {"tasks": [...]} where each task has: title, sequence (1-based execution order),
basis (list of position or requirement ids the task is derived from, at least one),
duration_days (number or null), confidence (0..1). Use only ids present in the context.`

// PlanStage asks the reasoning provider for an ordered work plan. Either input may be null.
type PlanStage struct {
	reasoner ports.ReasoningProvider
}

type planPosition struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	Unit        string   `json:"unit,omitempty"`
}

type planRequirement struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type planAnswer struct {
	Tasks []struct {
		Title        string   `json:"title"`
		Sequence     int64    `json:"sequence"`
		Basis        []string `json:"basis"`
		DurationDays *float64 `json:"duration_days"`
		Confidence   *float64 `json:"confidence"`
	} `json:"tasks"`
}

func (s *PlanStage) Run(ctx context.Context, in domain.StageInput) (domain.StageOutput, error) {
	positions := in.Result(KeyPositions).ItemsOfKind(KindPosition)
	requirements := in.Result(KeySpecs).ItemsOfKind(KindRequirement)
	if len(positions) == 0 && len(requirements) == 0 {
		return domain.StageOutput{}, nil
	}

	planCtx := planContext(positions, requirements)
	known := make(map[string]struct{}, len(planCtx.Positions)+len(planCtx.Requirements))
	for _, p := range planCtx.Positions {
		known[p.ID] = struct{}{}
	}
	for _, r := range planCtx.Requirements {
		known[r.ID] = struct{}{}
	}

	var answer planAnswer
	req := ports.ReasoningRequest{Operation: opPlanWorks, Prompt: planPrompt, Context: planCtx}
	if err := reason(ctx, s.reasoner, req, &answer); err != nil {
		return domain.StageOutput{}, err
	}

	out := domain.StageOutput{Items: make([]domain.Item, 0, len(answer.Tasks))}
	seen := make(map[string]struct{}, len(answer.Tasks))
	for i, task := range answer.Tasks {
		title := strings.TrimSpace(task.Title)
		if title == "" {
			return domain.StageOutput{}, invalidAnswer(opPlanWorks, "task %d has no title", i)
		}
		if len(task.Basis) == 0 {
			return domain.StageOutput{}, invalidAnswer(opPlanWorks, "task %q has no basis", title)
		}
		for _, id := range task.Basis {
			if _, ok := known[id]; !ok {
				return domain.StageOutput{}, invalidAnswer(opPlanWorks, "task %q references unknown item %q", title, id)
			}
		}
		seqNo := task.Sequence
		if seqNo <= 0 {
			seqNo = int64(i + 1)
		}
		id := taskID(title)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		duration := domain.Null()
		if task.DurationDays != nil && *task.DurationDays >= 0 {
			duration = domain.Quantity(*task.DurationDays, "day")
		}
		item := domain.Item{
			ID:   id,
			Kind: KindTask,
			Fields: map[string]domain.Value{
				"title":    domain.Text(title),
				"sequence": domain.Integer(seqNo),
				"basis":    domain.Text(strings.Join(task.Basis, ",")),
				"duration": duration,
			},
		}
		item.Source, _ = in.SourceOf(task.Basis[0], clampConfidence(task.Confidence, taskConfidence))
		out.Items = append(out.Items, item)
	}
	return out, nil
}

type planInput struct {
	Positions    []planPosition    `json:"positions"`
	Requirements []planRequirement `json:"requirements"`
}

// planContext keeps the request bounded: the largest positions by amount are sent first.
func planContext(positions, requirements []domain.Item) planInput {
	sorted := append([]domain.Item(nil), positions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, _ := sorted[i].Fields["amount"].Float()
		b, _ := sorted[j].Fields["amount"].Float()
		return a > b
	})
	if len(sorted) > maxPlanInputs {
		sorted = sorted[:maxPlanInputs]
	}

	in := planInput{
		Positions:    make([]planPosition, 0, len(sorted)),
		Requirements: make([]planRequirement, 0, len(requirements)),
	}
	for _, p := range sorted {
		pos := planPosition{ID: p.ID, Description: p.Fields["description"].Text}
		if q, ok := p.Fields["quantity"].Float(); ok {
			pos.Quantity = &q
			pos.Unit = p.Fields["quantity"].Unit
		}
		in.Positions = append(in.Positions, pos)
	}
	for i, r := range requirements {
		if i >= maxPlanInputs {
			break
		}
		in.Requirements = append(in.Requirements, planRequirement{ID: r.ID, Text: r.Fields["text"].Text})
	}
	return in
}

func taskID(title string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(title)))
	return "task:" + hex.EncodeToString(sum[:6])
}
