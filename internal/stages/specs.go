package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/parser"
)

const (
	opExtractRequirements = "extract_requirements"
	defaultBatchBytes     = 12000
	requirementConfidence = 0.7
)

const requirementsPrompt = `You extract technical requirements from construction specification text.
For every requirement found in the blocks return an object with:
block_id (the id of the block it was found in), text (the requirement in one sentence),
standard (referenced norm such as SP 70.13330 or GOST, or null), parameter (the constrained
parameter or null), value (number or null), unit (unit of value or null), confidence (0..1).
Answer with {"requirements": [...]}. Return an empty list when nothing is found.`

// SpecsStage asks the reasoning provider for technical requirements found in text blocks.
type SpecsStage struct {
	reasoner   ports.ReasoningProvider
	batchBytes int
}

type specBlock struct {
	BlockID string `json:"block_id"`
	Text    string `json:"text"`
}

type requirementAnswer struct {
	Requirements []struct {
		BlockID    string   `json:"block_id"`
		Text       string   `json:"text"`
		Standard   *string  `json:"standard"`
		Parameter  *string  `json:"parameter"`
		Value      *float64 `json:"value"`
		Unit       *string  `json:"unit"`
		Confidence *float64 `json:"confidence"`
	} `json:"requirements"`
}

func (s *SpecsStage) Run(ctx context.Context, in domain.StageInput) (domain.StageOutput, error) {
	blocks := in.Result(KeyParse).ItemsOfKind(parser.KindTextBlock)
	out := domain.StageOutput{}
	if len(blocks) == 0 {
		return out, nil
	}

	seq := make(map[string]int)
	for _, batch := range s.batches(blocks) {
		known := make(map[string]struct{}, len(batch))
		for _, b := range batch {
			known[b.BlockID] = struct{}{}
		}
		var answer requirementAnswer
		req := ports.ReasoningRequest{
			Operation: opExtractRequirements,
			Prompt:    requirementsPrompt,
			Context:   map[string]any{"blocks": batch},
		}
		if err := reason(ctx, s.reasoner, req, &answer); err != nil {
			return domain.StageOutput{}, err
		}

		for _, r := range answer.Requirements {
			if _, ok := known[r.BlockID]; !ok {
				return domain.StageOutput{}, invalidAnswer(opExtractRequirements, "requirement references unknown block %q", r.BlockID)
			}
			text := strings.TrimSpace(r.Text)
			if text == "" {
				continue
			}
			n := seq[r.BlockID]
			seq[r.BlockID] = n + 1

			value := domain.Null()
			if r.Value != nil && r.Unit != nil && strings.TrimSpace(*r.Unit) != "" {
				value = domain.Quantity(*r.Value, normalizeUnit(*r.Unit))
			}
			item := domain.Item{
				ID:   fmt.Sprintf("req:%s:%d", r.BlockID, n),
				Kind: KindRequirement,
				Fields: map[string]domain.Value{
					"text":      domain.Text(text),
					"standard":  optionalText(deref(r.Standard)),
					"parameter": optionalText(deref(r.Parameter)),
					"value":     value,
				},
			}
			item.Source, _ = in.SourceOf(r.BlockID, clampConfidence(r.Confidence, requirementConfidence))
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}

// batches groups text blocks so each request context stays under batchBytes.
func (s *SpecsStage) batches(blocks []domain.Item) [][]specBlock {
	limit := s.batchBytes
	if limit <= 0 {
		limit = defaultBatchBytes
	}
	var (
		out  [][]specBlock
		cur  []specBlock
		size int
	)
	for _, b := range blocks {
		text := b.Fields["text"].Text
		if strings.TrimSpace(text) == "" {
			continue
		}
		if len(cur) > 0 && size+len(text) > limit {
			out = append(out, cur)
			cur, size = nil, 0
		}
		cur = append(cur, specBlock{BlockID: b.ID, Text: text})
		size += len(text)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
