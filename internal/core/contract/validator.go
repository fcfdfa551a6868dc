package contract

import (
	"fmt"
	"math"
	"sort"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
)

// ValidatedOutput is a stage output that passed its contract. It can only be built by Validate.
type ValidatedOutput struct {
	stage      string
	contract   string
	items      []domain.Item
	aggregates []domain.Aggregate
}

func (v ValidatedOutput) Stage() string                  { return v.stage }
func (v ValidatedOutput) Contract() string               { return v.contract }
func (v ValidatedOutput) Items() []domain.Item           { return v.items }
func (v ValidatedOutput) Aggregates() []domain.Aggregate { return v.aggregates }

// Validate checks output against schema. It never panics; a violation carries the offending field path.
func Validate(stage string, output domain.StageOutput, schema *Schema) (ValidatedOutput, *domain.ContractViolation) {
	if schema == nil {
		return ValidatedOutput{}, &domain.ContractViolation{Stage: stage, Path: "$", Reason: "no contract declared"}
	}
	fail := func(path, format string, args ...any) (ValidatedOutput, *domain.ContractViolation) {
		return ValidatedOutput{}, &domain.ContractViolation{
			Stage:    stage,
			Contract: schema.Ref,
			Path:     path,
			Reason:   fmt.Sprintf(format, args...),
		}
	}

	seen := make(map[string]int, len(output.Items))
	for i, item := range output.Items {
		base := fmt.Sprintf("items[%d]", i)
		if item.ID == "" {
			return fail(base+".id", "empty identifier")
		}
		if prev, dup := seen[item.ID]; dup {
			return fail(base+".id", "duplicate identifier %q (first at items[%d])", item.ID, prev)
		}
		seen[item.ID] = i

		spec, ok := schema.kind(item.Kind)
		if !ok && len(schema.Kinds) > 0 {
			return fail(base+".kind", "kind %q not allowed", item.Kind)
		}

		declared := make(map[string]struct{}, len(spec.Fields))
		for _, field := range spec.Fields {
			declared[field.Name] = struct{}{}
			path := base + ".fields." + field.Name
			value, present := item.Fields[field.Name]
			if !present {
				if field.Required {
					return fail(path, "required field missing")
				}
				continue
			}
			if value.IsNull() {
				if !field.Nullable {
					return fail(path, "null not allowed")
				}
				continue
			}
			if reason := checkType(field.Type, value); reason != "" {
				return fail(path, "%s", reason)
			}
		}

		names := make([]string, 0, len(item.Fields))
		for name := range item.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			path := base + ".fields." + name
			value := item.Fields[name]
			if _, ok := declared[name]; !ok && schema.Strict {
				return fail(path, "undeclared field")
			}
			if reason := checkPayload(value); reason != "" {
				if reason == reasonUnitMissing {
					path += ".unit"
				}
				return fail(path, "%s", reason)
			}
		}
	}

	if len(output.Aggregates) > 0 && !schema.Aggregates {
		return fail("aggregates", "contract does not allow aggregates")
	}
	aggSeen := make(map[string]struct{}, len(output.Aggregates))
	for i, agg := range output.Aggregates {
		base := fmt.Sprintf("aggregates[%d]", i)
		if agg.ID == "" {
			return fail(base+".id", "empty identifier")
		}
		if _, dup := aggSeen[agg.ID]; dup {
			return fail(base+".id", "duplicate identifier %q", agg.ID)
		}
		aggSeen[agg.ID] = struct{}{}
		if agg.Name == "" {
			return fail(base+".name", "empty name")
		}
		if agg.Value != nil && (math.IsNaN(*agg.Value) || math.IsInf(*agg.Value, 0)) {
			return fail(base+".value", "not a finite number")
		}
	}

	return ValidatedOutput{
		stage:      stage,
		contract:   schema.Ref,
		items:      output.Items,
		aggregates: output.Aggregates,
	}, nil
}

const reasonUnitMissing = "unit missing"

func checkType(want domain.ValueType, v domain.Value) string {
	switch {
	case v.Type == want:
	case want == domain.ValueNumber && v.Type == domain.ValueInteger:
	default:
		return fmt.Sprintf("expected %s, got %s", want, v.Type)
	}
	return ""
}

// checkPayload verifies a value is internally consistent with its own type tag.
func checkPayload(v domain.Value) string {
	switch v.Type {
	case domain.ValueNull, domain.ValueText:
		return ""
	case domain.ValueBool:
		if v.Bool == nil {
			return "bool payload missing"
		}
		return ""
	case domain.ValueNumber, domain.ValueInteger, domain.ValueQuantity, domain.ValueMoney:
		if v.Number == nil {
			return "numeric payload missing"
		}
		if math.IsNaN(*v.Number) || math.IsInf(*v.Number, 0) {
			return "not a finite number"
		}
		if v.Type == domain.ValueInteger && *v.Number != math.Trunc(*v.Number) {
			return "integer has a fractional part"
		}
		if (v.Type == domain.ValueQuantity || v.Type == domain.ValueMoney) && v.Unit == "" {
			return reasonUnitMissing
		}
		return ""
	case "":
		return "value type missing"
	default:
		return fmt.Sprintf("unknown value type %q", v.Type)
	}
}
