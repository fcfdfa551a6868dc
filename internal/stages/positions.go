package stages

import (
	"context"
	"strings"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/infrastructure/parser"
)

// PositionsStage normalizes estimate rows into positions with typed quantity and money fields.
// A missing parse result is treated as no data.
type PositionsStage struct {
	currency string
}

func (s *PositionsStage) Run(ctx context.Context, in domain.StageInput) (domain.StageOutput, error) {
	rows := in.Result(KeyParse).ItemsOfKind(parser.KindEstimateRow)
	out := domain.StageOutput{Items: make([]domain.Item, 0, len(rows))}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return domain.StageOutput{}, err
		}
		item := s.position(row)
		// A row without recorded provenance keeps a nil source and is reported by the tracker.
		item.Source, _ = in.SourceOf(row.ID, 0)
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func (s *PositionsStage) position(row domain.Item) domain.Item {
	text := func(name string) string {
		v, ok := row.Fields[name]
		if !ok || v.IsNull() {
			return ""
		}
		return strings.TrimSpace(v.Text)
	}
	number := func(name string) (float64, bool) {
		raw := text(name)
		if raw == "" {
			return 0, false
		}
		return parseNumber(raw)
	}

	unit := normalizeUnit(text(parser.ColumnUnit))
	fields := map[string]domain.Value{
		"description": domain.Text(text(parser.ColumnDescription)),
		"code":        optionalText(text(parser.ColumnCode)),
		"unit":        optionalText(unit),
		"quantity":    domain.Null(),
		"unit_price":  domain.Null(),
		"amount":      domain.Null(),
	}

	qty, hasQty := number(parser.ColumnQuantity)
	if hasQty && unit != "" {
		fields["quantity"] = domain.Quantity(qty, unit)
	}
	price, hasPrice := number(parser.ColumnUnitPrice)
	if hasPrice {
		fields["unit_price"] = domain.Money(round2(price), s.currency)
	}
	if amount, ok := number(parser.ColumnAmount); ok {
		fields["amount"] = domain.Money(round2(amount), s.currency)
	} else if hasQty && hasPrice {
		fields["amount"] = domain.Money(round2(qty*price), s.currency)
	}

	return domain.Item{
		ID:     "pos:" + row.ID,
		Kind:   KindPosition,
		Fields: fields,
	}
}

var unitAliases = map[string]string{
	"м3":     "m3",
	"м³":     "m3",
	"куб.м":  "m3",
	"m³":     "m3",
	"м2":     "m2",
	"м²":     "m2",
	"кв.м":   "m2",
	"m²":     "m2",
	"м":      "m",
	"т":      "t",
	"тн":     "t",
	"кг":     "kg",
	"шт":     "pcs",
	"шт.":    "pcs",
	"pc":     "pcs",
	"компл":  "set",
	"компл.": "set",
}

func normalizeUnit(raw string) string {
	u := strings.ToLower(strings.TrimSpace(raw))
	u = strings.ReplaceAll(u, " ", "")
	if alias, ok := unitAliases[u]; ok {
		return alias
	}
	return u
}

func optionalText(s string) domain.Value {
	if s == "" {
		return domain.Null()
	}
	return domain.Text(s)
}
