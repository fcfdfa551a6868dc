// Package aggregate computes manifest-declared totals over stored stage results.
package aggregate

import (
	"math"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
)

const (
	ReasonSourceUnavailable = "source stage unavailable"
	ReasonNullConstituent   = "null constituent"
	ReasonUnitMismatch      = "unit mismatch"
)

// ID is the aggregate id derived from its name.
func ID(name string) string { return "agg:" + name }

// Compute sums spec.Field over the items of spec.Kind in result. Under NullPropagate any null or
// missing constituent, or a nil result, makes the value null. Under NullAsZero they count as zero.
// A constituent in a different unit than spec.Unit always makes the value null.
func Compute(spec domain.AggregateSpec, result *domain.StageResult) domain.Aggregate {
	agg := domain.Aggregate{
		ID:           ID(spec.Name),
		Name:         spec.Name,
		Unit:         spec.Unit,
		Policy:       spec.Policy,
		Constituents: []string{},
	}
	if agg.Policy == "" {
		agg.Policy = domain.NullPropagate
	}

	if result == nil {
		agg.Reason = ReasonSourceUnavailable
		if agg.Policy == domain.NullAsZero {
			zero := 0.0
			agg.Value = &zero
		}
		return agg
	}

	sum := 0.0
	sawNull := false
	for _, item := range result.Items {
		if spec.Kind != "" && item.Kind != spec.Kind {
			continue
		}
		agg.Constituents = append(agg.Constituents, item.ID)
		v, ok := item.Fields[spec.Field]
		f, numeric := v.Float()
		if !ok || v.IsNull() || !numeric {
			sawNull = true
			continue
		}
		if spec.Unit != "" && v.Unit != "" && v.Unit != spec.Unit {
			agg.Reason = ReasonUnitMismatch
			return agg
		}
		sum += f
	}

	if sawNull && agg.Policy == domain.NullPropagate {
		agg.Reason = ReasonNullConstituent
		return agg
	}
	if sawNull {
		agg.Reason = ReasonNullConstituent
	}
	sum = math.Round(sum*100) / 100
	agg.Value = &sum
	return agg
}

// Upsert replaces the aggregate with the same name in list or appends it.
func Upsert(list []domain.Aggregate, agg domain.Aggregate) []domain.Aggregate {
	for i := range list {
		if list[i].Name == agg.Name {
			list[i] = agg
			return list
		}
	}
	return append(list, agg)
}
