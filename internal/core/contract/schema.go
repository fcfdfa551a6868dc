// Package contract validates candidate stage outputs against declared schema descriptors.
package contract

import (
	"github.com/kirillkom/construction-pipeline/internal/core/domain"
)

// FieldSpec declares one item field.
type FieldSpec struct {
	Name     string           `yaml:"name" json:"name"`
	Type     domain.ValueType `yaml:"type" json:"type"`
	Required bool             `yaml:"required" json:"required"`
	Nullable bool             `yaml:"nullable" json:"nullable"`
}

// KindSpec declares the fields of one item kind.
type KindSpec struct {
	Kind   string      `yaml:"kind" json:"kind"`
	Fields []FieldSpec `yaml:"fields" json:"fields"`
}

// Schema is the contract a stage output must satisfy before it is merged.
type Schema struct {
	Ref        string     `yaml:"ref" json:"ref"`
	Kinds      []KindSpec `yaml:"kinds" json:"kinds"`
	Strict     bool       `yaml:"strict" json:"strict"`
	Aggregates bool       `yaml:"aggregates" json:"aggregates"`
}

func (s *Schema) kind(name string) (KindSpec, bool) {
	for _, k := range s.Kinds {
		if k.Kind == name {
			return k, true
		}
	}
	return KindSpec{}, false
}

var knownTypes = map[domain.ValueType]struct{}{
	domain.ValueText:     {},
	domain.ValueNumber:   {},
	domain.ValueInteger:  {},
	domain.ValueQuantity: {},
	domain.ValueMoney:    {},
	domain.ValueBool:     {},
}

// KnownType reports whether t may be declared in a field spec.
func KnownType(t domain.ValueType) bool {
	_, ok := knownTypes[t]
	return ok
}
