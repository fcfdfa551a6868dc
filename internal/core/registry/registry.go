// Package registry holds the ordered list of pipeline modules and the degradation policy.
// It is a pure data holder after Load; the orchestrator consults it and nothing here executes stages.
package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/construction-pipeline/internal/core/contract"
	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
)

const defaultTimeout = 60 * time.Second

// Catalog maps manifest entry points to statically typed stages.
type Catalog map[string]ports.Stage

// Module is a descriptor bound to its entry point and contracts.
type Module struct {
	Descriptor domain.ModuleDescriptor
	Stage      ports.Stage
	Input      *contract.Schema
	Output     *contract.Schema
}

type Registry struct {
	modules     []Module
	byName      map[string]int
	tiers       [][]int
	contracts   map[string]*contract.Schema
	aggregates  []domain.AggregateSpec
	knowledge   map[string]struct{}
	failFast    bool
	maxParallel int
}

// Load validates the manifest and binds every module to its catalog entry.
// Any violation is returned as a *domain.RegistryError.
func Load(m Manifest, catalog Catalog) (*Registry, error) {
	r := &Registry{
		byName:      make(map[string]int, len(m.Modules)),
		contracts:   make(map[string]*contract.Schema, len(m.Contracts)),
		knowledge:   make(map[string]struct{}, len(m.Knowledge)),
		failFast:    m.FailFast,
		maxParallel: m.MaxParallel,
	}
	if r.maxParallel <= 0 {
		r.maxParallel = 1
	}
	if len(m.Modules) == 0 {
		return nil, &domain.RegistryError{Reason: "manifest declares no modules"}
	}

	for i := range m.Contracts {
		schema := m.Contracts[i]
		if err := checkSchema(schema); err != nil {
			return nil, err
		}
		if _, dup := r.contracts[schema.Ref]; dup {
			return nil, &domain.RegistryError{Reason: fmt.Sprintf("duplicate contract %q", schema.Ref)}
		}
		r.contracts[schema.Ref] = &schema
	}
	for _, k := range m.Knowledge {
		r.knowledge[strings.TrimSpace(k)] = struct{}{}
	}

	for i, entry := range m.Modules {
		module, err := r.bind(entry, catalog)
		if err != nil {
			return nil, err
		}
		if _, dup := r.byName[module.Descriptor.Name]; dup {
			return nil, &domain.RegistryError{Module: module.Descriptor.Name, Reason: "duplicate module name"}
		}
		for _, dep := range module.Descriptor.DependsOn {
			if strings.HasPrefix(dep, domain.KnowledgePrefix) {
				if _, ok := r.knowledge[strings.TrimPrefix(dep, domain.KnowledgePrefix)]; !ok {
					return nil, &domain.RegistryError{Module: module.Descriptor.Name, Reason: fmt.Sprintf("unknown knowledge base %q", dep)}
				}
				continue
			}
			if _, ok := r.byName[dep]; !ok {
				return nil, &domain.RegistryError{
					Module: module.Descriptor.Name,
					Reason: fmt.Sprintf("depends on %q which is not declared before it", dep),
				}
			}
		}
		r.byName[module.Descriptor.Name] = i
		r.modules = append(r.modules, module)
	}

	for _, entry := range m.Aggregates {
		spec, err := r.aggregate(entry)
		if err != nil {
			return nil, err
		}
		r.aggregates = append(r.aggregates, spec)
	}

	tiers, err := r.buildTiers()
	if err != nil {
		return nil, err
	}
	r.tiers = tiers
	return r, nil
}

func (r *Registry) bind(entry ModuleEntry, catalog Catalog) (Module, error) {
	name := strings.TrimSpace(entry.Name)
	if name == "" {
		return Module{}, &domain.RegistryError{Reason: "module without name"}
	}
	enabled := true
	if entry.Enabled != nil {
		enabled = *entry.Enabled
	}
	timeout := defaultTimeout
	if strings.TrimSpace(entry.Timeout) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(entry.Timeout))
		if err != nil {
			return Module{}, &domain.RegistryError{Module: name, Reason: fmt.Sprintf("invalid timeout %q", entry.Timeout)}
		}
		timeout = d
	}
	if timeout <= 0 {
		return Module{}, &domain.RegistryError{Module: name, Reason: "timeout must be positive"}
	}

	stage, ok := catalog[entry.Entry]
	if !ok || stage == nil {
		return Module{}, &domain.RegistryError{Module: name, Reason: fmt.Sprintf("entry point %q not in stage catalog", entry.Entry)}
	}

	module := Module{
		Descriptor: domain.ModuleDescriptor{
			Name:           name,
			Enabled:        enabled,
			Entry:          entry.Entry,
			InputContract:  entry.InputContract,
			OutputContract: entry.OutputContract,
			OutputKey:      strings.TrimSpace(entry.OutputKey),
			DependsOn:      append([]string(nil), entry.DependsOn...),
			Capabilities:   append([]string(nil), entry.Capabilities...),
			Timeout:        timeout,
		},
		Stage: stage,
	}

	if entry.OutputContract == "" {
		return Module{}, &domain.RegistryError{Module: name, Reason: "output contract is required"}
	}
	out, ok := r.contracts[entry.OutputContract]
	if !ok {
		return Module{}, &domain.RegistryError{Module: name, Reason: fmt.Sprintf("unknown output contract %q", entry.OutputContract)}
	}
	module.Output = out
	if entry.InputContract != "" {
		in, ok := r.contracts[entry.InputContract]
		if !ok {
			return Module{}, &domain.RegistryError{Module: name, Reason: fmt.Sprintf("unknown input contract %q", entry.InputContract)}
		}
		module.Input = in
	}
	return module, nil
}

func (r *Registry) aggregate(entry AggregateEntry) (domain.AggregateSpec, error) {
	if entry.Name == "" || entry.Field == "" {
		return domain.AggregateSpec{}, &domain.RegistryError{Reason: "aggregate requires name and field"}
	}
	found := false
	for _, m := range r.modules {
		if m.Descriptor.Key() == entry.Source {
			found = true
			break
		}
	}
	if !found {
		return domain.AggregateSpec{}, &domain.RegistryError{Reason: fmt.Sprintf("aggregate %q reads unknown output key %q", entry.Name, entry.Source)}
	}
	policy := domain.NullPolicy(strings.TrimSpace(entry.Policy))
	switch policy {
	case "":
		policy = domain.NullPropagate
	case domain.NullPropagate, domain.NullAsZero:
	default:
		return domain.AggregateSpec{}, &domain.RegistryError{Reason: fmt.Sprintf("aggregate %q has unknown null policy %q", entry.Name, entry.Policy)}
	}
	return domain.AggregateSpec{
		Name:   entry.Name,
		Source: entry.Source,
		Kind:   entry.Kind,
		Field:  entry.Field,
		Unit:   entry.Unit,
		Policy: policy,
	}, nil
}

// buildTiers groups consecutive modules that do not depend on each other. A module starts a new
// tier when it depends on a member of the current one. Siblings may not share an output key.
func (r *Registry) buildTiers() ([][]int, error) {
	var tiers [][]int
	var current []int
	members := map[string]struct{}{}
	keys := map[string]string{}

	flush := func() {
		if len(current) > 0 {
			tiers = append(tiers, current)
		}
		current = nil
		members = map[string]struct{}{}
		keys = map[string]string{}
	}

	for i, m := range r.modules {
		dependsOnCurrent := false
		for _, dep := range m.Descriptor.DependsOn {
			if _, ok := members[dep]; ok {
				dependsOnCurrent = true
				break
			}
		}
		if dependsOnCurrent {
			flush()
		}
		key := m.Descriptor.Key()
		if other, clash := keys[key]; clash {
			return nil, &domain.RegistryError{
				Module: m.Descriptor.Name,
				Reason: fmt.Sprintf("output key %q overlaps with concurrent sibling %q", key, other),
			}
		}
		keys[key] = m.Descriptor.Name
		members[m.Descriptor.Name] = struct{}{}
		current = append(current, i)
	}
	flush()
	return tiers, nil
}

func checkSchema(s contract.Schema) error {
	if strings.TrimSpace(s.Ref) == "" {
		return &domain.RegistryError{Reason: "contract without ref"}
	}
	for _, k := range s.Kinds {
		if k.Kind == "" {
			return &domain.RegistryError{Reason: fmt.Sprintf("contract %q declares a kind without name", s.Ref)}
		}
		for _, f := range k.Fields {
			if f.Name == "" || !contract.KnownType(f.Type) {
				return &domain.RegistryError{Reason: fmt.Sprintf("contract %q kind %q has invalid field %q (%s)", s.Ref, k.Kind, f.Name, f.Type)}
			}
		}
	}
	return nil
}

// IsEnabled reports whether the named module exists and is enabled.
func (r *Registry) IsEnabled(name string) bool {
	idx, ok := r.byName[name]
	return ok && r.modules[idx].Descriptor.Enabled
}

func (r *Registry) Modules() []Module {
	return append([]Module(nil), r.modules...)
}

func (r *Registry) Module(name string) (Module, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return Module{}, false
	}
	return r.modules[idx], true
}

// Tiers returns the concurrency tiers in registry order.
func (r *Registry) Tiers() [][]Module {
	out := make([][]Module, 0, len(r.tiers))
	for _, tier := range r.tiers {
		group := make([]Module, 0, len(tier))
		for _, idx := range tier {
			group = append(group, r.modules[idx])
		}
		out = append(out, group)
	}
	return out
}

// OutputKeys returns every declared output key in registry order without duplicates.
func (r *Registry) OutputKeys() []string {
	seen := make(map[string]struct{}, len(r.modules))
	out := make([]string, 0, len(r.modules))
	for _, m := range r.modules {
		key := m.Descriptor.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func (r *Registry) Contract(ref string) (*contract.Schema, bool) {
	s, ok := r.contracts[ref]
	return s, ok
}

func (r *Registry) Aggregates() []domain.AggregateSpec {
	return append([]domain.AggregateSpec(nil), r.aggregates...)
}

// AggregatesFor returns the aggregate specs computed over the given output key.
func (r *Registry) AggregatesFor(key string) []domain.AggregateSpec {
	var out []domain.AggregateSpec
	for _, spec := range r.aggregates {
		if spec.Source == key {
			out = append(out, spec)
		}
	}
	return out
}

func (r *Registry) FailFast() bool   { return r.failFast }
func (r *Registry) MaxParallel() int { return r.maxParallel }
