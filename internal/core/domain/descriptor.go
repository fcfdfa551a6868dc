package domain

import "time"

// KnowledgePrefix marks a depends_on entry that names a knowledge base rather than a stage.
const KnowledgePrefix = "knowledge:"

// ModuleDescriptor is the static metadata of one pipeline stage.
type ModuleDescriptor struct {
	Name           string
	Enabled        bool
	Entry          string
	InputContract  string
	OutputContract string
	OutputKey      string
	DependsOn      []string
	Capabilities   []string
	Timeout        time.Duration
}

// Key is the stage_results key the module writes to.
func (d ModuleDescriptor) Key() string {
	if d.OutputKey != "" {
		return d.OutputKey
	}
	return d.Name
}

// AggregateSpec declares how an aggregate is computed and how it treats null inputs.
type AggregateSpec struct {
	Name   string
	Source string
	Kind   string
	Field  string
	Unit   string
	Policy NullPolicy
}
