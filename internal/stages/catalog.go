// Package stages holds the built-in pipeline stages and the default module manifest.
package stages

import (
	_ "embed"
	"log/slog"

	"github.com/kirillkom/construction-pipeline/internal/core/domain"
	"github.com/kirillkom/construction-pipeline/internal/core/ports"
	"github.com/kirillkom/construction-pipeline/internal/core/registry"
)

// Entry points of the built-in stages.
const (
	EntryParse     = "builtin.parse"
	EntryPositions = "builtin.positions"
	EntrySpecs     = "builtin.specs"
	EntryPlan      = "builtin.plan"
)

// Output keys the built-in stages read from. They match the default manifest.
const (
	KeyParse     = "parse"
	KeyPositions = "positions"
	KeySpecs     = "specs"
	KeyPlan      = "plan"
)

// Item kinds produced by the built-in stages.
const (
	KindParseIssue  = "parse_issue"
	KindPosition    = "position"
	KindRequirement = "requirement"
	KindTask        = "task"
)

//go:embed default_manifest.yaml
var defaultManifest []byte

// DefaultManifest returns the embedded manifest used when PIPELINE_MANIFEST is not set.
func DefaultManifest() (registry.Manifest, error) {
	return registry.ParseManifest(defaultManifest)
}

// DefaultManifestYAML returns a copy of the embedded manifest source.
func DefaultManifestYAML() []byte {
	return append([]byte(nil), defaultManifest...)
}

type Deps struct {
	Storage  ports.ObjectStorage
	Parsers  map[domain.ArtifactFormat]ports.Parser
	Reasoner ports.ReasoningProvider
	Currency string
	Logger   *slog.Logger
}

// Catalog binds the built-in entry points to their implementations.
func Catalog(deps Deps) registry.Catalog {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	currency := deps.Currency
	if currency == "" {
		currency = "RUB"
	}
	return registry.Catalog{
		EntryParse:     &ParseStage{storage: deps.Storage, parsers: deps.Parsers, logger: logger},
		EntryPositions: &PositionsStage{currency: currency},
		EntrySpecs:     &SpecsStage{reasoner: deps.Reasoner, batchBytes: defaultBatchBytes},
		EntryPlan:      &PlanStage{reasoner: deps.Reasoner},
	}
}
