package registry

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/construction-pipeline/internal/core/contract"
	"github.com/kirillkom/construction-pipeline/internal/core/domain"
)

// Manifest is the on-disk module manifest.
type Manifest struct {
	Version     int               `yaml:"version"`
	FailFast    bool              `yaml:"fail_fast"`
	MaxParallel int               `yaml:"max_parallel"`
	Knowledge   []string          `yaml:"knowledge"`
	Contracts   []contract.Schema `yaml:"contracts"`
	Modules     []ModuleEntry     `yaml:"modules"`
	Aggregates  []AggregateEntry  `yaml:"aggregates"`
}

type ModuleEntry struct {
	Name           string   `yaml:"name"`
	Enabled        *bool    `yaml:"enabled"`
	Entry          string   `yaml:"entry"`
	InputContract  string   `yaml:"input_contract"`
	OutputContract string   `yaml:"output_contract"`
	OutputKey      string   `yaml:"output_key"`
	DependsOn      []string `yaml:"depends_on"`
	Capabilities   []string `yaml:"capabilities"`
	Timeout        string   `yaml:"timeout"`
}

type AggregateEntry struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	Kind   string `yaml:"kind"`
	Field  string `yaml:"field"`
	Unit   string `yaml:"unit"`
	Policy string `yaml:"null_policy"`
}

// ParseManifest decodes a YAML manifest. Unknown keys are rejected so typos fail at startup.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return Manifest{}, &domain.RegistryError{Reason: fmt.Sprintf("decode manifest: %v", err)}
	}
	return m, nil
}

// ReadManifest reads and decodes the manifest file at path.
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, &domain.RegistryError{Reason: fmt.Sprintf("read manifest %s: %v", path, err)}
	}
	return ParseManifest(data)
}

// Marshal encodes the manifest back to YAML.
func (m Manifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

// SetEnabled toggles one module by name and reports whether it was found.
func (m *Manifest) SetEnabled(name string, enabled bool) bool {
	for i := range m.Modules {
		if m.Modules[i].Name == name {
			v := enabled
			m.Modules[i].Enabled = &v
			return true
		}
	}
	return false
}
