package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// LoadManifest reads a capability manifest from a YAML file.
func LoadManifest(path string) (*Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(content)
}

// ParseManifest parses and validates YAML manifest content.
func ParseManifest(content []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(content, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if err := validator.New().Struct(m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	for i := range m.Capabilities {
		if m.Capabilities[i].Targets.Empty() {
			return nil, fmt.Errorf("capability %q selects no targets", m.Capabilities[i].Capability)
		}
	}

	return &m, nil
}
