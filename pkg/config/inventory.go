package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// InventoryLoader resolves targets from YAML, CUE, and Starlark sources.
type InventoryLoader struct {
	parser *CUEParser
	script *StarlarkInventory
}

// NewInventoryLoader creates an inventory loader sharing the given
// parser's CUE context and validator.
func NewInventoryLoader(parser *CUEParser) *InventoryLoader {
	if parser == nil {
		parser = NewCUEParser()
	}
	return &InventoryLoader{
		parser: parser,
		script: NewStarlarkInventory(0),
	}
}

// Load resolves the full inventory: inline targets from capstan.cue
// first, then every configured source in order. Duplicate target names
// across sources are an error.
func (il *InventoryLoader) Load(ctx context.Context, inline []TargetSpec, sources []string) (*Inventory, error) {
	inv := &Inventory{}
	seen := make(map[string]string)

	add := func(origin string, targets []TargetSpec) error {
		for _, ts := range targets {
			if prev, ok := seen[ts.Name]; ok {
				return fmt.Errorf("duplicate target %q in %s (already defined in %s)", ts.Name, origin, prev)
			}
			seen[ts.Name] = origin
			inv.Targets = append(inv.Targets, ts)
		}
		return nil
	}

	if err := add("capstan.cue", inline); err != nil {
		return nil, err
	}

	for _, source := range sources {
		targets, err := il.LoadSource(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("failed to load inventory source %s: %w", source, err)
		}
		if err := add(source, targets); err != nil {
			return nil, err
		}
	}

	return inv, nil
}

// LoadSource loads targets from a single inventory file, dispatching on
// the file extension.
func (il *InventoryLoader) LoadSource(ctx context.Context, path string) ([]TargetSpec, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return il.loadYAML(path)
	case ".cue":
		return il.loadCUE(ctx, path)
	case ".star":
		return il.loadStarlark(ctx, path)
	default:
		return nil, fmt.Errorf("unsupported inventory format: %s", path)
	}
}

// loadYAML loads a static YAML inventory.
func (il *InventoryLoader) loadYAML(path string) ([]TargetSpec, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}

	var inv Inventory
	if err := yaml.Unmarshal(content, &inv); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}

	for i := range inv.Targets {
		if err := il.parser.validator.Struct(inv.Targets[i]); err != nil {
			return nil, fmt.Errorf("target %q: %w", inv.Targets[i].Name, err)
		}
	}
	return inv.Targets, nil
}

// loadCUE loads targets from a CUE inventory file.
func (il *InventoryLoader) loadCUE(ctx context.Context, path string) ([]TargetSpec, error) {
	pc, err := il.parser.Parse(ctx, []string{path})
	if err != nil {
		return nil, err
	}
	if err := pc.Err(); err != nil {
		return nil, err
	}
	return pc.Targets, nil
}

// loadStarlark runs a dynamic inventory script and validates the specs
// it produced.
func (il *InventoryLoader) loadStarlark(ctx context.Context, path string) ([]TargetSpec, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory script: %w", err)
	}

	targets, err := il.script.Targets(ctx, filepath.Base(path), string(content), nil)
	if err != nil {
		return nil, err
	}

	for i := range targets {
		if err := il.parser.validator.Struct(targets[i]); err != nil {
			return nil, fmt.Errorf("targets[%d] (%s): %w", i, targets[i].Name, err)
		}
	}
	return targets, nil
}
