// Package flags provides per-territory feature flag sources. Flags gate
// features per territory; they never replace access checks and default to
// disabled when unknown.
package flags

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// StaticProvider is an in-memory flag source with per-territory overrides
// over a set of defaults.
type StaticProvider struct {
	mu        sync.RWMutex
	defaults  map[string]bool
	overrides map[string]map[string]bool
}

// NewStaticProvider creates a provider with the given default flag values.
func NewStaticProvider(defaults map[string]bool) *StaticProvider {
	copied := make(map[string]bool, len(defaults))
	for flag, value := range defaults {
		copied[flag] = value
	}
	return &StaticProvider{
		defaults:  copied,
		overrides: make(map[string]map[string]bool),
	}
}

// Enabled reports whether the flag is on for the territory. A territory
// override wins over the default; an unknown flag is off.
func (p *StaticProvider) Enabled(ctx context.Context, territoryID, flag string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if territory, ok := p.overrides[territoryID]; ok {
		if value, ok := territory[flag]; ok {
			return value
		}
	}
	return p.defaults[flag]
}

// SetDefault sets a flag's default value.
func (p *StaticProvider) SetDefault(flag string, value bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaults[flag] = value
}

// SetOverride sets a flag's value for one territory.
func (p *StaticProvider) SetOverride(territoryID, flag string, value bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.overrides[territoryID] == nil {
		p.overrides[territoryID] = make(map[string]bool)
	}
	p.overrides[territoryID][flag] = value
}

// fileSchema is the YAML shape of a flag file:
//
//	defaults:
//	  marketplace_enabled: true
//	territories:
//	  territory-1:
//	    marketplace_enabled: false
type fileSchema struct {
	Defaults    map[string]bool            `yaml:"defaults"`
	Territories map[string]map[string]bool `yaml:"territories"`
}

// LoadFile builds a StaticProvider from a YAML flag file.
func LoadFile(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flag file: %w", err)
	}

	var schema fileSchema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse flag file: %w", err)
	}

	provider := NewStaticProvider(schema.Defaults)
	for territoryID, territoryFlags := range schema.Territories {
		for flag, value := range territoryFlags {
			provider.SetOverride(territoryID, flag, value)
		}
	}
	return provider, nil
}
