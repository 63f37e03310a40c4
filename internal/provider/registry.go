// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"mdsaad/internal/config"
)

// CircuitResetter closes a provider's circuit on demand; the breaker
// satisfies it. The indirection keeps this package free of breaker state.
type CircuitResetter interface {
	Reset(id string)
}

// Registry holds the provider table. Reads dominate writes by far; the
// only mutations are SetEnabled flips from the CLI.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*Provider
	resetter CircuitResetter
	log      *logrus.Logger
}

// NewRegistry builds a registry over an explicit provider slice. Most
// callers want FromConfig; tests use this directly.
func NewRegistry(providers []Provider, resetter CircuitResetter, log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.New()
	}
	byID := make(map[string]*Provider, len(providers))
	for i := range providers {
		p := providers[i]
		byID[p.ID] = &p
	}
	return &Registry{byID: byID, resetter: resetter, log: log}
}

// FromConfig merges the built-in provider table with the user's
// credentials and per-provider overrides.
func FromConfig(cfg *config.Config, resetter CircuitResetter, log *logrus.Logger) *Registry {
	providers := Builtins()
	configured := 0
	for i := range providers {
		p := &providers[i]
		if key, ok := cfg.APIKeys[p.ID]; ok {
			p.Credential = key
		}
		if ov, ok := cfg.Providers[p.ID]; ok {
			if ov.BaseURL != "" {
				p.BaseURL = ov.BaseURL
			}
			if ov.Priority != nil {
				p.Priority = *ov.Priority
			}
			if ov.Enabled != nil {
				p.Enabled = *ov.Enabled
			}
		}
		if p.Enabled && p.Configured() {
			configured++
		}
	}
	r := NewRegistry(providers, resetter, log)
	r.log.WithFields(logrus.Fields{
		"providers":  len(providers),
		"configured": configured,
	}).Debug("provider registry ready")
	return r
}

// Get returns a snapshot of one provider.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return Provider{}, false
	}
	return *p, true
}

// All returns every provider, ordered by priority then ID.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, *p)
	}
	sortProviders(out)
	return out
}

// ListByCapability returns the providers that serve a capability, ordered
// by priority then ID. The order is the failover order; callers filter
// for enabled and configured themselves so they can report why a
// provider was skipped.
func (r *Registry) ListByCapability(c Capability) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Provider
	for _, p := range r.byID {
		if p.Supports(c) {
			out = append(out, *p)
		}
	}
	sortProviders(out)
	return out
}

// SetEnabled flips a provider on or off for this process.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("provider: unknown provider %q", id)
	}
	if p.Enabled != enabled {
		p.Enabled = enabled
		r.log.WithFields(logrus.Fields{
			"provider": id,
			"enabled":  enabled,
		}).Info("provider toggled")
	}
	return nil
}

// ResetCircuit closes the provider's circuit so the next call tries it
// immediately.
func (r *Registry) ResetCircuit(id string) error {
	r.mu.RLock()
	_, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("provider: unknown provider %q", id)
	}
	if r.resetter != nil {
		r.resetter.Reset(id)
	}
	return nil
}

// ProviderForModel finds the provider that owns a model name, checking
// alias keys first, then default models, then fully qualified alias
// targets. Providers are scanned in failover order so a name shared by
// several providers resolves to the one that would be tried first.
func (r *Registry) ProviderForModel(model string) (string, bool) {
	if model == "" {
		return "", false
	}
	for _, p := range r.ListByCapability(CapChat) {
		if _, ok := p.ModelAliases[model]; ok {
			return p.ID, true
		}
	}
	for _, p := range r.ListByCapability(CapChat) {
		if p.DefaultModel == model {
			return p.ID, true
		}
		for _, full := range p.ModelAliases {
			if full == model {
				return p.ID, true
			}
		}
	}
	return "", false
}

func sortProviders(list []Provider) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority < list[j].Priority
		}
		return list[i].ID < list[j].ID
	})
}
