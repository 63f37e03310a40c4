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

// Package provider models upstream services and normalizes their wire
// formats. A Provider is plain configuration: which adapter speaks its
// dialect, where it lives, how it is keyed and limited. The adapter
// functions (adapters.go and friends) are pure: request formatting and
// response parsing are selected by AdapterID, never bound to provider
// instances, so they test without any setup.
package provider

import (
	"strings"
	"time"

	"mdsaad/internal/breaker"
	"mdsaad/internal/ratelimit"
)

// Capability names an operation family a provider can serve.
type Capability string

const (
	CapChat            Capability = "chat"
	CapWeatherCurrent  Capability = "weather_current"
	CapWeatherForecast Capability = "weather_forecast"
	CapExchangeRate    Capability = "exchange_rate"
	CapExchangeHistory Capability = "exchange_history"
	CapGeocoding       Capability = "geocoding"
	CapGeolocate       Capability = "geolocate"
)

// Provider describes one upstream service. Values handed out by the
// Registry are snapshots; treat the maps and slices as read-only.
type Provider struct {
	ID           string
	AdapterID    AdapterID
	BaseURL      string
	EnvKey       string // environment variable consulted for the credential
	Credential   string // resolved key; empty when unconfigured
	Keyless      bool   // service needs no credential at all
	Capabilities []Capability
	Priority     int // lower dispatches first
	Enabled      bool
	DefaultModel string
	ModelAliases map[string]string
	KeyInURL     bool // credential travels as a query parameter, not a bearer header
	Timeout      time.Duration
	RateLimit    ratelimit.Spec
	Circuit      breaker.Spec
}

// Configured reports whether the provider can actually be called. A
// credential that still contains the YOUR_ placeholder from a config
// template counts as unconfigured.
func (p Provider) Configured() bool {
	if p.Keyless {
		return true
	}
	cred := strings.TrimSpace(p.Credential)
	return cred != "" && !strings.Contains(cred, "YOUR_")
}

// Supports reports whether the provider serves the capability.
func (p Provider) Supports(c Capability) bool {
	for _, have := range p.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// ResolveModel maps a requested model through the provider's alias table.
// Empty input selects the provider default; unknown names pass through
// unchanged so fully qualified upstream IDs keep working.
func (p Provider) ResolveModel(requested string) string {
	if requested == "" {
		return p.DefaultModel
	}
	if full, ok := p.ModelAliases[requested]; ok {
		return full
	}
	return requested
}
