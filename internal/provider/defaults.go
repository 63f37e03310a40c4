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
	"time"

	"mdsaad/internal/ratelimit"
)

const (
	chatTimeout  = 60 * time.Second
	fetchTimeout = 30 * time.Second
)

// Builtins returns the provider table the registry starts from. Priorities
// order failover within a capability (lower first); config.json overrides
// can repoint, reprioritize or disable any entry. Rate limits reflect the
// public free tiers, deliberately under the advertised numbers.
func Builtins() []Provider {
	return []Provider{
		{
			ID:           "openrouter",
			AdapterID:    AdapterOpenAIChat,
			BaseURL:      "https://openrouter.ai/api/v1",
			EnvKey:       "OPENROUTER_API_KEY",
			Capabilities: []Capability{CapChat},
			Priority:     1,
			Enabled:      true,
			DefaultModel: "meta-llama/llama-3.3-70b-instruct:free",
			ModelAliases: map[string]string{
				"llama":        "meta-llama/llama-3.3-70b-instruct:free",
				"deepseek":     "deepseek/deepseek-chat-v3-0324:free",
				"gemini-flash": "google/gemini-2.0-flash-exp:free",
				"qwen":         "qwen/qwen-2.5-72b-instruct:free",
			},
			Timeout:   chatTimeout,
			RateLimit: ratelimit.Spec{Requests: 50, Window: time.Hour, Burst: 3},
		},
		{
			ID:           "groq",
			AdapterID:    AdapterOpenAIChat,
			BaseURL:      "https://api.groq.com/openai/v1",
			EnvKey:       "GROQ_API_KEY",
			Capabilities: []Capability{CapChat},
			Priority:     2,
			Enabled:      true,
			DefaultModel: "llama-3.3-70b-versatile",
			ModelAliases: map[string]string{
				"llama":    "llama-3.3-70b-versatile",
				"llama-8b": "llama-3.1-8b-instant",
				"gemma":    "gemma2-9b-it",
			},
			Timeout:   chatTimeout,
			RateLimit: ratelimit.Spec{Requests: 30, Window: time.Minute, Burst: 5},
		},
		{
			ID:           "deepseek",
			AdapterID:    AdapterOpenAIChat,
			BaseURL:      "https://api.deepseek.com/v1",
			EnvKey:       "DEEPSEEK_API_KEY",
			Capabilities: []Capability{CapChat},
			Priority:     3,
			Enabled:      true,
			DefaultModel: "deepseek-chat",
			ModelAliases: map[string]string{
				"chat":     "deepseek-chat",
				"reasoner": "deepseek-reasoner",
			},
			Timeout:   chatTimeout,
			RateLimit: ratelimit.Spec{Requests: 60, Window: time.Minute, Burst: 10},
		},
		{
			ID:           "gemini",
			AdapterID:    AdapterGoogleChat,
			BaseURL:      "https://generativelanguage.googleapis.com/v1beta",
			EnvKey:       "GEMINI_API_KEY",
			Capabilities: []Capability{CapChat},
			Priority:     4,
			Enabled:      true,
			DefaultModel: "gemini-1.5-flash",
			ModelAliases: map[string]string{
				"flash": "gemini-1.5-flash",
				"pro":   "gemini-1.5-pro",
			},
			KeyInURL:  true,
			Timeout:   chatTimeout,
			RateLimit: ratelimit.Spec{Requests: 15, Window: time.Minute, Burst: 2},
		},
		{
			ID:           "weatherapi",
			AdapterID:    AdapterWeatherAPI,
			BaseURL:      "https://api.weatherapi.com/v1",
			EnvKey:       "WEATHERAPI_KEY",
			Capabilities: []Capability{CapWeatherCurrent, CapWeatherForecast},
			Priority:     1,
			Enabled:      true,
			KeyInURL:     true,
			Timeout:      fetchTimeout,
			RateLimit:    ratelimit.Spec{Requests: 90, Window: time.Hour, Burst: 10},
		},
		{
			ID:        "openweathermap",
			AdapterID: AdapterOpenWeatherMap,
			BaseURL:   "https://api.openweathermap.org",
			EnvKey:    "OPENWEATHERMAP_KEY",
			Capabilities: []Capability{
				CapWeatherCurrent, CapWeatherForecast, CapGeocoding,
			},
			Priority:  2,
			Enabled:   true,
			KeyInURL:  true,
			Timeout:   fetchTimeout,
			RateLimit: ratelimit.Spec{Requests: 50, Window: time.Minute, Burst: 10},
		},
		{
			ID:           "open-er-api",
			AdapterID:    AdapterOpenERAPI,
			BaseURL:      "https://open.er-api.com/v6",
			Keyless:      true,
			Capabilities: []Capability{CapExchangeRate},
			Priority:     1,
			Enabled:      true,
			Timeout:      fetchTimeout,
			RateLimit:    ratelimit.Spec{Requests: 30, Window: time.Hour, Burst: 5},
		},
		{
			ID:        "frankfurter",
			AdapterID: AdapterFrankfurter,
			BaseURL:   "https://api.frankfurter.app",
			Keyless:   true,
			Capabilities: []Capability{
				CapExchangeRate, CapExchangeHistory,
			},
			Priority:  2,
			Enabled:   true,
			Timeout:   fetchTimeout,
			RateLimit: ratelimit.Spec{Requests: 60, Window: time.Hour, Burst: 10},
		},
		{
			ID:           "open-meteo",
			AdapterID:    AdapterOpenMeteoGeo,
			BaseURL:      "https://geocoding-api.open-meteo.com",
			Keyless:      true,
			Capabilities: []Capability{CapGeocoding},
			Priority:     1,
			Enabled:      true,
			Timeout:      fetchTimeout,
			RateLimit:    ratelimit.Spec{Requests: 60, Window: time.Hour, Burst: 10},
		},
		{
			ID:           "ipapi-co",
			AdapterID:    AdapterIPAPI,
			BaseURL:      "https://ipapi.co",
			Keyless:      true,
			Capabilities: []Capability{CapGeolocate},
			Priority:     1,
			Enabled:      true,
			Timeout:      fetchTimeout,
			RateLimit:    ratelimit.Spec{Requests: 20, Window: time.Hour, Burst: 3},
		},
	}
}
