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

// Package config resolves the effective configuration from three layers:
// built-in defaults, the user's $HOME/.mdsaad/config.json, and environment
// variables, each later layer overriding the previous key by key. The result
// is a plain value struct; nothing in this package talks to the network.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// FileName is the user config file under the config directory.
	FileName = "config.json"

	// DefaultCacheMaxBytes caps the response cache payload bytes.
	DefaultCacheMaxBytes = 50 << 20

	// DefaultHistoryLimit is the conversation buffer cap per session.
	DefaultHistoryLimit = 50
)

// defaultProxyURLs is the ordered hosted proxy endpoint list, primary first.
// MDSAAD_PROXY_URL or config.json proxyUrl replaces the primary entry.
var defaultProxyURLs = []string{
	"https://proxy.mdsaad.dev",
	"https://mdsaad-proxy.fly.dev",
}

// providerKeyEnv maps provider IDs to the environment variable consulted for
// their credential. Environment values override config-file apiKeys.
var providerKeyEnv = map[string]string{
	"openrouter":     "OPENROUTER_API_KEY",
	"groq":           "GROQ_API_KEY",
	"deepseek":       "DEEPSEEK_API_KEY",
	"gemini":         "GEMINI_API_KEY",
	"weatherapi":     "WEATHERAPI_KEY",
	"openweathermap": "OPENWEATHERMAP_KEY",
}

// ProviderOverride is the per-provider slice of config.json users may set to
// repoint or reprioritize a built-in provider (self-hosted gateways, paid
// tiers, disabling a provider they don't want tried).
type ProviderOverride struct {
	BaseURL  string `json:"baseUrl,omitempty"`
	Priority *int   `json:"priority,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
}

// Config is the effective merged configuration.
type Config struct {
	Dir      string // config root, usually $HOME/.mdsaad
	Language string

	UseProxy  bool
	ProxyURLs []string // ordered, primary first

	APIKeys   map[string]string // provider id -> credential
	Providers map[string]ProviderOverride

	CacheBackend  string // file | redis | none
	CacheDir      string
	RedisAddr     string
	CacheMaxBytes int64

	SigningSecret    string
	ConvertFavorites []string
	HistoryLimit     int

	Debug           bool
	NoColor         bool
	SkipUpdateCheck bool
}

// fileConfig is the on-disk shape. Pointers distinguish "absent" from zero
// so the file only overrides what it actually sets.
type fileConfig struct {
	Language *string           `json:"language,omitempty"`
	ProxyURL *string           `json:"proxyUrl,omitempty"`
	UseProxy *bool             `json:"useProxy,omitempty"`
	APIKeys  map[string]string `json:"apiKeys,omitempty"`

	Cache *struct {
		Backend   *string `json:"backend,omitempty"`
		RedisAddr *string `json:"redisAddr,omitempty"`
		MaxBytes  *int64  `json:"maxBytes,omitempty"`
	} `json:"cache,omitempty"`

	Signing *struct {
		Secret *string `json:"secret,omitempty"`
	} `json:"signing,omitempty"`

	Convert *struct {
		Favorites []string `json:"favorites,omitempty"`
	} `json:"convert,omitempty"`

	History *struct {
		Limit *int `json:"limit,omitempty"`
	} `json:"history,omitempty"`

	Providers map[string]ProviderOverride `json:"providers,omitempty"`
}

// Default returns the built-in configuration rooted at dir.
func Default(dir string) *Config {
	return &Config{
		Dir:           dir,
		Language:      "en",
		UseProxy:      true,
		ProxyURLs:     append([]string(nil), defaultProxyURLs...),
		APIKeys:       make(map[string]string),
		Providers:     make(map[string]ProviderOverride),
		CacheBackend:  "file",
		CacheDir:      filepath.Join(dir, "cache"),
		CacheMaxBytes: DefaultCacheMaxBytes,
		ConvertFavorites: []string{
			"EUR", "GBP", "JPY", "CAD", "AUD", "CHF", "CNY", "INR",
		},
		HistoryLimit: DefaultHistoryLimit,
	}
}

// Dir returns the config root: $MDSAAD_HOME if set, else $HOME/.mdsaad.
// MDSAAD_HOME exists so tests and scripts can run against a scratch root.
func Dir() (string, error) {
	if dir := os.Getenv("MDSAAD_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".mdsaad"), nil
}

// Load resolves the effective configuration: defaults, then config.json,
// then environment variables. A missing config file is not an error; a
// malformed one is, so a typo never silently reverts the user to defaults.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	cfg := Default(dir)

	if err := cfg.applyFile(filepath.Join(dir, FileName)); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var fc fileConfig
	if err := json.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if fc.Language != nil {
		c.Language = *fc.Language
	}
	if fc.ProxyURL != nil && *fc.ProxyURL != "" {
		c.ProxyURLs[0] = *fc.ProxyURL
	}
	if fc.UseProxy != nil {
		c.UseProxy = *fc.UseProxy
	}
	for id, key := range fc.APIKeys {
		c.APIKeys[id] = key
	}
	if fc.Cache != nil {
		if fc.Cache.Backend != nil {
			c.CacheBackend = *fc.Cache.Backend
		}
		if fc.Cache.RedisAddr != nil {
			c.RedisAddr = *fc.Cache.RedisAddr
		}
		if fc.Cache.MaxBytes != nil && *fc.Cache.MaxBytes > 0 {
			c.CacheMaxBytes = *fc.Cache.MaxBytes
		}
	}
	if fc.Signing != nil && fc.Signing.Secret != nil {
		c.SigningSecret = *fc.Signing.Secret
	}
	if fc.Convert != nil && fc.Convert.Favorites != nil {
		c.ConvertFavorites = append([]string(nil), fc.Convert.Favorites...)
	}
	if fc.History != nil && fc.History.Limit != nil && *fc.History.Limit > 0 {
		c.HistoryLimit = *fc.History.Limit
	}
	for id, ov := range fc.Providers {
		c.Providers[id] = ov
	}
	return nil
}

// applyEnv overlays environment variables, the highest-precedence layer.
func (c *Config) applyEnv() {
	for id, env := range providerKeyEnv {
		if v := os.Getenv(env); v != "" {
			c.APIKeys[id] = v
		}
	}
	if v := os.Getenv("MDSAAD_PROXY_URL"); v != "" {
		c.ProxyURLs[0] = v
	}
	if v, ok := os.LookupEnv("MDSAAD_USE_PROXY"); ok {
		c.UseProxy = !isFalse(v)
	}
	if _, ok := os.LookupEnv("SKIP_NETWORK_CHECK"); ok {
		c.SkipUpdateCheck = true
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		c.NoColor = true
	}
	if v, ok := os.LookupEnv("DEBUG"); ok && !isFalse(v) {
		c.Debug = true
	}
}

func isFalse(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "0", "no", "off":
		return true
	}
	return false
}

// KeyEnvVar returns the environment variable name read for a provider's
// credential, or "" when the provider has no key convention (keyless).
func KeyEnvVar(providerID string) string {
	return providerKeyEnv[providerID]
}
