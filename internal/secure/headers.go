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

// Package secure hardens every outbound request: endpoint scheme policy,
// header hygiene, response sanitization and optional request signing. The
// dispatcher and the proxy layer both route through it, so no request
// leaves the process unhardened.
package secure

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// strippedHeaders are forwarding/identity headers that must never leave
// the CLI; upstream providers have no business learning about local
// network topology.
var strippedHeaders = []string{
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
	"X-Real-Ip",
	"X-Originating-Ip",
	"Cf-Connecting-Ip",
	"Forwarded",
	"Via",
}

// Harden strips the forwarding denylist and stamps the standard outbound
// headers, User-Agent included. Accept-Encoding is deliberately left to
// the transport: Go negotiates gzip and decompresses transparently only
// while the header is unset.
func Harden(h http.Header, version string) {
	for _, name := range strippedHeaders {
		h.Del(name)
	}
	h.Set("User-Agent", "mdsaad-cli/"+version)
	h.Set("Accept", "application/json")
	h.Set("Connection", "keep-alive")
	h.Set("DNT", "1")
}

// Authorize sets the bearer credential. Providers that carry their key as
// a URL parameter (keyInURL) get no Authorization header.
func Authorize(h http.Header, credential string, keyInURL bool) {
	if credential == "" || keyInURL {
		return
	}
	h.Set("Authorization", "Bearer "+credential)
}

// ValidateEndpoint enforces the outbound scheme policy: https (wss is
// reserved for streaming transports). Plain http is tolerated only toward
// loopback, which keeps local development and tests honest without
// weakening the rule for real hosts.
func ValidateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	switch u.Scheme {
	case "https", "wss":
		return nil
	case "http":
		if isLoopback(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("refusing plaintext endpoint %q", raw)
	default:
		return fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
