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

package secure

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"

	"mdsaad/internal/clock"
)

// SignatureHeader carries the optional HMAC request signature.
const SignatureHeader = "X-Request-Signature"

// Signer adds X-Request-Signature: <unix_ms>.<hex(hmac-sha256)> over a
// canonical digest of the outgoing request. Signing is a no-op until a
// per-install secret is provisioned (signing.secret in config.json);
// providers that don't verify it simply ignore the header.
type Signer struct {
	secret []byte
	clk    clock.Clock
}

// NewSigner builds a Signer. An empty secret yields a disabled signer.
func NewSigner(secret string, clk clock.Clock) *Signer {
	s := &Signer{clk: clk}
	if secret != "" {
		s.secret = []byte(secret)
	}
	return s
}

// Enabled reports whether a secret is provisioned.
func (s *Signer) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Sign stamps the signature header. The MAC covers the timestamp, method,
// URL and a SHA-256 of the body, newline separated, so a verifier can
// reconstruct it without buffering order-sensitive header state.
func (s *Signer) Sign(h http.Header, method, rawURL string, body []byte) {
	if !s.Enabled() {
		return
	}
	ts := strconv.FormatInt(s.clk.WallNow().UnixMilli(), 10)

	bodySum := sha256.Sum256(body)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(method))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(rawURL))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(hex.EncodeToString(bodySum[:])))

	h.Set(SignatureHeader, ts+"."+hex.EncodeToString(mac.Sum(nil)))
}
