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
	"encoding/json"
	"regexp"
	"strings"
)

var (
	scriptRe   = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	jsSchemeRe = regexp.MustCompile(`(?i)javascript\s*:`)
	onAttrRe   = regexp.MustCompile(`(?i)\bon\w+\s*=`)
)

// CleanString removes executable content from a string: script blocks,
// javascript: scheme prefixes and inline on<event>= handlers.
func CleanString(s string) string {
	s = scriptRe.ReplaceAllString(s, "")
	s = jsSchemeRe.ReplaceAllString(s, "")
	s = onAttrRe.ReplaceAllString(s, "")
	return s
}

// SanitizeJSON walks a JSON document, dropping object keys that smell like
// prototype pollution (containing "__" or "prototype"/"constructor") and
// cleaning every string value. Non-JSON input is returned unchanged; the
// caller decides whether that is an error.
func SanitizeJSON(raw []byte) []byte {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw
	}
	cleaned := sanitizeValue(doc)
	out, err := json.Marshal(cleaned)
	if err != nil {
		return raw
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if dangerousKey(k) {
				continue
			}
			out[k] = sanitizeValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = sanitizeValue(val)
		}
		return out
	case string:
		return CleanString(t)
	default:
		return v
	}
}

func dangerousKey(k string) bool {
	lower := strings.ToLower(k)
	return strings.Contains(lower, "__") ||
		strings.Contains(lower, "prototype") ||
		strings.Contains(lower, "constructor")
}
