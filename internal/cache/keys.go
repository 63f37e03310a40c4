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

package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
)

// keyHexLen is the truncated hex length of cache keys; 64 bits of SHA-256
// is plenty at CLI scale and keeps filenames short.
const keyHexLen = 16

// Key derives the cache key for a namespace and its key components: the
// first 16 hex characters of SHA-256 over the namespace and the
// length-prefixed components. Length prefixes make the encoding
// unambiguous no matter what bytes the components contain.
func Key(ns string, parts []string) string {
	h := sha256.New()
	io.WriteString(h, ns)
	var lenBuf [binary.MaxVarintLen64]byte
	for _, p := range parts {
		n := binary.PutUvarint(lenBuf[:], uint64(len(p)))
		h.Write(lenBuf[:n])
		io.WriteString(h, p)
	}
	return hex.EncodeToString(h.Sum(nil))[:keyHexLen]
}
