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

// Package clock is the single time source for the request fabric. Rate
// windows, circuit timers and cache TTLs all measure elapsed time through a
// Clock value, so a wall-clock step (NTP, DST) can never reopen a window or
// extend a TTL, and tests can drive time deterministically.
package clock

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Clock abstracts the process time source.
//
// Now returns an instant carrying Go's monotonic reading; values from the
// same Clock are safe for elapsed-time arithmetic. WallNow returns UTC wall
// time and is only used for display and persisted timestamps.
type Clock interface {
	Now() time.Time
	WallNow() time.Time
}

// System is the production Clock backed by the runtime clock.
type System struct{}

func (System) Now() time.Time     { return time.Now() }
func (System) WallNow() time.Time { return time.Now().UTC() }

// Fake is a manually advanced Clock for tests. The zero value starts at the
// Unix epoch; use NewFake to pick a starting instant.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock pinned to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) WallNow() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now.UTC()
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

const (
	idPrefix      = "req_"
	idSuffixLen   = 6
	idSuffixSpace = 36 * 36 * 36 * 36 * 36 * 36 // base36^6
)

// idCounter feeds NewRequestID. Seeded from crypto/rand once so concurrent
// processes do not walk the same sequence.
var idCounter atomic.Uint64

func init() {
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err == nil {
		idCounter.Store(binary.LittleEndian.Uint64(seed[:]))
	}
}

// NewRequestID returns an identifier of the form req_<unix_ms>_<suffix>
// where suffix is six lowercase base36 characters drawn from an atomic
// counter. The millisecond prefix disambiguates counter wraps, so IDs are
// unique within the process.
func NewRequestID(c Clock) string {
	n := idCounter.Add(1) % idSuffixSpace
	suffix := strconv.FormatUint(n, 36)
	for len(suffix) < idSuffixLen {
		suffix = "0" + suffix
	}
	return idPrefix + strconv.FormatInt(c.WallNow().UnixMilli(), 10) + "_" + suffix
}
