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

// Package ratelimit implements client-side admission control: a sliding
// window per (provider, endpoint) with an optional per-second burst
// sub-limit. One Limiter instance owns every window in the process;
// providers carry only their limits, passed in on each Admit call.
package ratelimit

import (
	"sort"
	"sync"
	"time"

	"mdsaad/internal/clock"
	"mdsaad/internal/telemetry"
)

// Spec is a provider's rate-limit configuration. Zero values disable the
// corresponding check: Requests==0 means no window limit, Burst==0 means no
// burst limit.
type Spec struct {
	Requests int           // admissions allowed per Window
	Window   time.Duration // sliding window length
	Burst    int           // admissions allowed per second
}

// Reason tells a denied caller which limit it hit.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonWindowFull
	ReasonBurstFull
	ReasonBlocked // upstream 429 set a block on this window
)

func (r Reason) String() string {
	switch r {
	case ReasonWindowFull:
		return "window_full"
	case ReasonBurstFull:
		return "burst_full"
	case ReasonBlocked:
		return "blocked"
	default:
		return "none"
	}
}

// Decision is the admission verdict. When OK is false, RetryAfter is a
// positive hint: the time until the oldest relevant admission leaves the
// window (or until the upstream block expires).
type Decision struct {
	OK         bool
	RetryAfter time.Duration
	Reason     Reason
}

type windowKey struct {
	provider string
	endpoint string
}

// window holds admission timestamps for one (provider, endpoint) pair.
// Timestamps are monotonic instants from the shared Clock, oldest first.
type window struct {
	mu           sync.Mutex
	stamps       []time.Time
	blockedUntil time.Time
	lastSpec     Spec // most recent limits seen, for snapshots
}

// Limiter owns all rate windows. Safe for concurrent use.
type Limiter struct {
	clk     clock.Clock
	windows sync.Map // windowKey -> *window
}

// New returns a Limiter that measures time through clk.
func New(clk clock.Clock) *Limiter {
	return &Limiter{clk: clk}
}

// getOrCreate returns the window for key, allocating only on first use.
// Fast path is a plain Load so steady-state admission does not allocate.
func (l *Limiter) getOrCreate(key windowKey) *window {
	if actual, ok := l.windows.Load(key); ok {
		return actual.(*window)
	}
	w := &window{}
	if actual, loaded := l.windows.LoadOrStore(key, w); loaded {
		return actual.(*window)
	}
	return w
}

// Admit checks whether one more request to (provider, endpoint) is allowed
// under spec and, if so, records the admission atomically under the window
// lock. A denial never consumes capacity.
func (l *Limiter) Admit(provider, endpoint string, spec Spec) Decision {
	now := l.clk.Now()
	w := l.getOrCreate(windowKey{provider, endpoint})

	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSpec = spec

	if w.blockedUntil.After(now) {
		d := Decision{RetryAfter: w.blockedUntil.Sub(now), Reason: ReasonBlocked}
		telemetry.RecordRateDenial(d.Reason.String())
		return d
	}

	w.prune(now, spec.Window)

	if spec.Requests > 0 && len(w.stamps) >= spec.Requests {
		retry := w.stamps[0].Add(spec.Window).Sub(now)
		if retry <= 0 {
			retry = time.Millisecond
		}
		d := Decision{RetryAfter: retry, Reason: ReasonWindowFull}
		telemetry.RecordRateDenial(d.Reason.String())
		return d
	}

	if spec.Burst > 0 {
		// A stamp at exactly now-1s has left the burst horizon.
		cutoff := now.Add(-time.Second)
		first := -1
		count := 0
		for i := len(w.stamps) - 1; i >= 0; i-- {
			if !w.stamps[i].After(cutoff) {
				break
			}
			count++
			first = i
		}
		if count >= spec.Burst {
			retry := w.stamps[first].Add(time.Second).Sub(now)
			if retry <= 0 {
				retry = time.Millisecond
			}
			d := Decision{RetryAfter: retry, Reason: ReasonBurstFull}
			telemetry.RecordRateDenial(d.Reason.String())
			return d
		}
	}

	w.stamps = append(w.stamps, now)
	return Decision{OK: true}
}

// SetBlockedUntil marks a window blocked after an upstream 429. Admissions
// are denied until the block expires. A shorter block never shortens an
// existing one.
func (l *Limiter) SetBlockedUntil(provider, endpoint string, until time.Time) {
	w := l.getOrCreate(windowKey{provider, endpoint})
	w.mu.Lock()
	if until.After(w.blockedUntil) {
		w.blockedUntil = until
	}
	w.mu.Unlock()
}

// prune drops stamps that left the sliding window. A stamp at exactly
// now-window is outside: retry_after hints promise admission once the
// oldest admission ages out, so the boundary must count as gone. With the
// window check disabled (windowLen==0) stamps older than one second are
// still dropped so the burst check has bounded state.
func (w *window) prune(now time.Time, windowLen time.Duration) {
	horizon := windowLen
	if horizon <= 0 {
		horizon = time.Second
	}
	cutoff := now.Add(-horizon)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// WindowStat is a quota-view row for one (provider, endpoint) window.
type WindowStat struct {
	Provider     string
	Endpoint     string
	Used         int
	Limit        int
	Window       time.Duration
	BurstLimit   int
	BlockedFor   time.Duration // zero when not blocked
}

// Snapshot reports current usage per window, sorted by provider then
// endpoint for stable output.
func (l *Limiter) Snapshot() []WindowStat {
	now := l.clk.Now()
	var out []WindowStat
	l.windows.Range(func(k, v interface{}) bool {
		key := k.(windowKey)
		w := v.(*window)
		w.mu.Lock()
		w.prune(now, w.lastSpec.Window)
		stat := WindowStat{
			Provider:   key.provider,
			Endpoint:   key.endpoint,
			Used:       len(w.stamps),
			Limit:      w.lastSpec.Requests,
			Window:     w.lastSpec.Window,
			BurstLimit: w.lastSpec.Burst,
		}
		if w.blockedUntil.After(now) {
			stat.BlockedFor = w.blockedUntil.Sub(now)
		}
		w.mu.Unlock()
		out = append(out, stat)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Endpoint < out[j].Endpoint
	})
	return out
}
