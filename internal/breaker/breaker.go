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

// Package breaker implements a per-provider circuit breaker. The breaker
// counts consecutive upstream failures; callers decide what counts as a
// failure (client errors, upstream 429s and cancellations must never reach
// RecordFailure). While open, calls are denied until the cooldown elapses,
// then exactly one probe is allowed through.
package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mdsaad/internal/clock"
	"mdsaad/internal/telemetry"
)

// State is the circuit state for one provider.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Spec is a provider's circuit configuration. Zero values fall back to the
// defaults below.
type Spec struct {
	FailThreshold int           // consecutive failures before tripping
	OpenFor       time.Duration // cooldown before a probe is allowed
}

const (
	DefaultFailThreshold = 5
	DefaultOpenFor       = 30 * time.Second
)

func (s Spec) withDefaults() Spec {
	if s.FailThreshold <= 0 {
		s.FailThreshold = DefaultFailThreshold
	}
	if s.OpenFor <= 0 {
		s.OpenFor = DefaultOpenFor
	}
	return s
}

// Verdict is the admission decision for one provider attempt. Probe marks
// the single half-open trial request; the caller must report its outcome
// with RecordSuccess, RecordFailure or AbandonProbe.
type Verdict struct {
	OK       bool
	State    State
	ReopenIn time.Duration // time until the next probe when denied open
	Probe    bool
}

type circuit struct {
	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
	spec     Spec // most recent spec seen, for snapshots
}

// Breaker tracks circuit state for every provider in the process.
type Breaker struct {
	clk      clock.Clock
	log      *logrus.Logger
	circuits sync.Map // provider id -> *circuit
}

// New returns a Breaker using clk for cooldown timing.
func New(clk clock.Clock, log *logrus.Logger) *Breaker {
	return &Breaker{clk: clk, log: log}
}

func (b *Breaker) getOrCreate(id string) *circuit {
	if actual, ok := b.circuits.Load(id); ok {
		return actual.(*circuit)
	}
	c := &circuit{state: StateClosed}
	if actual, loaded := b.circuits.LoadOrStore(id, c); loaded {
		return actual.(*circuit)
	}
	return c
}

// Allow reports whether a call to the provider may proceed. When an open
// cooldown has elapsed the circuit moves to half-open and this call is
// granted as the probe; concurrent calls during the probe are denied.
func (b *Breaker) Allow(id string, spec Spec) Verdict {
	spec = spec.withDefaults()
	now := b.clk.Now()
	c := b.getOrCreate(id)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.spec = spec

	switch c.state {
	case StateClosed:
		return Verdict{OK: true, State: StateClosed}

	case StateOpen:
		reopenAt := c.openedAt.Add(spec.OpenFor)
		if now.Before(reopenAt) {
			return Verdict{State: StateOpen, ReopenIn: reopenAt.Sub(now)}
		}
		b.transition(c, id, StateHalfOpen)
		c.probing = true
		return Verdict{OK: true, State: StateHalfOpen, Probe: true}

	default: // StateHalfOpen
		if c.probing {
			return Verdict{State: StateHalfOpen}
		}
		// A previous probe was abandoned (cancelled mid-flight); let the
		// next caller take its place.
		c.probing = true
		return Verdict{OK: true, State: StateHalfOpen, Probe: true}
	}
}

// RecordSuccess reports a successful call. In half-open it closes the
// circuit; in closed it clears the consecutive-failure count.
func (b *Breaker) RecordSuccess(id string) {
	c := b.getOrCreate(id)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateHalfOpen:
		c.probing = false
		c.failures = 0
		b.transition(c, id, StateClosed)
	case StateClosed:
		c.failures = 0
	}
	// A success landing after another goroutine tripped the circuit is
	// stale evidence; the open cooldown stands.
}

// RecordFailure reports an upstream-implicated failure (5xx, network, TLS,
// timeout, malformed 2xx body). In closed it counts toward the threshold;
// a failed half-open probe reopens immediately.
func (b *Breaker) RecordFailure(id string, spec Spec) {
	spec = spec.withDefaults()
	c := b.getOrCreate(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spec = spec

	switch c.state {
	case StateClosed:
		c.failures++
		if c.failures >= spec.FailThreshold {
			c.openedAt = b.clk.Now()
			b.transition(c, id, StateOpen)
		}
	case StateHalfOpen:
		c.probing = false
		c.openedAt = b.clk.Now()
		b.transition(c, id, StateOpen)
	}
}

// AbandonProbe releases the half-open probe slot without judging the
// upstream, for probes cut short by caller cancellation. The circuit stays
// half-open so the next caller probes again.
func (b *Breaker) AbandonProbe(id string) {
	c := b.getOrCreate(id)
	c.mu.Lock()
	if c.state == StateHalfOpen {
		c.probing = false
	}
	c.mu.Unlock()
}

// Reset forces the provider's circuit closed and clears its counters.
func (b *Breaker) Reset(id string) {
	c := b.getOrCreate(id)
	c.mu.Lock()
	if c.state != StateClosed {
		b.transition(c, id, StateClosed)
	}
	c.failures = 0
	c.probing = false
	c.mu.Unlock()
}

// transition flips the circuit state and logs it. Callers hold c.mu.
func (b *Breaker) transition(c *circuit, id string, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	telemetry.RecordBreakerTransition(id, to.String())
	if b.log != nil {
		b.log.WithFields(logrus.Fields{
			"provider": id,
			"from":     from.String(),
			"to":       to.String(),
		}).Info("circuit transition")
	}
}

// CircuitStat is a quota-view row for one provider's circuit.
type CircuitStat struct {
	Provider string
	State    State
	Failures int
	ReopenIn time.Duration // time until the next probe when open
}

// Snapshot reports every circuit, sorted by provider for stable output.
func (b *Breaker) Snapshot() []CircuitStat {
	now := b.clk.Now()
	var out []CircuitStat
	b.circuits.Range(func(k, v interface{}) bool {
		id := k.(string)
		c := v.(*circuit)
		c.mu.Lock()
		stat := CircuitStat{Provider: id, State: c.state, Failures: c.failures}
		if c.state == StateOpen {
			if reopenAt := c.openedAt.Add(c.spec.withDefaults().OpenFor); reopenAt.After(now) {
				stat.ReopenIn = reopenAt.Sub(now)
			}
		}
		c.mu.Unlock()
		out = append(out, stat)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
