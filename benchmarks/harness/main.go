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

// The harness A/B-tests the fabric's failure handling. Each op walks the
// provider list in priority order the way the dispatcher does: ask
// admission control, call the (simulated) upstream, report the outcome,
// fail over on error. Some providers are configured to always fail, and
// the variants differ only in admission control:
//
//	fabric    - circuit breaker + sliding-window limiter (the real pipeline)
//	nobreaker - sliding-window limiter only; every op re-tries dead providers
//	token     - x/time/rate token bucket per provider; no failure memory
//
// The number to watch is "wasted": upstream calls spent on providers that
// failed. With the breaker on, waste stays near FailThreshold per trip;
// without it, waste scales with total ops. -upstream_delay makes each
// wasted call cost wall time, which is what a dead HTTP upstream does.
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	xrate "golang.org/x/time/rate"

	"mdsaad/internal/breaker"
	"mdsaad/internal/clock"
	"mdsaad/internal/ratelimit"
)

type variantType string

const (
	variantFabric    variantType = "fabric"
	variantNoBreaker variantType = "nobreaker"
	variantToken     variantType = "token"
)

// simProvider is one upstream candidate. Bad providers fail every call,
// standing in for an outage rather than flakiness.
type simProvider struct {
	id  string
	bad bool
}

// admitter is the variant seam: decide whether an attempt at a provider
// may proceed, and hear how it went.
type admitter interface {
	allow(id string) bool
	record(id string, ok bool)
	denials() (breaker, rate int64)
}

// ---- fabric variant (breaker + limiter) ----

type fabricAdmitter struct {
	lim     *ratelimit.Limiter
	brk     *breaker.Breaker
	rlSpec  ratelimit.Spec
	brkSpec breaker.Spec

	deniedBrk  atomic.Int64
	deniedRate atomic.Int64
}

func (a *fabricAdmitter) allow(id string) bool {
	v := a.brk.Allow(id, a.brkSpec)
	if !v.OK {
		a.deniedBrk.Add(1)
		return false
	}
	if d := a.lim.Admit(id, "/v1", a.rlSpec); !d.OK {
		if v.Probe {
			a.brk.AbandonProbe(id)
		}
		a.deniedRate.Add(1)
		return false
	}
	return true
}

func (a *fabricAdmitter) record(id string, ok bool) {
	if ok {
		a.brk.RecordSuccess(id)
	} else {
		a.brk.RecordFailure(id, a.brkSpec)
	}
}

func (a *fabricAdmitter) denials() (int64, int64) {
	return a.deniedBrk.Load(), a.deniedRate.Load()
}

// ---- nobreaker variant (limiter only) ----

type limiterAdmitter struct {
	lim        *ratelimit.Limiter
	rlSpec     ratelimit.Spec
	deniedRate atomic.Int64
}

func (a *limiterAdmitter) allow(id string) bool {
	if d := a.lim.Admit(id, "/v1", a.rlSpec); !d.OK {
		a.deniedRate.Add(1)
		return false
	}
	return true
}

func (a *limiterAdmitter) record(string, bool) {}

func (a *limiterAdmitter) denials() (int64, int64) { return 0, a.deniedRate.Load() }

// ---- token variant (x/time/rate baseline) ----

type tokenAdmitter struct {
	buckets    map[string]*xrate.Limiter
	deniedRate atomic.Int64
}

func newTokenAdmitter(providers []simProvider, perSec float64, burst int) *tokenAdmitter {
	t := &tokenAdmitter{buckets: make(map[string]*xrate.Limiter, len(providers))}
	for _, p := range providers {
		t.buckets[p.id] = xrate.NewLimiter(xrate.Limit(perSec), burst)
	}
	return t
}

func (a *tokenAdmitter) allow(id string) bool {
	if !a.buckets[id].Allow() {
		a.deniedRate.Add(1)
		return false
	}
	return true
}

func (a *tokenAdmitter) record(string, bool) {}

func (a *tokenAdmitter) denials() (int64, int64) { return 0, a.deniedRate.Load() }

// ---- op pipeline ----

type counters struct {
	upstreamCalls atomic.Int64
	wastedCalls   atomic.Int64
	served        atomic.Int64
	failovers     atomic.Int64
	unserved      atomic.Int64
}

// doOp runs one logical request: walk providers in priority order until
// one answers. Mirrors the dispatcher's failover loop.
func doOp(providers []simProvider, adm admitter, c *counters, upstreamDelay time.Duration, failPct int, rnd *rand.Rand) {
	for i := range providers {
		p := &providers[i]
		if !adm.allow(p.id) {
			continue
		}
		c.upstreamCalls.Add(1)
		if upstreamDelay > 0 {
			time.Sleep(upstreamDelay)
		}
		ok := !p.bad && (failPct <= 0 || rnd.IntN(100) >= failPct)
		adm.record(p.id, ok)
		if ok {
			c.served.Add(1)
			if i > 0 {
				c.failovers.Add(1)
			}
			return
		}
		c.wastedCalls.Add(1)
	}
	c.unserved.Add(1)
}

func quietLog() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return l
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func main() {
	var (
		variantStr = flag.String("variant", "fabric", "fabric|nobreaker|token")
		opCount    = flag.Int("ops", 200_000, "total operations across all goroutines")
		workers    = flag.Int("goroutines", 32, "concurrent workers")
		providersN = flag.Int("providers", 4, "number of providers in priority order")
		badN       = flag.Int("bad", 1, "providers that always fail, placed first in priority")
		failPct    = flag.Int("fail_pct", 0, "extra failure chance on healthy providers [0..100]")
		seed       = flag.Uint64("seed", 1, "PRNG seed")

		// Breaker
		failThreshold = flag.Int("fail_threshold", 5, "consecutive failures before the circuit trips")
		openFor       = flag.Duration("open_for", 250*time.Millisecond, "circuit cooldown before a probe")

		// Limits. The default window admits everything so failure handling
		// dominates; set -rl_requests to make rate denials part of the mix.
		rlRequests = flag.Int("rl_requests", 1<<30, "window request limit per provider")
		rlWindow   = flag.Duration("rl_window", 100*time.Millisecond, "sliding window length")

		// Token baseline
		tokenRate  = flag.Float64("rate", 1e9, "tokens/sec for the token baseline")
		tokenBurst = flag.Int("burst", 1<<30, "bucket capacity for the token baseline")

		// Upstream simulation
		upstreamDelay = flag.Duration("upstream_delay", 0, "simulated delay per upstream call (e.g. 500us)")

		// Harness
		pprofOn       = flag.Bool("pprof", false, "enable pprof on localhost:6060")
		sampleEvery   = flag.Int("sample_every", 1, "record latency every N ops (1=all)")
		maxLatSamples = flag.Int("max_latency_samples", 200_000, "cap on stored latency samples; downsample if exceeded")
		duration      = flag.Duration("duration", 0, "run for this duration instead of a fixed -ops (0 to disable)")
	)
	flag.Parse()

	if *pprofOn {
		go func() { _ = http.ListenAndServe("localhost:6060", nil) }()
	}

	v := variantType(strings.ToLower(*variantStr))
	if v != variantFabric && v != variantNoBreaker && v != variantToken {
		fmt.Println("-variant must be one of: fabric|nobreaker|token")
		os.Exit(2)
	}
	if *badN > *providersN {
		*badN = *providersN
	}

	providers := make([]simProvider, *providersN)
	for i := range providers {
		providers[i] = simProvider{id: fmt.Sprintf("provider-%d", i), bad: i < *badN}
	}

	rlSpec := ratelimit.Spec{Requests: *rlRequests, Window: *rlWindow}
	var adm admitter
	switch v {
	case variantFabric:
		adm = &fabricAdmitter{
			lim:     ratelimit.New(clock.System{}),
			brk:     breaker.New(clock.System{}, quietLog()),
			rlSpec:  rlSpec,
			brkSpec: breaker.Spec{FailThreshold: *failThreshold, OpenFor: *openFor},
		}
	case variantNoBreaker:
		adm = &limiterAdmitter{lim: ratelimit.New(clock.System{}), rlSpec: rlSpec}
	case variantToken:
		adm = newTokenAdmitter(providers, *tokenRate, *tokenBurst)
	}

	c := &counters{}

	// Run workers
	var wg sync.WaitGroup
	wg.Add(*workers)
	start := time.Now()
	durationMode := *duration > 0
	deadline := time.Time{}
	if durationMode {
		deadline = start.Add(*duration)
	}
	opsPerWorker := *opCount / *workers
	var opsDone atomic.Int64

	sample := *sampleEvery
	if sample <= 0 {
		sample = 1
	}
	recordLatency := *maxLatSamples != 0
	latSlices := make([][]time.Duration, *workers)

	for g := 0; g < *workers; g++ {
		go func(id int) {
			defer wg.Done()
			rnd := rand.New(rand.NewPCG(*seed, uint64(id)+1))
			var loc []time.Duration
			if recordLatency {
				loc = make([]time.Duration, 0, (opsPerWorker+sample-1)/sample)
			}
			for i := 0; ; i++ {
				if durationMode {
					if time.Now().After(deadline) {
						break
					}
				} else if i >= opsPerWorker {
					break
				}
				if recordLatency && i%sample == 0 {
					t0 := time.Now()
					doOp(providers, adm, c, *upstreamDelay, *failPct, rnd)
					loc = append(loc, time.Since(t0))
				} else {
					doOp(providers, adm, c, *upstreamDelay, *failPct, rnd)
				}
				opsDone.Add(1)
			}
			latSlices[id] = loc
		}(g)
	}
	wg.Wait()
	runDur := time.Since(start)

	// Merge sampled latencies, then stride-downsample to bound memory.
	var latencies []time.Duration
	for i, ls := range latSlices {
		latencies = append(latencies, ls...)
		latSlices[i] = nil
	}
	if *maxLatSamples > 0 && len(latencies) > *maxLatSamples {
		capN := *maxLatSamples
		reduced := make([]time.Duration, capN)
		step := float64(len(latencies)) / float64(capN)
		for j := 0; j < capN; j++ {
			idx := int(float64(j) * step)
			if idx >= len(latencies) {
				idx = len(latencies) - 1
			}
			reduced[j] = latencies[idx]
		}
		latencies = reduced
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p50 := percentile(latencies, 50)
	p95 := percentile(latencies, 95)
	p99 := percentile(latencies, 99)

	// Release samples before the memory snapshot so Alloc reflects the
	// fabric, not the harness.
	latencies = nil
	runtime.GC()
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	actualOps := opsDone.Load()
	deniedBrk, deniedRate := adm.denials()
	upstream := c.upstreamCalls.Load()
	wasted := c.wastedCalls.Load()
	wastedPct := 0.0
	if upstream > 0 {
		wastedPct = float64(wasted) / float64(upstream) * 100
	}

	fmt.Printf("Variant: %s  Ops: %d  Goroutines: %d  Providers: %d  Bad: %d\n",
		v, actualOps, *workers, *providersN, *badN)
	fmt.Printf("Duration: %s  Ops/sec: %s\n",
		runDur.Round(time.Millisecond), humanRate(float64(actualOps)/runDur.Seconds()))
	fmt.Printf("Latency p50: %sµs  p95: %sµs  p99: %sµs\n",
		formatMicros(p50), formatMicros(p95), formatMicros(p99))
	fmt.Printf("Upstream: calls=%d (%s/sec), wasted=%d (%.1f%%)\n",
		upstream, humanRate(float64(upstream)/runDur.Seconds()), wasted, wastedPct)
	fmt.Printf("Denials: breaker=%d rate=%d\n", deniedBrk, deniedRate)
	fmt.Printf("Outcomes: served=%d failovers=%d unserved=%d\n",
		c.served.Load(), c.failovers.Load(), c.unserved.Load())
	fmt.Printf("Memory: Alloc=%s  TotalAlloc=%s  Sys=%s  NumGC=%d\n",
		humanBytes(ms.Alloc), humanBytes(ms.TotalAlloc), humanBytes(ms.Sys), ms.NumGC)

	// Machine-readable line for sweep scripts.
	fmt.Printf("Summary: variant=%s ops=%d duration_ns=%d goroutines=%d providers=%d bad=%d p50_ns=%d p95_ns=%d p99_ns=%d upstream_calls=%d wasted_calls=%d denied_breaker=%d denied_rate=%d served=%d unserved=%d\n",
		v, actualOps, runDur.Nanoseconds(), *workers, *providersN, *badN,
		p50.Nanoseconds(), p95.Nanoseconds(), p99.Nanoseconds(),
		upstream, wasted, deniedBrk, deniedRate, c.served.Load(), c.unserved.Load())
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[(len(sorted)-1)*p/100]
}

func formatMicros(d time.Duration) string {
	return fmt.Sprintf("%.1f", float64(d.Nanoseconds())/1000)
}

func humanRate(v float64) string {
	switch {
	case v >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.1fk", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}

func humanBytes(b uint64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1fGiB", float64(b)/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1fMiB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1fKiB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%dB", b)
	}
}
