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

// Package telemetry holds process-level counters for the request fabric.
// The atomic counters back the quota command's summary; the Prometheus
// collectors (prom.go) expose the same events for the opt-in /metrics
// endpoint. Both are safe to call from hot paths.
package telemetry

import (
	"sync/atomic"
)

var (
	requestsStarted   atomic.Int64
	requestsSucceeded atomic.Int64
	requestsFailed    atomic.Int64
	failoverAttempts  atomic.Int64
	rateDenials       atomic.Int64
	upstreamBlocks    atomic.Int64
	breakerTrips      atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	cacheEvictions    atomic.Int64
	proxyAttempts     atomic.Int64
	proxyFailovers    atomic.Int64
)

// Counters is a point-in-time snapshot of the fabric counters.
type Counters struct {
	RequestsStarted   int64
	RequestsSucceeded int64
	RequestsFailed    int64
	FailoverAttempts  int64
	RateDenials       int64
	UpstreamBlocks    int64
	BreakerTrips      int64
	CacheHits         int64
	CacheMisses       int64
	CacheEvictions    int64
	ProxyAttempts     int64
	ProxyFailovers    int64
}

// RecordRequestStart counts one dispatched operation (before any attempt).
func RecordRequestStart(capability string) {
	requestsStarted.Add(1)
	promRequestsStarted(capability)
}

// RecordRequestEnd counts the terminal outcome of one dispatched operation.
func RecordRequestEnd(capability, provider, outcome string, seconds float64) {
	if outcome == "success" {
		requestsSucceeded.Add(1)
	} else {
		requestsFailed.Add(1)
	}
	promRequestEnd(capability, provider, outcome, seconds)
}

// RecordFailover counts one candidate skipped in favor of the next.
func RecordFailover(provider, reason string) {
	failoverAttempts.Add(1)
	promFailover(provider, reason)
}

// RecordRateDenial counts one local admission denial.
func RecordRateDenial(reason string) {
	rateDenials.Add(1)
	promRateDenial(reason)
}

// RecordUpstreamBlock counts one upstream 429 blocking a provider window.
func RecordUpstreamBlock(provider string) {
	upstreamBlocks.Add(1)
	promUpstreamBlock(provider)
}

// RecordBreakerTransition counts circuit transitions; trips are transitions
// into the open state.
func RecordBreakerTransition(provider, to string) {
	if to == "OPEN" {
		breakerTrips.Add(1)
	}
	promBreakerTransition(provider, to)
}

// RecordCacheHit counts one cache hit in the given namespace.
func RecordCacheHit(namespace string) {
	cacheHits.Add(1)
	promCacheEvent(namespace, "hit")
}

// RecordCacheMiss counts one cache miss in the given namespace.
func RecordCacheMiss(namespace string) {
	cacheMisses.Add(1)
	promCacheEvent(namespace, "miss")
}

// RecordCacheEviction counts one size-cap eviction in the given namespace.
func RecordCacheEviction(namespace string) {
	cacheEvictions.Add(1)
	promCacheEvent(namespace, "evict")
}

// RecordProxyAttempt counts one proxy endpoint attempt by outcome.
func RecordProxyAttempt(outcome string) {
	proxyAttempts.Add(1)
	promProxyAttempt(outcome)
}

// RecordProxyFailover counts one transition to the next proxy endpoint.
func RecordProxyFailover() {
	proxyFailovers.Add(1)
}

// Snapshot returns the current counter values.
func Snapshot() Counters {
	return Counters{
		RequestsStarted:   requestsStarted.Load(),
		RequestsSucceeded: requestsSucceeded.Load(),
		RequestsFailed:    requestsFailed.Load(),
		FailoverAttempts:  failoverAttempts.Load(),
		RateDenials:       rateDenials.Load(),
		UpstreamBlocks:    upstreamBlocks.Load(),
		BreakerTrips:      breakerTrips.Load(),
		CacheHits:         cacheHits.Load(),
		CacheMisses:       cacheMisses.Load(),
		CacheEvictions:    cacheEvictions.Load(),
		ProxyAttempts:     proxyAttempts.Load(),
		ProxyFailovers:    proxyFailovers.Load(),
	}
}

// ResetForTests zeroes every counter. Intended for tests only.
func ResetForTests() {
	requestsStarted.Store(0)
	requestsSucceeded.Store(0)
	requestsFailed.Store(0)
	failoverAttempts.Store(0)
	rateDenials.Store(0)
	upstreamBlocks.Store(0)
	breakerTrips.Store(0)
	cacheHits.Store(0)
	cacheMisses.Store(0)
	cacheEvictions.Store(0)
	proxyAttempts.Store(0)
	proxyFailovers.Store(0)
}
