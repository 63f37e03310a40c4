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

// Package cache is the namespaced TTL response cache. The in-memory map is
// authoritative; a pluggable backend (file by default, redis optional)
// mirrors writes so entries survive process restarts. Expired entries are
// treated as misses and removed lazily; an optional background sweeper
// (sweeper.go) trims them between requests.
package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"mdsaad/internal/clock"
	"mdsaad/internal/telemetry"
)

const (
	// DefaultMaxBytes caps total payload bytes held in memory.
	DefaultMaxBytes = 50 << 20

	// backendTimeout bounds every mirror operation so a slow disk or redis
	// never stalls a request.
	backendTimeout = 3 * time.Second
)

// PersistedEntry is the wire shape mirrored to backends, one JSON document
// per entry.
type PersistedEntry struct {
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"created_at"` // wall clock, unix ms
	TTLMillis int64           `json:"ttl_ms"`
}

type entryKey struct {
	ns   string
	hash string
}

type entry struct {
	payload     []byte
	createdMono time.Time // eviction order + TTL arithmetic
	createdWall time.Time // persistence + stale display
	ttl         time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.createdMono) >= e.ttl
}

type nsCounters struct {
	hits   int64
	misses int64
}

// Store is the cache. Safe for concurrent use.
type Store struct {
	clk     clock.Clock
	log     *logrus.Logger
	backend Backend
	max     int64

	mu      sync.Mutex
	entries map[entryKey]*entry
	total   int64
	counts  map[string]*nsCounters

	flight singleflight.Group
}

// Options configures a Store.
type Options struct {
	Clock    clock.Clock
	Log      *logrus.Logger
	Backend  Backend // nil for memory-only
	MaxBytes int64   // 0 for DefaultMaxBytes
}

// New builds a Store and warms it from the backend. Entries that expired
// while the process was down are skipped and removed from the backend.
func New(opts Options) (*Store, error) {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Backend == nil {
		opts.Backend = NopBackend{}
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	s := &Store{
		clk:     opts.Clock,
		log:     opts.Log,
		backend: opts.Backend,
		max:     opts.MaxBytes,
		entries: make(map[entryKey]*entry),
		counts:  make(map[string]*nsCounters),
	}
	if err := s.restore(); err != nil {
		return nil, err
	}
	return s, nil
}

// restore loads persisted entries and rebases their TTL clock onto the
// process clock so remaining lifetimes carry across restarts.
func (s *Store) restore() error {
	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()

	persisted, err := s.backend.Load(ctx)
	if err != nil {
		return err
	}

	nowMono := s.clk.Now()
	nowWall := s.clk.WallNow()
	s.mu.Lock()
	defer s.mu.Unlock()
	for ns, byHash := range persisted {
		for hash, pe := range byHash {
			createdWall := time.UnixMilli(pe.CreatedAt).UTC()
			ttl := time.Duration(pe.TTLMillis) * time.Millisecond
			elapsed := nowWall.Sub(createdWall)
			if elapsed < 0 {
				elapsed = 0
			}
			if ttl <= 0 || elapsed >= ttl {
				s.backendRemove(ns, hash)
				continue
			}
			e := &entry{
				payload:     append([]byte(nil), pe.Payload...),
				createdMono: nowMono.Add(-elapsed),
				createdWall: createdWall,
				ttl:         ttl,
			}
			s.insertLocked(entryKey{ns, hash}, e)
		}
	}
	return nil
}

// Get returns a copy of the payload for (ns, parts) if present and fresh.
// Expired entries count as misses but stay in place for the sweeper, so a
// failed refetch can still fall back to GetStale.
func (s *Store) Get(ns string, parts []string) ([]byte, bool) {
	payload, _, ok := s.lookup(ns, parts, false, true)
	return payload, ok
}

// GetStale returns the payload even when the entry has expired, along with
// its creation time, for callers that explicitly accept stale data after
// every provider failed. The entry is left in place for the sweeper.
func (s *Store) GetStale(ns string, parts []string) ([]byte, time.Time, bool) {
	return s.lookup(ns, parts, true, false)
}

func (s *Store) lookup(ns string, parts []string, allowStale, count bool) ([]byte, time.Time, bool) {
	k := entryKey{ns, Key(ns, parts)}
	now := s.clk.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if !ok {
		if count {
			s.countsFor(ns).misses++
			telemetry.RecordCacheMiss(ns)
		}
		return nil, time.Time{}, false
	}
	if e.expired(now) {
		if allowStale {
			return append([]byte(nil), e.payload...), e.createdWall, true
		}
		if count {
			s.countsFor(ns).misses++
			telemetry.RecordCacheMiss(ns)
		}
		return nil, time.Time{}, false
	}
	if count {
		s.countsFor(ns).hits++
		telemetry.RecordCacheHit(ns)
	}
	return append([]byte(nil), e.payload...), e.createdWall, true
}

// Set stores payload under (ns, parts) with the given TTL, evicting
// oldest-created entries if the byte cap would be exceeded. Oversized
// payloads and non-positive TTLs are dropped silently.
func (s *Store) Set(ns string, parts []string, payload []byte, ttl time.Duration) {
	size := int64(len(payload))
	if ttl <= 0 || size > s.max {
		s.debugf("cache: dropping set ns=%s size=%d ttl=%v", ns, size, ttl)
		return
	}
	k := entryKey{ns, Key(ns, parts)}
	e := &entry{
		payload:     append([]byte(nil), payload...),
		createdMono: s.clk.Now(),
		createdWall: s.clk.WallNow(),
		ttl:         ttl,
	}

	s.mu.Lock()
	if old, ok := s.entries[k]; ok {
		s.total -= int64(len(old.payload))
		delete(s.entries, k)
	}
	for s.total+size > s.max {
		if !s.evictOldestLocked() {
			break
		}
	}
	s.insertLocked(k, e)
	s.mu.Unlock()

	s.backendPersist(k.ns, k.hash, PersistedEntry{
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: e.createdWall.UnixMilli(),
		TTLMillis: ttl.Milliseconds(),
	})
}

// Through is the read-through wrapper: cache hit short-circuits, otherwise
// fetch runs and a success is stored before being returned. Concurrent
// misses of the same key share one fetch; fetch errors are returned
// unchanged and never poison the cache. The second return value reports
// whether the payload came from cache.
func (s *Store) Through(ctx context.Context, ns string, parts []string, ttl time.Duration, fetch func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if payload, ok := s.Get(ns, parts); ok {
		return payload, true, nil
	}
	flightKey := ns + ":" + Key(ns, parts)
	v, err, _ := s.flight.Do(flightKey, func() (interface{}, error) {
		// A concurrent flight may have landed between Get and Do.
		if payload, _, ok := s.lookup(ns, parts, false, false); ok {
			return payload, nil
		}
		payload, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.Set(ns, parts, payload, ttl)
		return payload, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}

// Invalidate removes a single entry.
func (s *Store) Invalidate(ns string, parts []string) {
	k := entryKey{ns, Key(ns, parts)}
	s.mu.Lock()
	s.removeLocked(k, true)
	s.mu.Unlock()
}

// ClearNamespace removes every entry in ns and reports how many were
// dropped.
func (s *Store) ClearNamespace(ns string) int {
	s.mu.Lock()
	n := 0
	for k := range s.entries {
		if k.ns == ns {
			s.removeLocked(k, false)
			n++
		}
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	if err := s.backend.RemoveNamespace(ctx, ns); err != nil {
		s.debugf("cache: backend clear namespace %s: %v", ns, err)
	}
	return n
}

// ClearAll removes every entry in every namespace.
func (s *Store) ClearAll() int {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = make(map[entryKey]*entry)
	s.total = 0
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	if err := s.backend.RemoveAll(ctx); err != nil {
		s.debugf("cache: backend clear all: %v", err)
	}
	return n
}

// SweepExpired removes every expired entry and reports how many were
// dropped. The sweeper calls this periodically; Get catches anything that
// expires between sweeps.
func (s *Store) SweepExpired() int {
	now := s.clk.Now()
	s.mu.Lock()
	var expired []entryKey
	for k, e := range s.entries {
		if e.expired(now) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		s.removeLocked(k, true)
	}
	s.mu.Unlock()
	return len(expired)
}

// NamespaceStat summarizes one namespace for the quota view.
type NamespaceStat struct {
	Namespace string
	Entries   int
	Bytes     int64
	Hits      int64
	Misses    int64
}

// Stats reports cache usage, namespaces sorted by name.
type Stats struct {
	Namespaces []NamespaceStat
	Entries    int
	Bytes      int64
	MaxBytes   int64
}

// Stats returns a point-in-time usage summary.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	byNS := make(map[string]*NamespaceStat)
	for k, e := range s.entries {
		st, ok := byNS[k.ns]
		if !ok {
			st = &NamespaceStat{Namespace: k.ns}
			byNS[k.ns] = st
		}
		st.Entries++
		st.Bytes += int64(len(e.payload))
	}
	for ns, c := range s.counts {
		st, ok := byNS[ns]
		if !ok {
			st = &NamespaceStat{Namespace: ns}
			byNS[ns] = st
		}
		st.Hits = c.hits
		st.Misses = c.misses
	}

	out := Stats{Entries: len(s.entries), Bytes: s.total, MaxBytes: s.max}
	for _, st := range byNS {
		out.Namespaces = append(out.Namespaces, *st)
	}
	sort.Slice(out.Namespaces, func(i, j int) bool {
		return out.Namespaces[i].Namespace < out.Namespaces[j].Namespace
	})
	return out
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// insertLocked adds e and updates byte accounting. Callers hold s.mu.
func (s *Store) insertLocked(k entryKey, e *entry) {
	s.entries[k] = e
	s.total += int64(len(e.payload))
}

// removeLocked drops k from memory and, when mirror is true, from the
// backend. Callers hold s.mu.
func (s *Store) removeLocked(k entryKey, mirror bool) {
	e, ok := s.entries[k]
	if !ok {
		return
	}
	s.total -= int64(len(e.payload))
	delete(s.entries, k)
	if mirror {
		s.backendRemove(k.ns, k.hash)
	}
}

// evictOldestLocked removes the oldest-created entry across all
// namespaces. Callers hold s.mu.
func (s *Store) evictOldestLocked() bool {
	var oldest entryKey
	var oldestAt time.Time
	found := false
	for k, e := range s.entries {
		if !found || e.createdMono.Before(oldestAt) {
			oldest, oldestAt, found = k, e.createdMono, true
		}
	}
	if !found {
		return false
	}
	s.removeLocked(oldest, true)
	telemetry.RecordCacheEviction(oldest.ns)
	return true
}

func (s *Store) countsFor(ns string) *nsCounters {
	c, ok := s.counts[ns]
	if !ok {
		c = &nsCounters{}
		s.counts[ns] = c
	}
	return c
}

func (s *Store) backendPersist(ns, hash string, pe PersistedEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	if err := s.backend.Persist(ctx, ns, hash, pe); err != nil {
		s.debugf("cache: backend persist %s/%s: %v", ns, hash, err)
	}
}

func (s *Store) backendRemove(ns, hash string) {
	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	if err := s.backend.Remove(ctx, ns, hash); err != nil {
		s.debugf("cache: backend remove %s/%s: %v", ns, hash, err)
	}
}

func (s *Store) debugf(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Debugf(format, args...)
	}
}
