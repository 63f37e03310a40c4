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

// Package history keeps the session's bounded FIFO of completed
// operations. Appends are cheap and synchronous; mirroring the buffer
// into the cache (namespace conversation_history, 24 h TTL) happens on a
// background worker so user operations never wait on persistence.
package history

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mdsaad/internal/cache"
	"mdsaad/internal/clock"
)

const (
	// Namespace is the cache namespace the buffer mirrors into.
	Namespace = "conversation_history"

	// MirrorTTL bounds how long a mirrored buffer survives across runs.
	MirrorTTL = 24 * time.Hour

	// DefaultCap is the FIFO bound when the config does not set one.
	DefaultCap = 50

	summaryLen = 80
)

var mirrorKey = []string{"buffer"}

// Entry is one completed operation. Entries are immutable once appended.
type Entry struct {
	Time     time.Time `json:"time"`
	Kind     string    `json:"kind"` // chat, weather, convert
	Query    string    `json:"query"`
	Result   string    `json:"result"`
	Provider string    `json:"provider"`
	Model    string    `json:"model,omitempty"`
	Via      string    `json:"via,omitempty"` // proxy or direct
	Summary  string    `json:"summary"`
}

// Options configure a Buffer. Store nil disables mirroring and restore.
type Options struct {
	Cap     int
	Store   *cache.Store
	Clock   clock.Clock
	Log     *logrus.Logger
	Session string // minted when empty
}

// Buffer is the per-session FIFO. Safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	cap     int

	session string
	store   *cache.Store
	clk     clock.Clock
	log     *logrus.Logger

	notify  chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
	running int32
}

// NewBuffer builds the buffer and restores a mirrored one when the cache
// still holds it.
func NewBuffer(o Options) *Buffer {
	if o.Cap <= 0 {
		o.Cap = DefaultCap
	}
	if o.Clock == nil {
		o.Clock = clock.System{}
	}
	if o.Log == nil {
		o.Log = logrus.New()
	}
	if o.Session == "" {
		o.Session = uuid.NewString()
	}
	b := &Buffer{
		cap:     o.Cap,
		session: o.Session,
		store:   o.Store,
		clk:     o.Clock,
		log:     o.Log,
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	b.restore()
	return b
}

// Session returns the identifier minted for this run.
func (b *Buffer) Session() string { return b.session }

// Start launches the mirror worker. Safe to call once; later calls are
// no-ops.
func (b *Buffer) Start() {
	if !atomic.CompareAndSwapInt32(&b.running, 0, 1) {
		return
	}
	if b.store == nil {
		return
	}
	b.wg.Add(1)
	go b.loop()
	b.log.WithField("session", b.session).Debug("history mirror worker started")
}

// Stop flushes any pending mirror and waits for the worker to exit.
func (b *Buffer) Stop() {
	if !atomic.CompareAndSwapInt32(&b.running, 1, 0) {
		return
	}
	if b.store == nil {
		return
	}
	close(b.stop)
	b.wg.Wait()
}

func (b *Buffer) loop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.notify:
			b.mirror()
		case <-b.stop:
			b.mirror()
			return
		}
	}
}

// Append records one completed operation, dropping the oldest entry once
// the buffer is full, and nudges the mirror worker.
func (b *Buffer) Append(e Entry) {
	if e.Time.IsZero() {
		e.Time = b.clk.WallNow()
	}
	if e.Summary == "" {
		e.Summary = summarize(e.Query, e.Result)
	}
	b.mu.Lock()
	b.entries = append(b.entries, e)
	if over := len(b.entries) - b.cap; over > 0 {
		b.entries = append(b.entries[:0], b.entries[over:]...)
	}
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default: // a mirror is already pending; appends coalesce
	}
}

// Recent returns the last k entries, oldest first.
func (b *Buffer) Recent(k int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if k <= 0 || len(b.entries) == 0 {
		return nil
	}
	if k > len(b.entries) {
		k = len(b.entries)
	}
	out := make([]Entry, k)
	copy(out, b.entries[len(b.entries)-k:])
	return out
}

// All returns a copy of the whole buffer, oldest first.
func (b *Buffer) All() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len reports the current buffer length.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Clear empties the buffer and removes the mirrored copy.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()
	if b.store != nil {
		b.store.Invalidate(Namespace, mirrorKey)
	}
}

// mirror snapshots the buffer into the cache. Last writer wins; a failed
// marshal is logged and dropped rather than retried.
func (b *Buffer) mirror() {
	raw, err := json.Marshal(b.All())
	if err != nil {
		b.log.WithError(err).Warn("history mirror marshal failed")
		return
	}
	b.store.Set(Namespace, mirrorKey, raw, MirrorTTL)
}

func (b *Buffer) restore() {
	if b.store == nil {
		return
	}
	raw, ok := b.store.Get(Namespace, mirrorKey)
	if !ok {
		return
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		b.log.WithError(err).Warn("history mirror unreadable, starting empty")
		return
	}
	if over := len(entries) - b.cap; over > 0 {
		entries = entries[over:]
	}
	b.entries = entries
	b.log.WithField("entries", len(entries)).Debug("history restored from cache")
}

// summarize folds a query/result pair into one display line.
func summarize(query, result string) string {
	s := strings.Join(strings.Fields(query+" -> "+result), " ")
	r := []rune(s)
	if len(r) <= summaryLen {
		return s
	}
	return string(r[:summaryLen-1]) + "…"
}
