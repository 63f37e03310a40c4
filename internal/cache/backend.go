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

// Persistence backends for the cache store. The store stays authoritative
// in memory; backends only mirror writes and reload state at startup, so a
// backend failure degrades to a miss, never an error on the request path.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Backend mirrors cache entries to durable storage.
type Backend interface {
	Persist(ctx context.Context, ns, hash string, e PersistedEntry) error
	Remove(ctx context.Context, ns, hash string) error
	RemoveNamespace(ctx context.Context, ns string) error
	RemoveAll(ctx context.Context) error
	// Load returns everything currently persisted, keyed namespace then
	// hash. Implementations delete entries they cannot decode.
	Load(ctx context.Context) (map[string]map[string]PersistedEntry, error)
	Close() error
}

// BackendOptions carries the knobs the factory needs.
type BackendOptions struct {
	Dir       string // file backend root, e.g. $HOME/.mdsaad/cache
	RedisAddr string // redis backend address, e.g. localhost:6379
	Log       *logrus.Logger
}

// BuildBackend constructs the configured backend. Supported kinds are
// "file" (default), "redis" and "none".
func BuildBackend(kind string, opts BackendOptions) (Backend, error) {
	switch kind {
	case "", "file":
		if opts.Dir == "" {
			return nil, errors.New("file cache backend requires a directory")
		}
		return &FileBackend{dir: opts.Dir, log: opts.Log}, nil
	case "redis":
		addr := opts.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		return NewRedisBackend(addr), nil
	case "none":
		return NopBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q (expected file, redis or none)", kind)
	}
}

// NopBackend keeps the cache memory-only.
type NopBackend struct{}

func (NopBackend) Persist(context.Context, string, string, PersistedEntry) error { return nil }
func (NopBackend) Remove(context.Context, string, string) error                  { return nil }
func (NopBackend) RemoveNamespace(context.Context, string) error                 { return nil }
func (NopBackend) RemoveAll(context.Context) error                               { return nil }
func (NopBackend) Load(context.Context) (map[string]map[string]PersistedEntry, error) {
	return nil, nil
}
func (NopBackend) Close() error { return nil }

// FileBackend stores one JSON document per entry under
// <dir>/<namespace>/<hash>.json.
type FileBackend struct {
	dir string
	log *logrus.Logger
}

func (f *FileBackend) entryPath(ns, hash string) string {
	return filepath.Join(f.dir, ns, hash+".json")
}

func (f *FileBackend) Persist(_ context.Context, ns, hash string, e PersistedEntry) error {
	if err := os.MkdirAll(filepath.Join(f.dir, ns), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return os.WriteFile(f.entryPath(ns, hash), b, 0o644)
}

func (f *FileBackend) Remove(_ context.Context, ns, hash string) error {
	err := os.Remove(f.entryPath(ns, hash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f *FileBackend) RemoveNamespace(_ context.Context, ns string) error {
	return os.RemoveAll(filepath.Join(f.dir, ns))
}

func (f *FileBackend) RemoveAll(_ context.Context) error {
	dirs, err := os.ReadDir(f.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(f.dir, d.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Load walks every namespace directory. Files that fail to decode are
// deleted on the spot so one corrupted write can never wedge startup.
func (f *FileBackend) Load(_ context.Context) (map[string]map[string]PersistedEntry, error) {
	dirs, err := os.ReadDir(f.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]PersistedEntry)
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		ns := d.Name()
		files, err := os.ReadDir(filepath.Join(f.dir, ns))
		if err != nil {
			continue
		}
		for _, fi := range files {
			name := fi.Name()
			if fi.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}
			path := filepath.Join(f.dir, ns, name)
			raw, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			var pe PersistedEntry
			if err := json.Unmarshal(raw, &pe); err != nil || pe.TTLMillis <= 0 {
				if f.log != nil {
					f.log.Debugf("cache: removing corrupt entry %s: %v", path, err)
				}
				_ = os.Remove(path)
				continue
			}
			if out[ns] == nil {
				out[ns] = make(map[string]PersistedEntry)
			}
			out[ns][strings.TrimSuffix(name, ".json")] = pe
		}
	}
	return out, nil
}

func (f *FileBackend) Close() error { return nil }
