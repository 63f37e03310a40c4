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

// Package core assembles the request fabric: configuration, provider
// registry, rate limiting, circuit breaking, cache, relay client,
// history and the operation services. The CLI and the relay server
// both build a Core and talk to the services it exposes instead of
// wiring the internals themselves.
package core

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"mdsaad/internal/breaker"
	"mdsaad/internal/cache"
	"mdsaad/internal/clock"
	"mdsaad/internal/config"
	"mdsaad/internal/dispatch"
	"mdsaad/internal/history"
	"mdsaad/internal/ops"
	"mdsaad/internal/provider"
	"mdsaad/internal/proxy"
	"mdsaad/internal/ratelimit"
	"mdsaad/internal/secure"
	"mdsaad/internal/telemetry"
)

// Options tune core assembly. The zero value loads configuration from
// disk and uses the system clock.
type Options struct {
	// Config overrides the on-disk configuration; nil calls config.Load.
	Config *config.Config
	// Clock overrides the system clock; tests inject a fake here and the
	// whole fabric (limiter windows, breaker cooldowns, cache TTLs) moves
	// together.
	Clock clock.Clock
	// Log overrides the logger; nil builds one from Config.Debug.
	Log *logrus.Logger
	// Version is stamped into User-Agent headers and relay calls.
	Version string
	// MetricsAddr, when non-empty, exposes Prometheus /metrics there.
	MetricsAddr string
}

// Core owns every long-lived component and their teardown order.
type Core struct {
	Config   *config.Config
	Log      *logrus.Logger
	Clock    clock.Clock
	Registry *provider.Registry
	Breaker  *breaker.Breaker
	Limiter  *ratelimit.Limiter
	Cache    *cache.Store
	Dispatch *dispatch.Dispatcher
	Proxy    *proxy.Client // nil when the relay is disabled
	History  *history.Buffer

	Chat    *ops.ChatService
	Weather *ops.WeatherService
	Convert *ops.ConvertService

	sweeper *cache.Sweeper
	metrics *http.Server
	closed  uint32
}

// New wires the fabric bottom-up. Components that spawn goroutines
// (sweeper, history mirror, metrics endpoint) are started here and
// stopped by Close.
func New(o Options) (*Core, error) {
	// 1. Configuration: defaults, then config.json, then environment.
	cfg := o.Config
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("core: load config: %w", err)
		}
		cfg = loaded
	}

	// 2. Logger. Debug flips the level; NO_COLOR strips ANSI from the
	// text formatter so logs stay readable when piped.
	log := o.Log
	if log == nil {
		log = newLogger(cfg)
	}

	clk := o.Clock
	if clk == nil {
		clk = clock.System{}
	}

	// 3. Failure tracking and admission. The breaker doubles as the
	// registry's circuit resetter so a registry-level reset can close a
	// tripped circuit without an import cycle.
	brk := breaker.New(clk, log)
	reg := provider.FromConfig(cfg, brk, log)
	lim := ratelimit.New(clk)

	// 4. Cache: backend per config, in-memory store warmed from it,
	// sweeper reclaiming expired entries in the background.
	backend, err := cache.BuildBackend(cfg.CacheBackend, cache.BackendOptions{
		Dir:       cfg.CacheDir,
		RedisAddr: cfg.RedisAddr,
		Log:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("core: cache backend: %w", err)
	}
	store, err := cache.New(cache.Options{
		Clock:    clk,
		Log:      log,
		Backend:  backend,
		MaxBytes: cfg.CacheMaxBytes,
	})
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("core: cache: %w", err)
	}
	sweeper := cache.NewSweeper(store, 0, log)
	sweeper.Start()

	// 5. Dispatcher: failover loop over the registry, stamped with the
	// per-install signing secret when one is provisioned.
	dsp := dispatch.New(dispatch.Options{
		Registry: reg,
		Limiter:  lim,
		Breaker:  brk,
		Signer:   secure.NewSigner(cfg.SigningSecret, clk),
		Clock:    clk,
		Log:      log,
		Version:  o.Version,
	})

	// 6. Relay client, only when the proxy path is enabled. Operations
	// treat a nil Proxy as "go direct".
	var relay *proxy.Client
	if cfg.UseProxy && len(cfg.ProxyURLs) > 0 {
		relay = proxy.NewClient(proxy.Options{
			URLs:    cfg.ProxyURLs,
			Log:     log,
			Version: o.Version,
		})
	}

	// 7. History: per-session FIFO mirrored into the cache so `history`
	// survives process restarts.
	hist := history.NewBuffer(history.Options{
		Cap:   cfg.HistoryLimit,
		Store: store,
		Clock: clk,
		Log:   log,
	})
	hist.Start()

	c := &Core{
		Config:   cfg,
		Log:      log,
		Clock:    clk,
		Registry: reg,
		Breaker:  brk,
		Limiter:  lim,
		Cache:    store,
		Dispatch: dsp,
		Proxy:    relay,
		History:  hist,
		sweeper:  sweeper,
	}

	// 8. Operation services share one dependency bundle.
	deps := ops.Deps{
		Registry: reg,
		Dispatch: dsp,
		Proxy:    relay,
		Cache:    store,
		History:  hist,
		Config:   cfg,
		Clock:    clk,
		Log:      log,
	}
	c.Chat = ops.NewChat(deps)
	c.Weather = ops.NewWeather(deps)
	c.Convert = ops.NewConvert(deps)

	// 9. Optional Prometheus endpoint.
	if o.MetricsAddr != "" {
		c.metrics = telemetry.ServeMetrics(o.MetricsAddr)
		log.Debugf("core: metrics listening on %s", o.MetricsAddr)
	}

	return c, nil
}

// Close releases background goroutines and flushes mirrored state, in
// reverse assembly order. Safe to call more than once.
func (c *Core) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return nil
	}
	if c.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = c.metrics.Shutdown(ctx)
		cancel()
	}
	// History stops before the cache closes so the final mirror still
	// reaches the backend.
	c.History.Stop()
	c.sweeper.Stop()
	return c.Cache.Close()
}

// newLogger builds the CLI logger from config. Output goes to stderr so
// rendered results on stdout stay pipeable.
func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		DisableColors:   cfg.NoColor,
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}
