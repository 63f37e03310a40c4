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

// Package main is mdsaad-proxy, a self-hostable relay for the mdsaad CLI.
//
// The hosted relay is what lets mdsaad work with zero API keys: the CLI
// posts a neutral request payload to the relay, and the relay answers it
// from its own provider keys through the exact same dispatch fabric the
// CLI uses for direct calls. This binary is that relay. Run it anywhere
// with your provider keys in the environment, point clients at it with
// MDSAAD_PROXY_URL, and every keyless install in your team shares your
// quota instead of needing keys of their own.
//
// Wire contract (what clients send and get back):
//   - POST /api/<capability> with the capability's request payload as
//     JSON. Capabilities: chat, weather_current, weather_forecast,
//     exchange_rate, exchange_history, geocoding, geolocate.
//   - 2xx: the normalized result payload, exactly the shape a direct
//     provider adapter would produce. Clients cannot tell the difference.
//   - 429: per-client budget spent; Retry-After says when to come back.
//   - 4xx: the request itself is bad; clients stop instead of retrying.
//   - 5xx: this relay is unhealthy; clients move to their next relay URL.
//
// The relay always dispatches direct regardless of the local config,
// because a relay answering from another relay would loop.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"mdsaad/internal/config"
	"mdsaad/internal/core"
	"mdsaad/internal/dispatch"
	"mdsaad/internal/provider"
)

const version = "2.1.0"

// capGroups maps each servable capability to its budget group. A request
// for anything else is a 404.
var capGroups = map[provider.Capability]string{
	provider.CapChat:            "chat",
	provider.CapWeatherCurrent:  "weather",
	provider.CapWeatherForecast: "weather",
	provider.CapExchangeRate:    "convert",
	provider.CapExchangeHistory: "convert",
	provider.CapGeocoding:       "weather",
	provider.CapGeolocate:       "weather",
}

// budgetTable enforces per-client hourly caps, one limiter per
// (client IP, budget group). Entries idle past evictAfter are dropped
// by sweep so a public relay's memory stays bounded.
type budgetTable struct {
	mu      sync.Mutex
	perHour map[string]int
	entries map[string]*budgetEntry
}

type budgetEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newBudgetTable(chat, weather, convert int) *budgetTable {
	return &budgetTable{
		perHour: map[string]int{"chat": chat, "weather": weather, "convert": convert},
		entries: make(map[string]*budgetEntry),
	}
}

// admit reserves one request for ip in group. A zero return means go;
// a positive return is how long the client should wait.
func (t *budgetTable) admit(ip, group string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := ip + "|" + group
	e, ok := t.entries[key]
	if !ok {
		n := t.perHour[group]
		e = &budgetEntry{lim: rate.NewLimiter(rate.Every(time.Hour/time.Duration(n)), n)}
		t.entries[key] = e
	}
	e.lastSeen = time.Now()
	res := e.lim.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return delay
	}
	return 0
}

func (t *budgetTable) sweep(evictAfter time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-evictAfter)
	n := 0
	for key, e := range t.entries {
		if e.lastSeen.Before(cutoff) {
			delete(t.entries, key)
			n++
		}
	}
	return n
}

// decodePayload turns the request body into the capability's neutral
// payload type. The dispatcher validates semantics; this only decodes.
func decodePayload(cap provider.Capability, body []byte) (interface{}, error) {
	switch cap {
	case provider.CapChat:
		var p provider.ChatRequest
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		return p, nil
	case provider.CapWeatherCurrent, provider.CapWeatherForecast:
		var p provider.WeatherQuery
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		return p, nil
	case provider.CapExchangeRate, provider.CapExchangeHistory:
		var p provider.RateQuery
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		return p, nil
	default: // geocoding, geolocate
		var p provider.GeoQuery
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
}

// statusFor maps the fabric's error taxonomy onto relay status codes.
// 5xx tells clients to try their next relay URL; 4xx tells them to stop.
func statusFor(err error) int {
	switch dispatch.KindOf(err) {
	case dispatch.KindInvalidInput:
		return http.StatusBadRequest
	case dispatch.KindRateLimited:
		return http.StatusTooManyRequests
	case dispatch.KindClient:
		return http.StatusUnprocessableEntity
	case dispatch.KindNoProviders, dispatch.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case dispatch.KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// clientIP prefers the first X-Forwarded-For hop so budgets follow the
// real client when the relay sits behind a load balancer.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, hint string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"message": message},
		"hint":  hint,
	})
}

func main() {
	// In plain words (what this service does):
	//   - Receives neutral request payloads from mdsaad CLIs that have no
	//     API keys of their own.
	//   - Answers each one through the full request fabric: provider
	//     priority failover, sliding-window rate limits per provider,
	//     circuit breaking, response caching. One bad upstream never takes
	//     the relay down; the next provider in line answers instead.
	//   - Enforces per-client hourly budgets (by IP) so one chatty client
	//     cannot drain the operator's provider quota for everyone else.
	//
	// What to look for in metrics (GET /metrics, Prometheus exposition):
	//   - mdsaad_relay_requests_total by capability and status.
	//   - mdsaad_relay_budget_denials_total when clients hit their caps.
	//   - The fabric's own counters (mdsaad_requests_total, failovers,
	//     breaker transitions, cache events) for upstream health.
	//
	// Usage (quick start):
	//   export OPENROUTER_API_KEY=...   # any provider keys you hold
	//   export WEATHERAPI_KEY=...
	//   go run ./cmd/mdsaad-proxy -http :8750
	//   # then on client machines:
	//   export MDSAAD_PROXY_URL=http://relay.example.com:8750
	//
	// Flags below mirror the CLI's client-side courtesy caps by default;
	// raise them for trusted teams, lower them for public endpoints.
	httpAddr := flag.String("http", ":8750", "HTTP listen address")
	chatPerHour := flag.Int("chat_per_hour", 50, "per-client chat requests per hour")
	weatherPerHour := flag.Int("weather_per_hour", 100, "per-client weather/geo requests per hour")
	convertPerHour := flag.Int("convert_per_hour", 200, "per-client exchange-rate requests per hour")
	bodyLimit := flag.Int64("body_limit", 1<<20, "max request body bytes")
	evictAfter := flag.Duration("budget_evict_age", 2*time.Hour, "drop per-client budgets idle for this long")
	flag.Parse()

	// Re-default anything explicitly emptied or zeroed.
	if *httpAddr == "" {
		*httpAddr = ":8750"
	}
	if *chatPerHour <= 0 {
		*chatPerHour = 50
	}
	if *weatherPerHour <= 0 {
		*weatherPerHour = 100
	}
	if *convertPerHour <= 0 {
		*convertPerHour = 200
	}
	if *bodyLimit <= 0 {
		*bodyLimit = 1 << 20
	}
	if *evictAfter <= 0 {
		*evictAfter = 2 * time.Hour
	}

	// 1. Load the operator's config and assemble the fabric. UseProxy is
	// forced off: this process is the relay, so it always goes direct.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.UseProxy = false
	c, err := core.New(core.Options{Config: cfg, Version: version})
	if err != nil {
		log.Fatalf("assemble core: %v", err)
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			log.Printf("close core: %v", cerr)
		}
	}()

	configured := 0
	for _, p := range c.Registry.All() {
		if p.Keyless || p.Credential != "" {
			configured++
		}
	}
	c.Log.WithField("providers", configured).Info("relay fabric ready")

	// 2. Relay-level metrics. The fabric registers its own collectors;
	// these two only exist at the relay boundary.
	relayRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdsaad_relay_requests_total",
		Help: "Relay requests by capability and response status",
	}, []string{"capability", "status"})
	budgetDenials := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdsaad_relay_budget_denials_total",
		Help: "Requests denied by the per-client hourly budget",
	}, []string{"capability"})
	prometheus.MustRegister(relayRequests, budgetDenials)

	// 3. Per-client budgets, with a janitor so idle clients age out.
	budgets := newBudgetTable(*chatPerHour, *weatherPerHour, *convertPerHour)
	stopSweep := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-stopSweep:
				return
			case <-ticker.C:
				if n := budgets.sweep(*evictAfter); n > 0 {
					c.Log.WithField("evicted", n).Debug("budget table swept")
				}
			}
		}
	}()
	defer close(stopSweep)

	// 4. Routes. One handler serves every /api/<capability> path; the
	// capability comes off the URL and picks the payload shape.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "time": time.Now().UTC().Format(time.RFC3339)})
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		cap := provider.Capability(strings.TrimPrefix(r.URL.Path, "/api/"))
		group, known := capGroups[cap]
		if !known {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown capability %q", cap),
				"POST /api/chat, /api/weather_current, /api/weather_forecast, /api/exchange_rate, /api/exchange_history, /api/geocoding or /api/geolocate")
			return
		}
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "POST the request payload as JSON")
			return
		}

		body, rerr := io.ReadAll(http.MaxBytesReader(w, r.Body, *bodyLimit))
		if rerr != nil {
			var mbe *http.MaxBytesError
			if errors.As(rerr, &mbe) {
				relayRequests.WithLabelValues(string(cap), "413").Inc()
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large",
					fmt.Sprintf("bodies are capped at %d bytes", *bodyLimit))
				return
			}
			relayRequests.WithLabelValues(string(cap), "400").Inc()
			writeError(w, http.StatusBadRequest, "read body: "+rerr.Error(), "resend the request")
			return
		}

		payload, derr := decodePayload(cap, body)
		if derr != nil {
			relayRequests.WithLabelValues(string(cap), "400").Inc()
			writeError(w, http.StatusBadRequest, "malformed payload: "+derr.Error(),
				"send the capability's request payload as a JSON object")
			return
		}

		ip := clientIP(r)
		if wait := budgets.admit(ip, group); wait > 0 {
			budgetDenials.WithLabelValues(string(cap)).Inc()
			relayRequests.WithLabelValues(string(cap), "429").Inc()
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(wait.Seconds())+1))
			writeError(w, http.StatusTooManyRequests,
				fmt.Sprintf("hourly %s budget spent", group),
				fmt.Sprintf("retry in %s, or run your own relay with your own keys", wait.Round(time.Second)))
			return
		}

		reply, err := c.Dispatch.Call(r.Context(), cap, payload, dispatch.CallOptions{})
		if err != nil {
			if dispatch.KindOf(err) == dispatch.KindCancelled {
				// Client hung up; there is nobody to answer.
				relayRequests.WithLabelValues(string(cap), "499").Inc()
				return
			}
			status := statusFor(err)
			relayRequests.WithLabelValues(string(cap), fmt.Sprintf("%d", status)).Inc()
			if ce, ok := err.(*dispatch.CallError); ok && ce.RetryAfter > 0 {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(ce.RetryAfter.Seconds())+1))
			}
			hint := "every upstream provider failed; try again shortly"
			if status < http.StatusInternalServerError {
				hint = "the request itself was rejected; check the payload"
			}
			writeError(w, status, err.Error(), hint)
			return
		}

		w.Header().Set("X-Served-By", reply.Provider)
		relayRequests.WithLabelValues(string(cap), "200").Inc()
		writeJSON(w, http.StatusOK, reply.Payload)
	})

	// 5. Serve until a signal arrives, then drain before the deferred
	// core teardown runs its final history flush.
	server := &http.Server{
		Addr:              *httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("mdsaad-proxy %s listening on %s", version, *httpAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
