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

// Package proxy tries a list of hosted relay endpoints before any direct
// provider is consulted. The relay speaks the fabric's neutral payload
// shapes, so a successful proxy answer is indistinguishable from a direct
// one. Connection errors, 5xx and malformed payloads move to the next URL;
// 4xx stops the loop; exhausting the list yields ErrExhausted, which the
// operation layer reads as "go direct".
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"mdsaad/internal/provider"
	"mdsaad/internal/secure"
	"mdsaad/internal/telemetry"
)

const (
	chatTimeout  = 60 * time.Second
	fetchTimeout = 30 * time.Second

	maxResponseBytes = 8 << 20

	// defaultBlockFor is assumed when a relay 429 has no Retry-After.
	defaultBlockFor = 60 * time.Second
)

// Capability groups share one courtesy budget each. The relay is shared
// infrastructure; these client-side caps keep one user from draining it.
const (
	GroupChat    = "chat"
	GroupWeather = "weather"
	GroupConvert = "convert"
)

// defaultBudgets are requests per hour per capability group.
var defaultBudgets = map[string]int{
	GroupChat:    50,
	GroupWeather: 100,
	GroupConvert: 200,
}

// ErrExhausted means every relay URL failed with a transition-eligible
// error. Callers fall through to direct dispatch.
var ErrExhausted = errors.New("proxy: all endpoints failed")

// Attempt records one relay URL's failure for the verbose trail.
type Attempt struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// ExhaustedError wraps ErrExhausted with the per-URL trail.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString(ErrExhausted.Error())
	if len(e.Attempts) > 0 {
		b.WriteString(" [")
		for i, a := range e.Attempts {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(a.URL)
			b.WriteString("=")
			b.WriteString(a.Reason)
		}
		b.WriteString("]")
	}
	return b.String()
}

func (e *ExhaustedError) Unwrap() error { return ErrExhausted }

// RateLimitError is a throttle verdict: either the local courtesy budget
// is spent (Remote false) or the relay itself answered 429 (Remote true).
// Neither case falls through to direct providers; the user is being
// throttled, not the infrastructure.
type RateLimitError struct {
	Capability provider.Capability
	RetryAfter time.Duration
	Remote     bool
}

func (e *RateLimitError) Error() string {
	src := "local budget"
	if e.Remote {
		src = "relay"
	}
	return fmt.Sprintf("proxy: %s rate limit for %s, retry in %s",
		src, e.Capability, e.RetryAfter.Round(time.Second))
}

// ClientError is a terminal 4xx from the relay.
type ClientError struct {
	Status  int
	URL     string
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("proxy: http %d from %s: %s", e.Status, e.URL, e.Message)
}

// Result is a successful relay answer.
type Result struct {
	Payload interface{}
	URL     string
	Attempt int // 1-based index of the URL that answered
}

// Options configure a Client. URLs empty disables the layer entirely.
type Options struct {
	URLs    []string
	Client  *http.Client
	Log     *logrus.Logger
	Version string
	// Budgets override the per-group hourly caps; useful in tests.
	Budgets map[string]int
}

// Client is the relay-side half of dispatch. Safe for concurrent use.
type Client struct {
	urls    []string
	hc      *http.Client
	log     *logrus.Logger
	version string
	caps    map[string]*rate.Limiter
}

func NewClient(o Options) *Client {
	if o.Client == nil {
		o.Client = &http.Client{}
	}
	if o.Log == nil {
		o.Log = logrus.New()
	}
	caps := make(map[string]*rate.Limiter, len(defaultBudgets))
	for group, def := range defaultBudgets {
		n := def
		if v, ok := o.Budgets[group]; ok && v > 0 {
			n = v
		}
		caps[group] = rate.NewLimiter(rate.Every(time.Hour/time.Duration(n)), n)
	}
	return &Client{
		urls:    o.URLs,
		hc:      o.Client,
		log:     o.Log,
		version: o.Version,
		caps:    caps,
	}
}

// Enabled reports whether any relay URL is configured.
func (c *Client) Enabled() bool { return len(c.urls) > 0 }

// BudgetStat is a quota-view row for one courtesy-budget group.
type BudgetStat struct {
	Group     string
	Remaining int
	PerHour   int
}

// Budgets reports the client-side courtesy caps, sorted by group for
// stable output. Remaining is a floor snapshot; concurrent calls may
// consume tokens while it is read.
func (c *Client) Budgets() []BudgetStat {
	out := make([]BudgetStat, 0, len(c.caps))
	for group, lim := range c.caps {
		out = append(out, BudgetStat{
			Group:     group,
			Remaining: int(lim.Tokens()),
			PerHour:   lim.Burst(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}

// Group maps a capability to its courtesy-budget group.
func Group(cap provider.Capability) string {
	switch cap {
	case provider.CapChat:
		return GroupChat
	case provider.CapExchangeRate, provider.CapExchangeHistory:
		return GroupConvert
	default:
		return GroupWeather
	}
}

// Call posts the neutral payload to each relay URL in order and returns
// the first parseable answer. The error is one of: *RateLimitError,
// *ClientError, a context error, or *ExhaustedError.
func (c *Client) Call(ctx context.Context, cap provider.Capability, payload interface{}) (*Result, error) {
	if !c.Enabled() {
		return nil, &ExhaustedError{}
	}

	lim := c.caps[Group(cap)]
	res := lim.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		telemetry.RecordProxyAttempt("budget_denied")
		return nil, &RateLimitError{Capability: cap, RetryAfter: delay}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("proxy: marshal payload: %w", err)
	}

	timeout := fetchTimeout
	if cap == provider.CapChat {
		timeout = chatTimeout
	}

	var attempts []Attempt
	for i, base := range c.urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 {
			telemetry.RecordProxyFailover()
		}

		endpoint := strings.TrimRight(base, "/") + "/api/" + string(cap)
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		status, header, raw, execErr := c.post(attemptCtx, endpoint, body)
		cancel()

		log := c.log.WithFields(logrus.Fields{
			"proxy":      base,
			"capability": string(cap),
		})

		if execErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			reason := "connection"
			var nerr interface{ Timeout() bool }
			if errors.As(execErr, &nerr) && nerr.Timeout() || errors.Is(execErr, context.DeadlineExceeded) {
				reason = "timeout"
			}
			attempts = append(attempts, Attempt{URL: base, Reason: reason, Detail: execErr.Error()})
			log.WithError(execErr).Warn("proxy unreachable")
			continue
		}

		switch {
		case status >= 200 && status < 300:
			parsed, perr := provider.ParseProxyPayload(cap, secure.SanitizeJSON(raw))
			if perr != nil {
				// A relay that answers 200 with the wrong shape is broken.
				attempts = append(attempts, Attempt{URL: base, Reason: "bad_payload", Detail: perr.Error()})
				log.WithError(perr).Warn("proxy payload rejected")
				continue
			}
			telemetry.RecordProxyAttempt("success")
			return &Result{Payload: parsed, URL: base, Attempt: i + 1}, nil

		case status == http.StatusTooManyRequests:
			retry := retryAfter(header)
			if retry <= 0 {
				retry = defaultBlockFor
			}
			telemetry.RecordProxyAttempt("rate_limited")
			log.WithField("retry_after", retry).Warn("proxy throttled us")
			return nil, &RateLimitError{Capability: cap, RetryAfter: retry, Remote: true}

		case status >= 400 && status < 500:
			telemetry.RecordProxyAttempt("client_error")
			return nil, &ClientError{Status: status, URL: base, Message: errorMessage(status, raw)}

		default:
			attempts = append(attempts, Attempt{URL: base, Reason: fmt.Sprintf("http_%d", status)})
			log.WithField("status", status).Warn("proxy upstream error")
			continue
		}
	}

	telemetry.RecordProxyAttempt("exhausted")
	return nil, &ExhaustedError{Attempts: attempts}
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	secure.Harden(req.Header, c.version)

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, raw, nil
}

// retryAfter reads the delay-seconds form of Retry-After; the relay never
// sends the HTTP-date form.
func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// errorMessage digs a human line out of a relay error body.
func errorMessage(status int, raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if m := strings.TrimSpace(envelope.Error.Message); m != "" {
			return m
		}
		if m := strings.TrimSpace(envelope.Message); m != "" {
			return m
		}
	}
	return http.StatusText(status)
}
