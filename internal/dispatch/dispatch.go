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

// Package dispatch runs one logical operation against the provider fleet:
// candidates in priority order, rate admission, circuit checks, one HTTP
// attempt per provider, and strictly sequential failover. It returns
// either the first normalized success or a single CallError that knows
// why every candidate was skipped or failed.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mdsaad/internal/breaker"
	"mdsaad/internal/clock"
	"mdsaad/internal/provider"
	"mdsaad/internal/ratelimit"
	"mdsaad/internal/secure"
	"mdsaad/internal/telemetry"
)

const (
	// DefaultBudget bounds how long an attempt may wait on its own rate
	// window before the candidate is skipped instead.
	DefaultBudget = 2 * time.Second

	// defaultBlockFor is applied when a 429 carries no Retry-After.
	defaultBlockFor = 60 * time.Second

	// defaultAttemptTimeout guards providers with no timeout configured.
	defaultAttemptTimeout = 30 * time.Second
)

// Options wires a Dispatcher. Zero fields get working defaults except
// Registry, Limiter and Breaker, which are required.
type Options struct {
	Registry *provider.Registry
	Limiter  *ratelimit.Limiter
	Breaker  *breaker.Breaker
	Signer   *secure.Signer
	Clock    clock.Clock
	Log      *logrus.Logger
	Client   *http.Client
	Version  string
}

// CallOptions tune a single Call.
type CallOptions struct {
	// Preferred is tried first when it is an eligible candidate, e.g. the
	// provider owning an explicitly requested model.
	Preferred string
	// Budget bounds rate-admission waiting per candidate. DefaultBudget
	// when zero.
	Budget time.Duration
}

// Reply is a successful call: the capability's normalized payload plus
// attempt metadata for rendering and history.
type Reply struct {
	Payload   interface{}
	Provider  string
	Attempt   int // 1-based index of the winning attempt
	Elapsed   time.Duration
	RequestID string
}

// Dispatcher coordinates the registry, limiter, breaker and HTTP layer.
type Dispatcher struct {
	reg     *provider.Registry
	lim     *ratelimit.Limiter
	brk     *breaker.Breaker
	signer  *secure.Signer
	clk     clock.Clock
	log     *logrus.Logger
	hc      *http.Client
	version string
}

func New(o Options) *Dispatcher {
	if o.Clock == nil {
		o.Clock = clock.System{}
	}
	if o.Log == nil {
		o.Log = logrus.New()
	}
	if o.Client == nil {
		o.Client = NewHTTPClient()
	}
	if o.Signer == nil {
		o.Signer = secure.NewSigner("", o.Clock)
	}
	return &Dispatcher{
		reg:     o.Registry,
		lim:     o.Limiter,
		brk:     o.Breaker,
		signer:  o.Signer,
		clk:     o.Clock,
		log:     o.Log,
		hc:      o.Client,
		version: o.Version,
	}
}

// Call runs one operation against the capability's providers. Failover is
// strictly sequential; the first success wins and later candidates are
// never contacted.
func (d *Dispatcher) Call(ctx context.Context, cap provider.Capability, payload interface{}, opts CallOptions) (*Reply, error) {
	reqID := clock.NewRequestID(d.clk)
	log := d.log.WithFields(logrus.Fields{
		"request_id": reqID,
		"capability": string(cap),
	})
	started := d.clk.Now()
	telemetry.RecordRequestStart(string(cap))

	budget := opts.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}

	candidates := d.candidates(cap, opts.Preferred)
	if len(candidates) == 0 {
		err := d.noProviders(cap)
		telemetry.RecordRequestEnd(string(cap), "", "no_providers", 0)
		return nil, err
	}

	var (
		reasons     []AttemptReason
		minRetry    time.Duration
		rateLimited = true // stays true only while every skip is rate-flavored
		attempt     int
	)
	noteRetry := func(r time.Duration) {
		if r > 0 && (minRetry == 0 || r < minRetry) {
			minRetry = r
		}
	}

	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, d.interrupted(log, cap, started, err, reasons)
		}

		req, err := provider.FormatRequest(p, cap, payload)
		if err != nil {
			if errors.Is(err, provider.ErrUnsupported) {
				reasons = append(reasons, AttemptReason{Provider: p.ID, Reason: "unsupported"})
				rateLimited = false
				continue
			}
			telemetry.RecordRequestEnd(string(cap), p.ID, "invalid_input", 0)
			return nil, &CallError{Kind: KindInvalidInput, Message: err.Error(), Err: err, Reasons: reasons}
		}
		if err := secure.ValidateEndpoint(req.URL); err != nil {
			reasons = append(reasons, AttemptReason{Provider: p.ID, Reason: "bad_endpoint", Detail: err.Error()})
			rateLimited = false
			log.WithField("provider", p.ID).WithError(err).Warn("endpoint rejected")
			continue
		}

		verdict := d.brk.Allow(p.ID, p.Circuit)
		if !verdict.OK {
			reasons = append(reasons, AttemptReason{Provider: p.ID, Reason: "circuit_open"})
			rateLimited = false
			telemetry.RecordFailover(p.ID, "circuit_open")
			log.WithFields(logrus.Fields{
				"provider":  p.ID,
				"reopen_in": verdict.ReopenIn,
			}).Debug("circuit open, skipping")
			continue
		}

		dec, admitErr := d.admit(ctx, p.ID, req.Endpoint, p.RateLimit, budget)
		if admitErr != nil {
			if verdict.Probe {
				d.brk.AbandonProbe(p.ID)
			}
			return nil, d.interrupted(log, cap, started, admitErr, reasons)
		}
		if !dec.OK {
			if verdict.Probe {
				d.brk.AbandonProbe(p.ID)
			}
			reasons = append(reasons, AttemptReason{Provider: p.ID, Reason: "rate_limited", Detail: dec.Reason.String()})
			noteRetry(dec.RetryAfter)
			telemetry.RecordFailover(p.ID, "rate_limited")
			log.WithFields(logrus.Fields{
				"provider":    p.ID,
				"retry_after": dec.RetryAfter,
			}).Debug("rate window full, skipping")
			continue
		}

		attempt++
		attemptLog := log.WithFields(logrus.Fields{
			"provider": p.ID,
			"attempt":  attempt,
			"endpoint": req.Endpoint,
		})
		attemptLog.Debug("dispatching")

		timeout := p.Timeout
		if timeout <= 0 {
			timeout = defaultAttemptTimeout
		}
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		attemptStart := d.clk.Now()
		status, header, body, execErr := d.exec(attemptCtx, p, req)
		elapsed := d.clk.Now().Sub(attemptStart)
		cancel()

		if execErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				// Interrupted from above: the provider gets no failure mark.
				if verdict.Probe {
					d.brk.AbandonProbe(p.ID)
				}
				return nil, d.interrupted(log, cap, started, ctxErr, reasons)
			}
			reason := transportReason(execErr)
			d.brk.RecordFailure(p.ID, p.Circuit)
			reasons = append(reasons, AttemptReason{Provider: p.ID, Reason: reason, Detail: execErr.Error()})
			rateLimited = false
			telemetry.RecordFailover(p.ID, reason)
			attemptLog.WithError(execErr).Warn("attempt failed")
			continue
		}

		switch {
		case status >= 200 && status < 300:
			parsed, perr := provider.ParseResponse(p, cap, payload, secure.SanitizeJSON(body))
			if perr != nil {
				d.brk.RecordFailure(p.ID, p.Circuit)
				reasons = append(reasons, AttemptReason{Provider: p.ID, Reason: "bad_response", Detail: perr.Error()})
				rateLimited = false
				telemetry.RecordFailover(p.ID, "bad_response")
				attemptLog.WithError(perr).Warn("unusable 2xx body")
				continue
			}
			d.brk.RecordSuccess(p.ID)
			telemetry.RecordRequestEnd(string(cap), p.ID, "success", d.clk.Now().Sub(started).Seconds())
			attemptLog.WithFields(logrus.Fields{
				"status":     status,
				"elapsed_ms": elapsed.Milliseconds(),
			}).Debug("attempt succeeded")
			return &Reply{
				Payload:   parsed,
				Provider:  p.ID,
				Attempt:   attempt,
				Elapsed:   elapsed,
				RequestID: reqID,
			}, nil

		case status == http.StatusTooManyRequests:
			if verdict.Probe {
				d.brk.AbandonProbe(p.ID)
			}
			retry := parseRetryAfter(header, d.clk.WallNow())
			if retry <= 0 {
				retry = defaultBlockFor
			}
			d.lim.SetBlockedUntil(p.ID, req.Endpoint, d.clk.Now().Add(retry))
			reasons = append(reasons, AttemptReason{Provider: p.ID, Reason: "upstream_rate_limited"})
			noteRetry(retry)
			telemetry.RecordUpstreamBlock(p.ID)
			telemetry.RecordFailover(p.ID, "upstream_429")
			attemptLog.WithField("blocked_for", retry).Warn("upstream rate limited")
			continue

		case status >= 400 && status < 500:
			// Caller faults are terminal: the same key or payload would
			// fail on retry, and the circuit stays untouched.
			if verdict.Probe {
				d.brk.AbandonProbe(p.ID)
			}
			msg := upstreamMessage(status, body)
			telemetry.RecordRequestEnd(string(cap), p.ID, "client_error", d.clk.Now().Sub(started).Seconds())
			attemptLog.WithFields(logrus.Fields{
				"status":  status,
				"message": msg,
			}).Warn("terminal client error")
			return nil, &CallError{
				Kind:     KindClient,
				Status:   status,
				Provider: p.ID,
				Message:  msg,
				Reasons:  reasons,
			}

		default: // 5xx and anything else unusable
			d.brk.RecordFailure(p.ID, p.Circuit)
			reasons = append(reasons, AttemptReason{Provider: p.ID, Reason: fmt.Sprintf("http_%d", status)})
			rateLimited = false
			telemetry.RecordFailover(p.ID, "upstream_error")
			attemptLog.WithField("status", status).Warn("upstream error")
			continue
		}
	}

	if rateLimited && len(reasons) > 0 {
		telemetry.RecordRequestEnd(string(cap), "", "rate_limited", d.clk.Now().Sub(started).Seconds())
		return nil, &CallError{
			Kind:       KindRateLimited,
			Message:    "every provider is rate limited",
			RetryAfter: minRetry,
			Reasons:    reasons,
		}
	}
	telemetry.RecordRequestEnd(string(cap), "", "exhausted", d.clk.Now().Sub(started).Seconds())
	log.WithField("attempts", attempt).Warn("all providers failed")
	return nil, &CallError{
		Kind:    KindUpstreamUnavailable,
		Message: "all providers failed",
		Reasons: reasons,
	}
}

// candidates returns enabled, configured providers for the capability in
// failover order, with the preferred provider promoted when it qualifies.
func (d *Dispatcher) candidates(cap provider.Capability, preferred string) []provider.Provider {
	var out []provider.Provider
	for _, p := range d.reg.ListByCapability(cap) {
		if p.Enabled && p.Configured() {
			out = append(out, p)
		}
	}
	if preferred != "" {
		for i, p := range out {
			if p.ID == preferred && i > 0 {
				promoted := append([]provider.Provider{p}, out[:i]...)
				out = append(promoted, out[i+1:]...)
				break
			}
		}
	}
	return out
}

// noProviders builds the actionable "nothing to call" error, naming the
// environment variables that would light up the capability.
func (d *Dispatcher) noProviders(cap provider.Capability) *CallError {
	var envs []string
	for _, p := range d.reg.ListByCapability(cap) {
		if p.EnvKey != "" {
			envs = append(envs, p.EnvKey)
		}
	}
	msg := fmt.Sprintf("no configured provider supports %s", cap)
	if len(envs) > 0 {
		msg += "; set " + strings.Join(envs, " or ")
	}
	return &CallError{Kind: KindNoProviders, Message: msg}
}

// admit asks the rate limiter for a slot, sleeping out denials that fit
// the budget. The returned decision is the final one; an error means the
// context ended while waiting.
func (d *Dispatcher) admit(ctx context.Context, id, endpoint string, spec ratelimit.Spec, budget time.Duration) (ratelimit.Decision, error) {
	deadline := d.clk.Now().Add(budget)
	for {
		dec := d.lim.Admit(id, endpoint, spec)
		if dec.OK {
			return dec, nil
		}
		wait := dec.RetryAfter
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		if d.clk.Now().Add(wait).After(deadline) {
			return dec, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return dec, ctx.Err()
		case <-timer.C:
		}
	}
}

// interrupted maps a context error to the fabric's terminal kinds.
func (d *Dispatcher) interrupted(log *logrus.Entry, cap provider.Capability, started time.Time, err error, reasons []AttemptReason) error {
	elapsed := d.clk.Now().Sub(started).Seconds()
	if errors.Is(err, context.DeadlineExceeded) {
		telemetry.RecordRequestEnd(string(cap), "", "deadline", elapsed)
		log.Warn("call deadline exceeded")
		return &CallError{Kind: KindDeadlineExceeded, Message: "deadline exceeded", Err: err, Reasons: reasons}
	}
	telemetry.RecordRequestEnd(string(cap), "", "cancelled", elapsed)
	log.Debug("call cancelled")
	return &CallError{Kind: KindCancelled, Message: "cancelled", Err: err, Reasons: reasons}
}
