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

package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a failed call for callers and for exit-code mapping.
type Kind int

const (
	KindInvalidInput Kind = iota + 1
	KindNoProviders
	KindRateLimited
	KindClient
	KindUpstreamUnavailable
	KindDeadlineExceeded
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNoProviders:
		return "no_providers"
	case KindRateLimited:
		return "rate_limited"
	case KindClient:
		return "client_error"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindDeadlineExceeded:
		return "deadline_exceeded"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// AttemptReason records why one provider did not produce the reply:
// skipped before contact (circuit_open, rate_limited, unsupported) or
// failed after it (timeout, network, http_503, bad_response, ...).
type AttemptReason struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

// CallError is the one error type the fabric returns. Kind drives exit
// codes; Reasons carries the per-provider failover trail for verbose
// output. Matching is by Kind: errors.Is(err, ErrRateLimited).
type CallError struct {
	Kind       Kind
	Message    string
	Status     int    // HTTP status for KindClient
	Provider   string // provider that produced a terminal error
	RetryAfter time.Duration
	Reasons    []AttemptReason
	Err        error
}

// Kind sentinels for errors.Is.
var (
	ErrInvalidInput        = &CallError{Kind: KindInvalidInput}
	ErrNoProviders         = &CallError{Kind: KindNoProviders}
	ErrRateLimited         = &CallError{Kind: KindRateLimited}
	ErrClient              = &CallError{Kind: KindClient}
	ErrUpstreamUnavailable = &CallError{Kind: KindUpstreamUnavailable}
	ErrDeadlineExceeded    = &CallError{Kind: KindDeadlineExceeded}
	ErrCancelled           = &CallError{Kind: KindCancelled}
)

func (e *CallError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (http %d", e.Status)
		if e.Provider != "" {
			fmt.Fprintf(&b, " from %s", e.Provider)
		}
		b.WriteString(")")
	}
	if e.RetryAfter > 0 {
		fmt.Fprintf(&b, ", retry in %s", e.RetryAfter.Round(time.Millisecond))
	}
	if len(e.Reasons) > 0 {
		b.WriteString(" [")
		for i, r := range e.Reasons {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(r.Provider)
			b.WriteString("=")
			b.WriteString(r.Reason)
		}
		b.WriteString("]")
	}
	return b.String()
}

func (e *CallError) Unwrap() error { return e.Err }

// Is matches any *CallError of the same Kind, so sentinel comparisons
// work without identity.
func (e *CallError) Is(target error) bool {
	t, ok := target.(*CallError)
	return ok && t.Kind == e.Kind
}

// KindOf extracts the Kind from any error in the chain, or zero.
func KindOf(err error) Kind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}
