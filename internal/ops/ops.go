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

// Package ops holds the user-facing operations: chat, weather and
// convert. Each is thin logic over the same machinery: proxy first when
// enabled, direct dispatch when the proxy is exhausted, cache where the
// operation defines one, history append on success.
package ops

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"mdsaad/internal/cache"
	"mdsaad/internal/clock"
	"mdsaad/internal/config"
	"mdsaad/internal/dispatch"
	"mdsaad/internal/history"
	"mdsaad/internal/provider"
	"mdsaad/internal/proxy"
)

// Dispatch answers. Results carry which path served them.
const (
	ViaProxy  = "proxy"
	ViaDirect = "direct"
)

// Deps is everything an operation may touch. Core builds one and hands
// it to each service; tests build partial ones.
type Deps struct {
	Registry *provider.Registry
	Dispatch *dispatch.Dispatcher
	Proxy    *proxy.Client
	Cache    *cache.Store
	History  *history.Buffer
	Config   *config.Config
	Clock    clock.Clock
	Log      *logrus.Logger
}

func (d Deps) log() *logrus.Logger {
	if d.Log != nil {
		return d.Log
	}
	return logrus.StandardLogger()
}

func (d Deps) clock() clock.Clock {
	if d.Clock != nil {
		return d.Clock
	}
	return clock.System{}
}

// proxyFirst reports whether operations should try the relay before
// direct providers.
func (d Deps) proxyFirst() bool {
	if d.Proxy == nil || !d.Proxy.Enabled() {
		return false
	}
	return d.Config == nil || d.Config.UseProxy
}

// invalidInput builds the caller-fault error every operation uses for
// argument validation.
func invalidInput(format string, args ...interface{}) error {
	return &dispatch.CallError{Kind: dispatch.KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// translateProxyErr maps the relay layer's terminal verdicts onto the
// dispatch taxonomy. ErrExhausted is deliberately not handled: callers
// treat it as "fall through to direct".
func translateProxyErr(err error) error {
	var rle *proxy.RateLimitError
	if errors.As(err, &rle) {
		msg := "relay rate limit reached"
		if !rle.Remote {
			msg = "shared relay budget spent; wait or configure provider keys"
		}
		return &dispatch.CallError{
			Kind:       dispatch.KindRateLimited,
			Message:    msg,
			RetryAfter: rle.RetryAfter,
			Err:        err,
		}
	}
	var ce *proxy.ClientError
	if errors.As(err, &ce) {
		return &dispatch.CallError{
			Kind:    dispatch.KindClient,
			Status:  ce.Status,
			Message: ce.Message,
			Err:     err,
		}
	}
	if errors.Is(err, context.Canceled) {
		return &dispatch.CallError{Kind: dispatch.KindCancelled, Message: "cancelled", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &dispatch.CallError{Kind: dispatch.KindDeadlineExceeded, Message: "deadline exceeded", Err: err}
	}
	return err
}
