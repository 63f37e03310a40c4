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

package ops

import (
	"context"
	"errors"
	"strings"
	"time"

	"mdsaad/internal/dispatch"
	"mdsaad/internal/history"
	"mdsaad/internal/provider"
	"mdsaad/internal/proxy"
)

// contextDepth is how many past exchanges "recent" context includes.
const contextDepth = 5

// ChatService runs chat completions: optional system prompt, history
// context, model-to-provider routing, proxy-first dispatch.
type ChatService struct {
	d Deps
}

func NewChat(d Deps) *ChatService { return &ChatService{d: d} }

// ChatOptions tune one exchange.
type ChatOptions struct {
	Model       string
	Provider    string // explicit provider forces direct dispatch
	System      string
	Context     string // none, recent (default) or all
	Temperature float64
	MaxTokens   int
	TopP        float64
	Stream      bool
}

// ChatResult is one completed exchange.
type ChatResult struct {
	Reply         provider.NormalizedReply
	Provider      string
	Via           string
	Attempt       int
	Elapsed       time.Duration
	RequestID     string
	ProxyAttempts []proxy.Attempt // relay attempts that failed before fallback
}

// Run sends prompt and returns the normalized reply. The exchange is
// appended to history on success, so the next call's recent context
// includes it.
func (s *ChatService) Run(ctx context.Context, prompt string, o ChatOptions) (*ChatResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, invalidInput("prompt is empty")
	}
	mode := o.Context
	if mode == "" {
		mode = "recent"
	}
	switch mode {
	case "none", "recent", "all":
	default:
		return nil, invalidInput("context must be none, recent or all, not %q", o.Context)
	}
	if o.Provider != "" {
		if _, ok := s.d.Registry.Get(o.Provider); !ok {
			return nil, invalidInput("unknown provider %q", o.Provider)
		}
	}

	msgs := make([]provider.Message, 0, 2*contextDepth+2)
	if sys := strings.TrimSpace(o.System); sys != "" {
		msgs = append(msgs, provider.Message{Role: "system", Content: sys})
	}
	msgs = append(msgs, s.contextMessages(mode)...)
	msgs = append(msgs, provider.Message{Role: "user", Content: prompt})

	req := provider.ChatRequest{
		Model:       o.Model,
		Messages:    msgs,
		Temperature: o.Temperature,
		MaxTokens:   o.MaxTokens,
		TopP:        o.TopP,
		Stream:      o.Stream,
	}

	preferred := o.Provider
	if preferred == "" && o.Model != "" {
		if id, ok := s.d.Registry.ProviderForModel(o.Model); ok {
			preferred = id
		}
	}

	// An explicit --provider pins the direct path: the relay chooses its
	// own upstream and cannot honor the pin.
	var proxyAttempts []proxy.Attempt
	if s.d.proxyFirst() && o.Provider == "" {
		res, err := s.d.Proxy.Call(ctx, provider.CapChat, req)
		if err == nil {
			reply, ok := res.Payload.(provider.NormalizedReply)
			if !ok {
				return nil, invalidInput("relay returned an unexpected payload")
			}
			s.remember(prompt, reply, "proxy", ViaProxy)
			return &ChatResult{
				Reply:    reply,
				Provider: "proxy",
				Via:      ViaProxy,
				Attempt:  res.Attempt,
			}, nil
		}
		var ex *proxy.ExhaustedError
		if !errors.As(err, &ex) {
			return nil, translateProxyErr(err)
		}
		proxyAttempts = ex.Attempts
		s.d.log().WithField("attempts", len(ex.Attempts)).Debug("relay exhausted, dispatching direct")
	}

	reply, err := s.d.Dispatch.Call(ctx, provider.CapChat, req, dispatch.CallOptions{Preferred: preferred})
	if err != nil {
		return nil, withProxyTrail(err, proxyAttempts)
	}
	norm, ok := reply.Payload.(provider.NormalizedReply)
	if !ok {
		return nil, invalidInput("provider returned an unexpected payload")
	}
	s.remember(prompt, norm, reply.Provider, ViaDirect)
	return &ChatResult{
		Reply:         norm,
		Provider:      reply.Provider,
		Via:           ViaDirect,
		Attempt:       reply.Attempt,
		Elapsed:       reply.Elapsed,
		RequestID:     reply.RequestID,
		ProxyAttempts: proxyAttempts,
	}, nil
}

// contextMessages rebuilds prior exchanges as alternating user/assistant
// turns. Only chat entries qualify; weather and convert history is noise
// to a language model.
func (s *ChatService) contextMessages(mode string) []provider.Message {
	if mode == "none" || s.d.History == nil {
		return nil
	}
	var chats []history.Entry
	for _, e := range s.d.History.All() {
		if e.Kind == "chat" {
			chats = append(chats, e)
		}
	}
	if mode == "recent" && len(chats) > contextDepth {
		chats = chats[len(chats)-contextDepth:]
	}
	msgs := make([]provider.Message, 0, 2*len(chats))
	for _, e := range chats {
		msgs = append(msgs,
			provider.Message{Role: "user", Content: e.Query},
			provider.Message{Role: "assistant", Content: e.Result},
		)
	}
	return msgs
}

func (s *ChatService) remember(prompt string, reply provider.NormalizedReply, servedBy, via string) {
	if s.d.History == nil {
		return
	}
	s.d.History.Append(history.Entry{
		Kind:     "chat",
		Query:    prompt,
		Result:   reply.Content,
		Provider: servedBy,
		Model:    reply.Model,
		Via:      via,
	})
}

// withProxyTrail prepends failed relay attempts to a CallError's reason
// list so verbose output shows the whole story.
func withProxyTrail(err error, attempts []proxy.Attempt) error {
	if len(attempts) == 0 {
		return err
	}
	var ce *dispatch.CallError
	if !errors.As(err, &ce) {
		return err
	}
	merged := make([]dispatch.AttemptReason, 0, len(attempts)+len(ce.Reasons))
	for _, a := range attempts {
		merged = append(merged, dispatch.AttemptReason{Provider: "proxy:" + a.URL, Reason: a.Reason, Detail: a.Detail})
	}
	ce.Reasons = append(merged, ce.Reasons...)
	return err
}
