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

package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// The OpenAI chat-completions dialect covers OpenRouter, Groq and DeepSeek;
// they differ only in base URL and model names.

type openAIChatBody struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	Stream      bool      `json:"stream"`
}

func buildOpenAIChat(p Provider, req ChatRequest) (Request, error) {
	if err := req.validate(); err != nil {
		return Request{}, err
	}
	body := openAIChatBody{
		Model:       p.ResolveModel(req.Model),
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		// Streaming is emulated above the wire; see NormalizedReply.Chunks.
		Stream: false,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Request{}, fmt.Errorf("provider: marshal chat body: %w", err)
	}
	return Request{
		Method:   http.MethodPost,
		URL:      p.BaseURL + "/chat/completions",
		Endpoint: "/chat/completions",
		Body:     raw,
	}, nil
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	// Some gateways answer 200 with an error envelope instead of choices.
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func parseOpenAIChat(raw []byte) (interface{}, error) {
	var resp openAIChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("provider: decode chat response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("provider: upstream error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("provider: chat response has no choices")
	}
	choice := resp.Choices[0]
	content := choice.Message.Content
	if content == "" {
		content = choice.Text // legacy completions shape
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("provider: chat response has no content")
	}
	return NormalizedReply{
		Content: content,
		Model:   resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: choice.FinishReason,
	}, nil
}
