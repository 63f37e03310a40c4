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
	"net/url"
	"strings"
)

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"` // user | model
	Parts []googlePart `json:"parts"`
}

type googleChatBody struct {
	Contents         []googleContent `json:"contents"`
	GenerationConfig *struct {
		Temperature     float64 `json:"temperature,omitempty"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
		TopP            float64 `json:"topP,omitempty"`
	} `json:"generationConfig,omitempty"`
}

// buildGoogleChat formats a generateContent call. Gemini knows only user
// and model roles, so the system prompt is folded into the first user
// turn. The credential travels as the key query parameter per Google's
// convention (Provider.KeyInURL).
func buildGoogleChat(p Provider, req ChatRequest) (Request, error) {
	if err := req.validate(); err != nil {
		return Request{}, err
	}

	var system string
	contents := make([]googleContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "assistant":
			contents = append(contents, googleContent{Role: "model", Parts: []googlePart{{Text: m.Content}}})
		default:
			contents = append(contents, googleContent{Role: "user", Parts: []googlePart{{Text: m.Content}}})
		}
	}
	if system != "" {
		for i := range contents {
			if contents[i].Role == "user" {
				contents[i].Parts[0].Text = system + "\n\n" + contents[i].Parts[0].Text
				break
			}
		}
	}

	body := googleChatBody{Contents: contents}
	if req.Temperature != 0 || req.MaxTokens != 0 || req.TopP != 0 {
		body.GenerationConfig = &struct {
			Temperature     float64 `json:"temperature,omitempty"`
			MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
			TopP            float64 `json:"topP,omitempty"`
		}{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			TopP:            req.TopP,
		}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Request{}, fmt.Errorf("provider: marshal chat body: %w", err)
	}

	model := p.ResolveModel(req.Model)
	return Request{
		Method: http.MethodPost,
		URL: fmt.Sprintf("%s/models/%s:generateContent?key=%s",
			p.BaseURL, url.PathEscape(model), url.QueryEscape(p.Credential)),
		Endpoint: "/models/generateContent",
		Body:     raw,
	}, nil
}

type googleChatResponse struct {
	Candidates []struct {
		Content struct {
			Parts []googlePart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func parseGoogleChat(raw []byte) (interface{}, error) {
	var resp googleChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("provider: decode chat response: %w", err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("provider: prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return nil, errors.New("provider: chat response has no candidates")
	}
	cand := resp.Candidates[0]
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		sb.WriteString(part.Text)
	}
	content := sb.String()
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("provider: chat response has no content")
	}
	return NormalizedReply{
		Content: content,
		Model:   resp.ModelVersion,
		Usage: Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
		FinishReason: strings.ToLower(cand.FinishReason),
	}, nil
}
