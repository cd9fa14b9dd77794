// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jllopis/reasoningbank/pkg/llm"
)

// ScenarioProvider is a mock llm.Provider for whole-run tests, where agent
// turns and memory extraction calls share one model. Queued responses may
// carry a condition; each call consumes the first queued response whose
// condition matches the request.
type ScenarioProvider struct {
	mu        sync.Mutex
	responses []ScriptedResponse
	requests  []llm.ChatRequest
	fallback  func(req llm.ChatRequest) (*llm.ChatResponse, error)
}

// ScriptedResponse is one queued reply.
type ScriptedResponse struct {
	Content string
	Error   error
	// Condition restricts the response to matching requests. Nil matches
	// every request.
	Condition func(req llm.ChatRequest) bool
}

// NewScenarioProvider creates an empty scenario provider.
func NewScenarioProvider() *ScenarioProvider {
	return &ScenarioProvider{}
}

// AddResponse queues an unconditional response.
func (p *ScenarioProvider) AddResponse(content string) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Content: content})
}

// AddErrorResponse queues an unconditional error.
func (p *ScenarioProvider) AddErrorResponse(err error) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Error: err})
}

// When queues content for the next request matching cond.
func (p *ScenarioProvider) When(cond func(req llm.ChatRequest) bool, content string) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Content: content, Condition: cond})
}

// AddScriptedResponse queues a fully configured response.
func (p *ScenarioProvider) AddScriptedResponse(resp ScriptedResponse) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, resp)
	return p
}

// WithFallback answers requests no queued response matches.
func (p *ScenarioProvider) WithFallback(fn func(req llm.ChatRequest) (*llm.ChatResponse, error)) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallback = fn
	return p
}

// Chat implements llm.Provider.
func (p *ScenarioProvider) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	for i, resp := range p.responses {
		if resp.Condition != nil && !resp.Condition(req) {
			continue
		}
		p.responses = append(p.responses[:i], p.responses[i+1:]...)
		if resp.Error != nil {
			return nil, resp.Error
		}
		return &llm.ChatResponse{
			Content:      resp.Content,
			FinishReason: "stop",
			Usage:        llm.Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
		}, nil
	}
	if p.fallback != nil {
		return p.fallback(req)
	}
	return nil, fmt.Errorf("no scripted response matches call %d", len(p.requests))
}

// Requests returns every captured request.
func (p *ScenarioProvider) Requests() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.ChatRequest(nil), p.requests...)
}

// RequestsWhere returns the captured requests matching cond.
func (p *ScenarioProvider) RequestsWhere(cond func(req llm.ChatRequest) bool) []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []llm.ChatRequest
	for _, r := range p.requests {
		if cond(r) {
			out = append(out, r)
		}
	}
	return out
}

// LastRequest returns the most recent request, or nil.
func (p *ScenarioProvider) LastRequest() *llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	req := p.requests[len(p.requests)-1]
	return &req
}

// CallCount returns the number of Chat calls made.
func (p *ScenarioProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Pending returns how many queued responses are still unused.
func (p *ScenarioProvider) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.responses)
}

// SystemContains matches requests whose system message contains substr.
func SystemContains(substr string) func(llm.ChatRequest) bool {
	return messageContains(llm.RoleSystem, substr)
}

// UserContains matches requests whose user message contains substr.
func UserContains(substr string) func(llm.ChatRequest) bool {
	return messageContains(llm.RoleUser, substr)
}

func messageContains(role llm.Role, substr string) func(llm.ChatRequest) bool {
	return func(req llm.ChatRequest) bool {
		for _, m := range req.Messages {
			if m.Role == role && strings.Contains(m.Content, substr) {
				return true
			}
		}
		return false
	}
}

// IsExtraction matches the memory extractor's requests.
func IsExtraction(req llm.ChatRequest) bool {
	return SystemContains("You are an expert at analyzing science experiment")(req)
}

// IsAgentTurn matches the ReAct agent's requests.
func IsAgentTurn(req llm.ChatRequest) bool {
	return SystemContains("You are an intelligent agent")(req)
}

// ReAct formats a model reply in the agent's Think/Action format.
func ReAct(thought, action string) string {
	return "Think: " + thought + "\n\nAction: " + action
}

// Entry is one memory item in an extraction reply.
type Entry struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

// ExtractionReply renders entries as the JSON array the extractor parses.
func ExtractionReply(entries ...Entry) string {
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		panic(err)
	}
	return "```json\n" + string(b) + "\n```"
}
