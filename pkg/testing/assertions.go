// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"testing"

	"github.com/jllopis/reasoningbank/pkg/llm"
)

// RequestAssertions checks a captured model request. Failures are reported
// with t.Errorf so one chain can report several problems.
type RequestAssertions struct {
	t   *testing.T
	req llm.ChatRequest
}

// AssertRequest starts assertions on req. A nil request fails immediately.
func AssertRequest(t *testing.T, req *llm.ChatRequest) *RequestAssertions {
	t.Helper()
	if req == nil {
		t.Fatal("request is nil")
	}
	return &RequestAssertions{t: t, req: *req}
}

// HasModel asserts the request targets model.
func (r *RequestAssertions) HasModel(model string) *RequestAssertions {
	r.t.Helper()
	if r.req.Model != model {
		r.t.Errorf("expected model %q, got %q", model, r.req.Model)
	}
	return r
}

// HasMessageCount asserts the number of messages.
func (r *RequestAssertions) HasMessageCount(count int) *RequestAssertions {
	r.t.Helper()
	if len(r.req.Messages) != count {
		r.t.Errorf("expected %d messages, got %d", count, len(r.req.Messages))
	}
	return r
}

// HasSystemMessage asserts a system message contains substr.
func (r *RequestAssertions) HasSystemMessage(substr string) *RequestAssertions {
	r.t.Helper()
	if !SystemContains(substr)(r.req) {
		r.t.Errorf("no system message containing %q found", substr)
	}
	return r
}

// HasUserMessage asserts a user message contains substr.
func (r *RequestAssertions) HasUserMessage(substr string) *RequestAssertions {
	r.t.Helper()
	if !UserContains(substr)(r.req) {
		r.t.Errorf("no user message containing %q found", substr)
	}
	return r
}

// LacksUserMessage asserts no user message contains substr.
func (r *RequestAssertions) LacksUserMessage(substr string) *RequestAssertions {
	r.t.Helper()
	if UserContains(substr)(r.req) {
		r.t.Errorf("unexpected user message containing %q", substr)
	}
	return r
}

// HasTemperature asserts the sampling temperature.
func (r *RequestAssertions) HasTemperature(temp float64) *RequestAssertions {
	r.t.Helper()
	if r.req.Temperature != temp {
		r.t.Errorf("expected temperature %v, got %v", temp, r.req.Temperature)
	}
	return r
}

// HasMaxTokens asserts the token limit.
func (r *RequestAssertions) HasMaxTokens(n int) *RequestAssertions {
	r.t.Helper()
	if r.req.MaxTokens != n {
		r.t.Errorf("expected max tokens %d, got %d", n, r.req.MaxTokens)
	}
	return r
}

// HasThinking asserts the reasoning toggle is set to enabled.
func (r *RequestAssertions) HasThinking(enabled bool) *RequestAssertions {
	r.t.Helper()
	if r.req.EnableThinking == nil || *r.req.EnableThinking != enabled {
		r.t.Errorf("expected enable_thinking=%v, got %v", enabled, describeBool(r.req.EnableThinking))
	}
	return r
}

func describeBool(b *bool) string {
	if b == nil {
		return "unset"
	}
	if *b {
		return "true"
	}
	return "false"
}

// RequireNoError fails the test immediately if err is non-nil.
func RequireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}
