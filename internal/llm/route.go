// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package llm

import (
	"context"
	"errors"
	"time"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormatType selects the structured-output mode for a request.
type ResponseFormatType string

const (
	FormatJSONObject ResponseFormatType = "json_object"
	FormatJSONSchema ResponseFormatType = "json_schema"
)

// ResponseFormat carries the structured-output request parameters.
type ResponseFormat struct {
	Type       ResponseFormatType
	SchemaName string
	Schema     map[string]any
	Strict     bool
}

// ChatRequest is the provider-independent request shape.
type ChatRequest struct {
	Model          string
	Temperature    float32
	Messages       []Message
	ResponseFormat *ResponseFormat
}

// ChatResponse is the normalized provider response: usage counts are always
// expressed as prompt/completion tokens regardless of the provider's API
// shape.
type ChatResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// ChatClient abstracts one provider connection.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Route is one provider/model path for a classification stage.
type Route struct {
	Provider string
	Model    string
	Client   ChatClient
}

// RetryPolicy bounds per-route retries before failover.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	BackoffCap  time.Duration
}

// Validate checks the policy invariants.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("llm: retry policy requires max_attempts >= 1")
	}
	if p.Backoff < 0 {
		return errors.New("llm: retry policy requires backoff >= 0")
	}
	return nil
}

// DefaultRetryPolicy matches the configured route defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, Backoff: 250 * time.Millisecond, BackoffCap: 30 * time.Second}
}
