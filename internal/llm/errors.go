// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

// Package llm unifies LLM invocation policy: payload safety, per-route retry
// with circuit breaking, provider failover, strict-schema fallback, semantic
// caching, and usage accounting.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrorCode classifies an invocation failure for retry decisions.
type ErrorCode string

const (
	CodeRateLimit    ErrorCode = "rate_limit"
	CodeHTTP5xx      ErrorCode = "http_5xx"
	CodeTimeout      ErrorCode = "timeout"
	CodeConnection   ErrorCode = "connection_error"
	CodeNonRetryable ErrorCode = "non_retryable"
)

// InvocationError is the classified form of a provider failure.
type InvocationError struct {
	Code       ErrorCode
	Retryable  bool
	StatusCode int
	Err        error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("llm invocation failed (%s): %v", e.Code, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Classify maps an arbitrary error to its invocation classification.
// Retryable: rate limits (429), 5xx, timeouts, connection failures.
// Everything else, including other 4xx, propagates immediately.
func Classify(err error) *InvocationError {
	var classified *InvocationError
	if errors.As(err, &classified) {
		return classified
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &InvocationError{Code: CodeTimeout, Retryable: true, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &InvocationError{Code: CodeTimeout, Retryable: true, Err: err}
		}
		return &InvocationError{Code: CodeConnection, Retryable: true, Err: err}
	}

	return &InvocationError{Code: CodeNonRetryable, Retryable: false, Err: err}
}

func classifyStatus(status int, err error) *InvocationError {
	switch {
	case status == 429:
		return &InvocationError{Code: CodeRateLimit, Retryable: true, StatusCode: status, Err: err}
	case status >= 500:
		return &InvocationError{Code: CodeHTTP5xx, Retryable: true, StatusCode: status, Err: err}
	default:
		return &InvocationError{Code: CodeNonRetryable, Retryable: false, StatusCode: status, Err: err}
	}
}

// IsRetryable reports whether the error warrants retry or failover.
func IsRetryable(err error) bool {
	return Classify(err).Retryable
}

// IsStrictSchemaUnsupported detects the 400 shape providers return when
// json_schema response formats are not supported, so the invoker can retry
// the same route with the json_object fallback format.
func IsStrictSchemaUnsupported(err error) bool {
	classified := Classify(err)
	if classified.StatusCode != 400 {
		return false
	}
	message := strings.ToLower(classified.Err.Error())
	return strings.Contains(message, "json_schema") ||
		strings.Contains(message, "response_format") ||
		strings.Contains(message, "strict")
}
