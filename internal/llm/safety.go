// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package llm

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/s5unanow/horadus/internal/logging"
)

const (
	// DefaultCharsPerToken is the conservative token estimation heuristic.
	DefaultCharsPerToken = 4

	// DefaultTruncationMarker flags truncated payloads to the model.
	DefaultTruncationMarker = "[TRUNCATED]"
)

// EstimateTokens approximates token count as ceil(len/charsPerToken),
// minimum 1 for non-empty text.
func EstimateTokens(text string, charsPerToken int) int {
	if charsPerToken < 1 {
		charsPerToken = 1
	}
	if text == "" {
		return 0
	}
	tokens := (len(text) + charsPerToken - 1) / charsPerToken
	if tokens < 1 {
		return 1
	}
	return tokens
}

// TruncateToTokenLimit trims text to an approximate token budget, appending
// the marker when content was dropped.
func TruncateToTokenLimit(text string, maxTokens int, marker string, charsPerToken int) string {
	if marker == "" {
		marker = DefaultTruncationMarker
	}
	if charsPerToken < 1 {
		charsPerToken = 1
	}
	normalized := strings.TrimSpace(text)
	if maxTokens <= 0 {
		return marker
	}
	if normalized == "" {
		return normalized
	}
	if EstimateTokens(normalized, charsPerToken) <= maxTokens {
		return normalized
	}

	maxChars := maxTokens * charsPerToken
	if maxChars <= len(marker) {
		return marker
	}
	keep := maxChars - len(marker) - 1
	if keep < 1 {
		keep = 1
	}
	truncated := strings.TrimRight(normalized[:keep], " \t\n")
	return strings.TrimSpace(truncated + " " + marker)
}

// WrapUntrustedText delimits untrusted content in an explicit tag pair so
// prompts can instruct the model to treat it as data only.
func WrapUntrustedText(text, tag string) string {
	safeTag := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(tag)), "-", "_")
	return "<" + safeTag + ">\n" + strings.TrimSpace(text) + "\n</" + safeTag + ">"
}

// SafePayloadOptions configures BuildSafePayloadContent.
type SafePayloadOptions struct {
	Tag              string
	MaxTokens        int
	CharsPerToken    int
	TruncationMarker string
	WarningMessage   string
}

// BuildSafePayloadContent serializes a payload, truncates it to the token
// budget with a logged warning, and wraps it for injection safety.
func BuildSafePayloadContent(payload any, opts SafePayloadOptions) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	content := string(raw)

	charsPerToken := opts.CharsPerToken
	if charsPerToken < 1 {
		charsPerToken = DefaultCharsPerToken
	}
	if opts.MaxTokens > 0 {
		estimated := EstimateTokens(content, charsPerToken)
		if estimated > opts.MaxTokens {
			message := opts.WarningMessage
			if message == "" {
				message = "LLM payload exceeds token budget; truncating"
			}
			logging.Warn().
				Int("estimated_tokens", estimated).
				Int("max_tokens", opts.MaxTokens).
				Msg(message)
			content = TruncateToTokenLimit(content, opts.MaxTokens, opts.TruncationMarker, charsPerToken)
		}
	}
	return WrapUntrustedText(content, opts.Tag), nil
}
