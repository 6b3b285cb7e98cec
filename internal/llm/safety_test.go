// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package llm

import (
	"strings"
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text          string
		charsPerToken int
		want          int
	}{
		{"", 4, 0},
		{"abcd", 4, 1},
		{"abcde", 4, 2},
		{"abcdefgh", 4, 2},
		{"a", 4, 1},
		{"abcd", 0, 4}, // invalid chars-per-token defaults to 1
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text, tt.charsPerToken); got != tt.want {
			t.Errorf("EstimateTokens(%q, %d) = %d, want %d", tt.text, tt.charsPerToken, got, tt.want)
		}
	}
}

func TestTruncateToTokenLimit(t *testing.T) {
	long := strings.Repeat("x", 100)

	got := TruncateToTokenLimit(long, 5, "[TRUNCATED]", 4)
	if !strings.HasSuffix(got, "[TRUNCATED]") {
		t.Errorf("truncated text missing marker: %q", got)
	}
	if len(got) > 5*4 {
		t.Errorf("truncated text length %d exceeds budget %d", len(got), 20)
	}

	short := "short text"
	if got := TruncateToTokenLimit(short, 100, "[TRUNCATED]", 4); got != short {
		t.Errorf("under-budget text must pass through, got %q", got)
	}

	if got := TruncateToTokenLimit(long, 0, "[TRUNCATED]", 4); got != "[TRUNCATED]" {
		t.Errorf("zero budget yields marker only, got %q", got)
	}
}

func TestWrapUntrustedText(t *testing.T) {
	got := WrapUntrustedText("payload", "news-items")
	want := "<NEWS_ITEMS>\npayload\n</NEWS_ITEMS>"
	if got != want {
		t.Errorf("WrapUntrustedText = %q, want %q", got, want)
	}
}

func TestBuildSafePayloadContent(t *testing.T) {
	payload := map[string]any{"items": []string{"a", "b"}}
	got, err := BuildSafePayloadContent(payload, SafePayloadOptions{
		Tag:       "news_items",
		MaxTokens: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "<NEWS_ITEMS>\n") || !strings.HasSuffix(got, "\n</NEWS_ITEMS>") {
		t.Errorf("payload not wrapped: %q", got)
	}
	if !strings.Contains(got, `"items"`) {
		t.Errorf("payload JSON missing: %q", got)
	}
}

func TestBuildSafePayloadContent_Truncates(t *testing.T) {
	payload := map[string]string{"content": strings.Repeat("y", 10000)}
	got, err := BuildSafePayloadContent(payload, SafePayloadOptions{
		Tag:       "data",
		MaxTokens: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "[TRUNCATED]") {
		t.Errorf("oversized payload must carry truncation marker: %q", got[:80])
	}
}
