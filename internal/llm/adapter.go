// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"

	"github.com/s5unanow/horadus/internal/config"
)

// NewClientForRoute builds the ChatClient for a configured route, selecting
// the chat-completions or responses adapter by api_mode. The timeout is the
// per-route HTTP deadline.
func NewClientForRoute(route config.LLMRouteConfig, timeout time.Duration) (ChatClient, error) {
	if route.APIKey == "" {
		return nil, fmt.Errorf("llm: route %s/%s missing api key", route.Provider, route.Model)
	}
	switch route.APIMode {
	case "", "chat_completions":
		cfg := openai.DefaultConfig(route.APIKey)
		if route.BaseURL != "" {
			cfg.BaseURL = route.BaseURL
		}
		cfg.HTTPClient = &http.Client{Timeout: timeout}
		return &chatCompletionsClient{client: openai.NewClientWithConfig(cfg)}, nil
	case "responses":
		baseURL := route.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return &responsesClient{
			baseURL: strings.TrimRight(baseURL, "/"),
			apiKey:  route.APIKey,
			http:    &http.Client{Timeout: timeout},
		}, nil
	default:
		return nil, fmt.Errorf("llm: unsupported api mode %q", route.APIMode)
	}
}

// chatCompletionsClient speaks the chat-completions API shape via go-openai.
type chatCompletionsClient struct {
	client *openai.Client
}

func (c *chatCompletionsClient) CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	request := openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		Messages:    messages,
	}
	if req.ResponseFormat != nil {
		request.ResponseFormat = toOpenAIResponseFormat(req.ResponseFormat)
	}

	response, err := c.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, Classify(err)
	}
	if len(response.Choices) == 0 {
		return nil, &InvocationError{Code: CodeNonRetryable, Retryable: false,
			Err: fmt.Errorf("response missing choices")}
	}
	return &ChatResponse{
		Content:          response.Choices[0].Message.Content,
		PromptTokens:     response.Usage.PromptTokens,
		CompletionTokens: response.Usage.CompletionTokens,
	}, nil
}

func toOpenAIResponseFormat(format *ResponseFormat) *openai.ChatCompletionResponseFormat {
	if format.Type == FormatJSONSchema {
		schemaJSON, _ := json.Marshal(format.Schema)
		return &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   format.SchemaName,
				Schema: json.RawMessage(schemaJSON),
				Strict: format.Strict,
			},
		}
	}
	return &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	}
}

// responsesClient speaks the responses API shape directly and normalizes the
// result back to the chat-completions form: input_text segments on the way
// in, output_text concatenation and input/output token counts mapped to
// prompt/completion on the way out.
type responsesClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type responsesRequest struct {
	Model       string             `json:"model"`
	Temperature float32            `json:"temperature"`
	Input       []responsesMessage `json:"input"`
}

type responsesMessage struct {
	Role    string             `json:"role"`
	Content []responsesSegment `json:"content"`
}

type responsesSegment struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesResult struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *responsesClient) CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.ResponseFormat != nil {
		return nil, &InvocationError{Code: CodeNonRetryable, Retryable: false,
			Err: fmt.Errorf("responses adapter does not support response_format yet")}
	}

	input := make([]responsesMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := m.Role
		if role == "" {
			role = "user"
		}
		input = append(input, responsesMessage{
			Role:    role,
			Content: []responsesSegment{{Type: "input_text", Text: m.Content}},
		})
	}

	body, err := json.Marshal(responsesRequest{Model: req.Model, Temperature: req.Temperature, Input: input})
	if err != nil {
		return nil, &InvocationError{Code: CodeNonRetryable, Retryable: false, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return nil, &InvocationError{Code: CodeNonRetryable, Retryable: false, Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, Classify(err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode,
			fmt.Errorf("responses api status %d: %s", resp.StatusCode, truncateBody(payload)))
	}

	var result responsesResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, &InvocationError{Code: CodeNonRetryable, Retryable: false, Err: err}
	}

	text := strings.TrimSpace(result.OutputText)
	if text == "" {
		var chunks []string
		for _, item := range result.Output {
			for _, segment := range item.Content {
				if trimmed := strings.TrimSpace(segment.Text); trimmed != "" {
					chunks = append(chunks, trimmed)
				}
			}
		}
		text = strings.Join(chunks, "\n")
	}

	return &ChatResponse{
		Content:          text,
		PromptTokens:     result.Usage.InputTokens,
		CompletionTokens: result.Usage.OutputTokens,
	}, nil
}

func truncateBody(body []byte) string {
	const limit = 300
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
