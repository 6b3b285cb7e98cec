// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/s5unanow/horadus/internal/llm"
	"github.com/s5unanow/horadus/internal/models"
)

const (
	// contextChunkMaxChars caps each source excerpt in the tier-2 payload.
	contextChunkMaxChars = 2500

	// contextMaxItems is how many recent linked items feed the payload.
	contextMaxItems = 5
)

// EventStore is the persistence surface tier-2 needs.
type EventStore interface {
	ListEventContext(ctx context.Context, eventID uuid.UUID, limit int) ([][2]string, error)
	UpdateEvent(ctx context.Context, ev *models.Event) error
}

// Tier2EventResult summarizes one event classification.
type Tier2EventResult struct {
	EventID           uuid.UUID
	CategoriesCount   int
	TrendImpactsCount int
	TrendImpacts      []models.TrendImpact
}

// Tier2Classifier performs per-event structured extraction.
type Tier2Classifier struct {
	invoker  Invoker
	store    EventStore
	validate *validator.Validate
}

// NewTier2Classifier creates the extraction classifier.
func NewTier2Classifier(invoker Invoker, store EventStore) *Tier2Classifier {
	return &Tier2Classifier{invoker: invoker, store: store, validate: validator.New()}
}

type tier2ImpactOutput struct {
	TrendID    string  `json:"trend_id" validate:"required"`
	SignalType string  `json:"signal_type" validate:"required"`
	Direction  string  `json:"direction" validate:"required,oneof=escalatory de_escalatory"`
	Severity   float64 `json:"severity" validate:"min=0,max=1"`
	Confidence float64 `json:"confidence" validate:"min=0,max=1"`
	Rationale  *string `json:"rationale"`
}

type tier2Output struct {
	Summary        string              `json:"summary" validate:"required"`
	ExtractedWho   []string            `json:"extracted_who"`
	ExtractedWhat  string              `json:"extracted_what" validate:"required"`
	ExtractedWhere *string             `json:"extracted_where"`
	ExtractedWhen  *string             `json:"extracted_when"`
	Claims         []string            `json:"claims"`
	Categories     []string            `json:"categories"`
	TrendImpacts   []tier2ImpactOutput `json:"trend_impacts" validate:"dive"`
}

// ClassifyEvent runs structured extraction for one event and persists every
// extracted field, storing impacts in extracted_claims.trend_impacts.
func (c *Tier2Classifier) ClassifyEvent(ctx context.Context, event *models.Event, trends []models.Trend, contextChunks []string) (*Tier2EventResult, *Usage, error) {
	usage := &Usage{}
	if event.ID == uuid.Nil {
		return nil, usage, errors.New("classify: event must have an id")
	}
	if len(trends) == 0 {
		return nil, usage, ErrNoTrends
	}

	chunks := contextChunks
	if chunks == nil {
		var err error
		chunks, err = c.loadContext(ctx, event.ID)
		if err != nil {
			return nil, usage, err
		}
	}

	payload := c.buildPayload(event, trends, chunks)
	content, err := llm.BuildSafePayloadContent(payload, llm.SafePayloadOptions{
		Tag:            "event_context",
		WarningMessage: "Tier 2 payload exceeds token budget; truncating",
	})
	if err != nil {
		return nil, usage, fmt.Errorf("building tier2 payload: %w", err)
	}

	result, err := c.invoker.Invoke(ctx, llm.PolicyRequest{
		Stage: "tier2",
		Tier:  models.TierTwo,
		Messages: []llm.Message{
			{Role: "system", Content: tier2Prompt},
			{Role: "user", Content: content},
		},
		Temperature: 0,
		StrictFormat: &llm.ResponseFormat{
			Type:       llm.FormatJSONSchema,
			SchemaName: "event_extraction",
			Schema:     tier2Schema(),
			Strict:     true,
		},
		FallbackFormat: &llm.ResponseFormat{Type: llm.FormatJSONObject},
		PromptTemplate: tier2Prompt,
		CachePayload:   payload,
	})
	if err != nil {
		return nil, usage, err
	}
	usage.add(result)

	output, err := c.parseOutput(result.Content)
	if err != nil {
		return nil, usage, err
	}
	if err := c.validateAlignment(output, trends); err != nil {
		return nil, usage, err
	}

	impacts := c.applyOutput(event, output)
	if err := c.store.UpdateEvent(ctx, event); err != nil {
		return nil, usage, fmt.Errorf("persisting extraction: %w", err)
	}

	return &Tier2EventResult{
		EventID:           event.ID,
		CategoriesCount:   len(event.Categories),
		TrendImpactsCount: len(impacts),
		TrendImpacts:      impacts,
	}, usage, nil
}

func (c *Tier2Classifier) loadContext(ctx context.Context, eventID uuid.UUID) ([]string, error) {
	rows, err := c.store.ListEventContext(ctx, eventID, contextMaxItems)
	if err != nil {
		return nil, fmt.Errorf("loading event context: %w", err)
	}
	chunks := make([]string, 0, len(rows))
	for _, row := range rows {
		title := strings.TrimSpace(row[0])
		content := strings.TrimSpace(row[1])
		if content == "" {
			continue
		}
		chunk := content
		if title != "" {
			chunk = title + "\n\n" + content
		}
		if len(chunk) > contextChunkMaxChars {
			chunk = chunk[:contextChunkMaxChars] + "..."
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

type tier2Payload struct {
	EventID       string              `json:"event_id"`
	Summary       string              `json:"summary"`
	ContextChunks []string            `json:"context_chunks"`
	Trends        []tier2TrendPayload `json:"trends"`
}

type tier2TrendPayload struct {
	TrendID    string                  `json:"trend_id"`
	Name       string                  `json:"name"`
	Indicators []tier2IndicatorPayload `json:"indicators"`
}

type tier2IndicatorPayload struct {
	SignalType string   `json:"signal_type"`
	Direction  string   `json:"direction"`
	Keywords   []string `json:"keywords"`
}

func (c *Tier2Classifier) buildPayload(event *models.Event, trends []models.Trend, chunks []string) tier2Payload {
	trendPayloads := make([]tier2TrendPayload, 0, len(trends))
	for i := range trends {
		t := &trends[i]
		indicators := make([]tier2IndicatorPayload, 0, len(t.Indicators))
		for signalType, indicator := range t.Indicators {
			keywords := make([]string, 0, len(indicator.Keywords))
			for _, keyword := range indicator.Keywords {
				if normalized := strings.TrimSpace(keyword); normalized != "" {
					keywords = append(keywords, normalized)
				}
			}
			indicators = append(indicators, tier2IndicatorPayload{
				SignalType: signalType,
				Direction:  string(indicator.Direction),
				Keywords:   keywords,
			})
		}
		trendPayloads = append(trendPayloads, tier2TrendPayload{
			TrendID:    t.Identifier(),
			Name:       t.Name,
			Indicators: indicators,
		})
	}
	return tier2Payload{
		EventID:       event.ID.String(),
		Summary:       event.CanonicalSummary,
		ContextChunks: chunks,
		Trends:        trendPayloads,
	}
}

func (c *Tier2Classifier) parseOutput(content string) (*tier2Output, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("classify: tier2 response missing content")
	}
	decoder := json.NewDecoder(strings.NewReader(content))
	decoder.DisallowUnknownFields()
	output := &tier2Output{}
	if err := decoder.Decode(output); err != nil {
		return nil, fmt.Errorf("classify: tier2 response is not valid JSON: %w", err)
	}
	if err := c.validate.Struct(output); err != nil {
		return nil, fmt.Errorf("classify: tier2 response failed validation: %w", err)
	}
	if strings.TrimSpace(output.Summary) == "" || strings.TrimSpace(output.ExtractedWhat) == "" {
		return nil, errors.New("classify: tier2 response missing required fields")
	}
	return output, nil
}

// validateAlignment rejects unknown trend ids and duplicate per-trend
// impacts.
func (c *Tier2Classifier) validateAlignment(output *tier2Output, trends []models.Trend) error {
	expected := make(map[string]struct{}, len(trends))
	for i := range trends {
		expected[trends[i].Identifier()] = struct{}{}
	}
	seen := make(map[string]struct{}, len(output.TrendImpacts))
	for _, impact := range output.TrendImpacts {
		if _, ok := expected[impact.TrendID]; !ok {
			return fmt.Errorf("classify: tier2 response returned unknown trend id %s", impact.TrendID)
		}
		if _, dup := seen[impact.TrendID]; dup {
			return fmt.Errorf("classify: tier2 response duplicated trend id %s", impact.TrendID)
		}
		seen[impact.TrendID] = struct{}{}
	}
	return nil
}

func (c *Tier2Classifier) applyOutput(event *models.Event, output *tier2Output) []models.TrendImpact {
	event.CanonicalSummary = strings.TrimSpace(output.Summary)
	event.ExtractedWho = dedupeStrings(output.ExtractedWho)
	what := strings.TrimSpace(output.ExtractedWhat)
	event.ExtractedWhat = &what
	if output.ExtractedWhere != nil {
		if where := strings.TrimSpace(*output.ExtractedWhere); where != "" {
			event.ExtractedWhere = &where
		}
	}
	event.ExtractedWhen = parseWhen(output.ExtractedWhen)
	event.Categories = dedupeStrings(output.Categories)

	impacts := make([]models.TrendImpact, 0, len(output.TrendImpacts))
	for _, impact := range output.TrendImpacts {
		impacts = append(impacts, models.TrendImpact{
			TrendID:    impact.TrendID,
			SignalType: impact.SignalType,
			Direction:  models.Direction(impact.Direction),
			Severity:   impact.Severity,
			Confidence: impact.Confidence,
			Rationale:  impact.Rationale,
		})
	}
	event.ExtractedClaims = &models.ExtractedClaims{
		Claims:       dedupeStrings(output.Claims),
		TrendImpacts: impacts,
	}
	return impacts
}

func dedupeStrings(values []string) []string {
	var deduped []string
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		normalized := strings.TrimSpace(value)
		if normalized == "" {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		deduped = append(deduped, normalized)
	}
	return deduped
}

// parseWhen parses extracted_when leniently: RFC 3339 (Z or offset) and
// date-only forms, normalized to UTC. Unparseable values drop to nil rather
// than failing the extraction.
func parseWhen(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	value := strings.TrimSpace(*raw)
	if value == "" {
		return nil
	}

	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		parsed, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		utc := parsed.UTC()
		return &utc
	}
	return nil
}

// tier2Schema is the strict response schema sent as response_format.
func tier2Schema() map[string]any {
	stringArray := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"summary", "extracted_what", "extracted_who", "claims", "categories", "trend_impacts"},
		"properties": map[string]any{
			"summary":         map[string]any{"type": "string"},
			"extracted_what":  map[string]any{"type": "string"},
			"extracted_who":   stringArray,
			"extracted_where": map[string]any{"type": []string{"string", "null"}},
			"extracted_when":  map[string]any{"type": []string{"string", "null"}},
			"claims":          stringArray,
			"categories":      stringArray,
			"trend_impacts": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"trend_id", "signal_type", "direction", "severity", "confidence"},
					"properties": map[string]any{
						"trend_id":    map[string]any{"type": "string"},
						"signal_type": map[string]any{"type": "string"},
						"direction":   map[string]any{"type": "string", "enum": []string{"escalatory", "de_escalatory"}},
						"severity":    map[string]any{"type": "number", "minimum": 0, "maximum": 1},
						"confidence":  map[string]any{"type": "number", "minimum": 0, "maximum": 1},
						"rationale":   map[string]any{"type": []string{"string", "null"}},
					},
				},
			},
		},
	}
}
