// Copyright 2025 Poiesic Systems
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

package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/poiesic/docportal/ai"
	"github.com/poiesic/docportal/core"
)

const (
	// maxAnalysisChars caps the document text sent for analysis.
	maxAnalysisChars = 24000

	// maxTopics caps the topics kept from a response.
	maxTopics = 8

	// parseAttempts is how many times a malformed response is regenerated.
	parseAttempts = 3
)

// Analyzer implements ai.Analyzer using OpenAI-compatible chat APIs in
// JSON mode.
type Analyzer struct {
	client llms.Model
	gate   *gate
	logger *slog.Logger
}

var _ ai.Analyzer = (*Analyzer)(nil)

// analysisResponse matches the JSON object the model is asked for.
type analysisResponse struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Topics  []string `json:"topics"`
}

func newAnalyzer(config *ai.Config, g *gate) (*Analyzer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.GenerationHost),
		openai.WithToken(config.Token),
		openai.WithModel(config.GenerationModel),
	)
	if err != nil {
		return nil, err
	}

	return &Analyzer{
		client: client,
		gate:   g,
		logger: slog.Default().With("component", "openai-analyzer"),
	}, nil
}

// NewAnalyzer creates a new document analyzer using the provided configuration.
//
// Returns ai.Analyzer interface to enforce abstraction.
func NewAnalyzer(config *ai.Config) (ai.Analyzer, error) {
	return newAnalyzer(config, &gate{})
}

// Analyze asks the model for a title, summary and key topics of text.
// Responses that do not parse are regenerated up to parseAttempts times.
func (a *Analyzer) Analyze(ctx context.Context, text string) (*ai.Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, core.ErrEmptyText
	}
	if err := a.gate.enter(); err != nil {
		return nil, err
	}
	defer a.gate.leave()

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, analysisSystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, truncateText(text, maxAnalysisChars)),
	}

	var lastErr error
	for attempt := 1; attempt <= parseAttempts; attempt++ {
		response, err := a.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			a.logger.Error("failed to generate analysis", "attempt", attempt, "err", err)
			return nil, fmt.Errorf("%w: %w", core.ErrGenerationUnavailable, err)
		}
		if len(response.Choices) < 1 {
			return nil, fmt.Errorf("%w: no choices returned", core.ErrGenerationUnavailable)
		}
		choice := response.Choices[0]
		if strings.EqualFold(choice.StopReason, stopContentFilter) {
			return nil, core.ErrGenerationRefused
		}

		analysis, err := parseAnalysis(choice.Content)
		if err != nil {
			lastErr = err
			a.logger.Warn("error parsing analysis response", "attempt", attempt, "response", choice.Content, "err", err)
			continue
		}
		a.logger.Debug("analyzed document", "text_len", len(text), "topics", len(analysis.Topics))
		return analysis, nil
	}

	a.logger.Error("failed to parse analysis response after retries", "err", lastErr)
	return nil, fmt.Errorf("%w: %w", core.ErrAnalysisFailed, lastErr)
}

// parseAnalysis strips code fences, repairs common key-quoting mistakes
// and decodes the response. A response without a title and summary fails.
func parseAnalysis(raw string) (*ai.Analysis, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = repairJSON(strings.TrimSpace(text))

	var resp analysisResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, err
	}
	resp.Title = strings.TrimSpace(resp.Title)
	resp.Summary = strings.TrimSpace(resp.Summary)
	if resp.Title == "" && resp.Summary == "" {
		return nil, errEmptyAnalysis
	}
	return &ai.Analysis{
		Title:   resp.Title,
		Summary: resp.Summary,
		Topics:  normalizeTopics(resp.Topics),
	}, nil
}

// normalizeTopics lowercases, trims and dedupes topics, keeping order.
func normalizeTopics(topics []string) []string {
	seen := make(map[string]bool, len(topics))
	out := make([]string, 0, min(len(topics), maxTopics))
	for _, t := range topics {
		t = strings.ToLower(strings.Join(strings.Fields(t), " "))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == maxTopics {
			break
		}
	}
	return out
}

// truncateText cuts s to at most limit bytes on a rune boundary.
func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
