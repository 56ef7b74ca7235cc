package intake

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/intake-service/internal/config"
	"github.com/sells-group/intake-service/internal/model"
	"github.com/sells-group/intake-service/internal/synthesis"
	"github.com/sells-group/intake-service/internal/workflow"
	"github.com/sells-group/intake-service/pkg/anthropic"
)

// extractToolName is the tool the model is forced to invoke when
// reporting field values.
const extractToolName = "record_field_values"

// extractSystemText is the cached system prompt for per-page extraction.
const extractSystemText = `You are an onboarding analyst extracting structured company data from a single web page.

For each requested field, report a value only when the page actually states it. Estimate confidence honestly: 1.0 means the page states it verbatim, 0.5 means a plausible inference, below 0.3 means a guess. Use null for fields the page does not mention. Include a short verbatim snippet supporting each value.`

const extractPromptTemplate = `Fields to extract:
%s

Page URL: %s
Page title: %s
Page content:
%s`

// extractStep runs per-page extraction and multi-source merge over the
// crawled pages. Its output is the merged field values in schema order.
func (in *Intake) extractStep(ctx context.Context, sc *workflow.StepContext) (any, error) {
	crawl, err := workflow.Output[model.CrawlResult](sc.Outputs, StepCrawl)
	if err != nil {
		return nil, err
	}

	values, err := in.synthesizer().Synthesize(ctx, in.registry.Fields, crawl.Pages)
	if err != nil {
		return nil, err
	}

	auto, review := 0, 0
	for _, v := range values {
		switch v.Status {
		case model.FieldStatusAuto:
			auto++
		case model.FieldStatusNeedsReview:
			review++
		}
	}
	zap.L().Info("intake: extraction complete",
		zap.String("submission_id", sc.SubmissionID),
		zap.Int("fields", len(values)),
		zap.Int("auto", auto),
		zap.Int("needs_review", review),
	)
	return values, nil
}

// llmExtractor implements synthesis.Extractor over the Anthropic client.
type llmExtractor struct {
	llm anthropic.Client
	cfg config.AnthropicConfig
}

func newLLMExtractor(llm anthropic.Client, cfg config.AnthropicConfig) *llmExtractor {
	return &llmExtractor{llm: llm, cfg: cfg}
}

func (e *llmExtractor) ExtractPage(ctx context.Context, fields []model.FieldDefinition, page model.CrawledPage) ([]synthesis.PageCandidate, error) {
	registry := model.NewFieldRegistry(fields)

	call, err := e.llm.ChatWithTools(ctx, anthropic.ToolRequest{
		Model:     e.cfg.Model,
		MaxTokens: int64(e.cfg.MaxTokens),
		System:    anthropic.BuildCachedSystemBlocks(extractSystemText),
		Messages: []anthropic.Message{
			{Role: "user", Content: buildExtractPrompt(fields, page)},
		},
		Tools: []anthropic.ToolDefinition{buildExtractTool(fields)},
		Force: extractToolName,
	})
	if err != nil {
		return nil, err
	}

	return synthesis.ParseToolPayload(registry, call.Input, page.URL)
}

// buildExtractPrompt renders the field list and page content into the
// per-page user message.
func buildExtractPrompt(fields []model.FieldDefinition, page model.CrawledPage) string {
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, "- %s (%s)", f.Key, f.Type)
		if f.Description != "" {
			b.WriteString(": " + f.Description)
		}
		b.WriteString("\n")
	}
	return fmt.Sprintf(extractPromptTemplate, b.String(), page.URL, page.Title, page.BodyText)
}

// buildExtractTool constructs the record_field_values tool schema. Keys
// are constrained to the tenant's schema so the model cannot invent
// fields.
func buildExtractTool(fields []model.FieldDefinition) anthropic.ToolDefinition {
	keys := make([]any, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}

	return anthropic.ToolDefinition{
		Name:        extractToolName,
		Description: "Record the field values found on this page, with confidence and a supporting snippet for each.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fields": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"key": map[string]any{
								"type": "string",
								"enum": keys,
							},
							"value": map[string]any{
								"description": "The extracted value, or null if the page does not state it.",
							},
							"confidence": map[string]any{
								"type":    "number",
								"minimum": 0,
								"maximum": 1,
							},
							"snippet": map[string]any{
								"type":        "string",
								"description": "Short verbatim text from the page supporting the value.",
							},
						},
						"required": []string{"key", "value", "confidence"},
					},
				},
			},
			"required": []string{"fields"},
		},
	}
}
