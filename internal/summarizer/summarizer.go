// Package summarizer turns raw check payloads into short human-readable
// descriptions via a text-generation model.
package summarizer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/webcheckup/webcheckup/internal/domain/checkup"
)

// maxPayloadChars bounds how much of a result payload goes into the prompt.
const maxPayloadChars = 4000

// Summarizer produces a compact description of a check result.
type Summarizer interface {
	Summarize(ctx context.Context, checkType checkup.CheckType, payload map[string]any) (string, error)
}

// Noop satisfies Summarizer when no model credentials are configured. The
// check still completes; only the description stays empty.
type Noop struct{}

func (Noop) Summarize(context.Context, checkup.CheckType, map[string]any) (string, error) {
	return "", nil
}

// Claude summarizes results with the Anthropic API.
type Claude struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewClaude returns a summarizer using the given API key and model name.
func NewClaude(apiKey, model string) *Claude {
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_0)
	}
	return &Claude{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: 512,
	}
}

// Summarize asks for a one-paragraph summary of the (possibly reduced)
// payload. Errors are not retried here; the lifecycle decides what a failed
// summarization means.
func (c *Claude) Summarize(ctx context.Context, checkType checkup.CheckType, payload map[string]any) (string, error) {
	results, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", checkType, err)
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: SystemPrompt(checkType, trimResults(string(results), maxPayloadChars))},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(
				"Make 1 paragraph (maximum 150 words) of summary for check results",
			)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", checkType, err)
	}
	if len(msg.Content) == 0 {
		return "", fmt.Errorf("summarize %s: empty model response", checkType)
	}
	return msg.Content[0].Text, nil
}

// SystemPrompt frames the model as a security assistant looking at one
// check's results.
func SystemPrompt(checkType checkup.CheckType, results string) string {
	return fmt.Sprintf(
		"You are a helpful cybersecurity assistant, you always use security standards in your answers. "+
			"Ask questions to the user if needed. "+
			"You are looking at the results of a %s check.\n"+
			"Analyze the following security check results and suggest solutions:\n%s",
		checkDescription(checkType), results,
	)
}

func checkDescription(checkType checkup.CheckType) string {
	switch checkType {
	case checkup.TypePortScan:
		return "port scan (open TCP ports on the site's host)"
	case checkup.TypeLighthouse:
		return "Lighthouse security and best-practices audit"
	case checkup.TypeTechnologies:
		return "technology fingerprinting and vulnerable JavaScript library"
	case checkup.TypeCookie:
		return "cookie and GDPR compliance"
	case checkup.TypeNetwork:
		return "network, DNS and mail configuration"
	}
	return string(checkType)
}

func trimResults(results string, maxLength int) string {
	if len(results) > maxLength {
		return results[:maxLength] + "..."
	}
	return results
}
