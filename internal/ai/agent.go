// Package ai holds the AI assistant that discusses check results with
// the user.
package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/webcheckup/webcheckup/internal/domain/chat"
	"github.com/webcheckup/webcheckup/internal/domain/checkup"
	"github.com/webcheckup/webcheckup/internal/summarizer"
)

// Agent answers questions about one check's results, with the chat history
// as conversational context.
type Agent interface {
	// Reply produces a complete assistant answer.
	Reply(ctx context.Context, req Request) (string, error)

	// ReplyStream produces the answer as a channel of text chunks. The
	// channel is closed when the answer is complete; a late error comes
	// through the error channel (at most one).
	ReplyStream(ctx context.Context, req Request) (<-chan string, <-chan error)
}

// Request carries everything one assistant turn needs.
type Request struct {
	CheckType checkup.CheckType
	Results   map[string]any
	History   []*chat.Message
	Question  string
}

// ClaudeAgent implements Agent on the Anthropic API.
type ClaudeAgent struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewClaudeAgent returns an agent using the given API key and model name.
func NewClaudeAgent(apiKey, model string) *ClaudeAgent {
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_0)
	}
	return &ClaudeAgent{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: 1024,
	}
}

func (a *ClaudeAgent) Reply(ctx context.Context, req Request) (string, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return "", err
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat reply: %w", err)
	}
	if len(msg.Content) == 0 {
		return "", fmt.Errorf("chat reply: empty model response")
	}
	return msg.Content[0].Text, nil
}

func (a *ClaudeAgent) ReplyStream(ctx context.Context, req Request) (<-chan string, <-chan error) {
	chunks := make(chan string)
	errs := make(chan error, 1)

	params, err := a.buildParams(req)
	if err != nil {
		close(chunks)
		errs <- err
		close(errs)
		return chunks, errs
	}

	go func() {
		defer close(chunks)
		defer close(errs)

		stream := a.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			switch eventVariant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch deltaVariant := eventVariant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					select {
					case chunks <- deltaVariant.Text:
					case <-ctx.Done():
						errs <- ctx.Err()
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			errs <- fmt.Errorf("chat stream: %w", err)
		}
	}()

	return chunks, errs
}

func (a *ClaudeAgent) buildParams(req Request) (anthropic.MessageNewParams, error) {
	results, err := json.Marshal(req.Results)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("chat context: %w", err)
	}

	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, m := range req.History {
		switch m.Sender() {
		case chat.SenderAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content())))
		case chat.SenderUser, chat.SenderSystem:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content())))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Question)))

	return anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: summarizer.SystemPrompt(req.CheckType, string(results))},
		},
		Messages: messages,
	}, nil
}
