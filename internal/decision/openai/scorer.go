// Package openai backs the decision engine's scoring calls with the OpenAI
// chat completion API. Failures here are expected and recovered by the
// engine's fallback contract; this package never retries.
package openai

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const sentimentSystemPrompt = "You score audience sentiment for live event performances. " +
	"Reply with a single decimal number between 0 and 1, where 0 is entirely negative and 1 is entirely positive. " +
	"Reply with the number only."

const summarySystemPrompt = "You write short, neutral arbitration rationales for event contract disputes. " +
	"Reply with two to four sentences of plain prose."

// Scorer implements decision.Scorer over the OpenAI API.
type Scorer struct {
	client openai.Client
	model  openai.ChatModel
}

// New creates a Scorer. An empty model defaults to gpt-4o-mini.
func New(apiKey, model string) *Scorer {
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &Scorer{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// SentimentScore rates a performance evidence payload in [0,1].
func (s *Scorer) SentimentScore(ctx context.Context, text string) (float64, error) {
	out, err := s.complete(ctx, sentimentSystemPrompt, text)
	if err != nil {
		return 0, err
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("openai: parse sentiment %q: %w", out, err)
	}
	if score < 0 || score > 1 {
		return 0, fmt.Errorf("openai: sentiment %v out of range", score)
	}
	return score, nil
}

// Summarize generates the free-text rationale for a decision.
func (s *Scorer) Summarize(ctx context.Context, prompt string) (string, error) {
	return s.complete(ctx, summarySystemPrompt, prompt)
}

func (s *Scorer) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty completion response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
