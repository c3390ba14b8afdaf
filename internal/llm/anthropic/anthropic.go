// Package anthropic wraps anthropic-sdk-go's messages API as an
// llm.Client, forcing a low temperature and instructing (via prompt,
// since the Anthropic Messages API has no native response_format
// parameter the way OpenAI-style APIs do) a single JSON array
// response.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/reviewharvest/pipeline/internal/jobs"
	"github.com/reviewharvest/pipeline/internal/llm"
)

// Client is an llm.Client backed by the Anthropic Messages API.
type Client struct {
	sdk         anthropicsdk.Client
	model       string
	temperature float64
	timeout     time.Duration
}

// New constructs a Client. temperature is clamped to <=0.1 regardless
// of what's configured; classification must stay near-deterministic.
func New(apiKey, model string, temperature float64, timeout time.Duration) *Client {
	if temperature > 0.1 {
		temperature = 0.1
	}
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		sdk:         anthropicsdk.NewClient(option.WithAPIKey(apiKey)),
		model:       model,
		temperature: temperature,
		timeout:     timeout,
	}
}

func (c *Client) ModelVersion() string { return c.model }

const jsonOnlyInstruction = "\n\nRespond with ONLY a single JSON array. No prose, no markdown code fences, no explanation."

// Classify issues one Messages API call and returns the raw text
// response. A malformed or non-JSON response is NOT an error here; it's
// returned as-is and internal/label decides whether it parses.
func (c *Client) Classify(ctx context.Context, req llm.ClassifyRequest) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.sdk.Messages.New(cctx, anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(c.model),
		MaxTokens:   4096,
		Temperature: anthropicsdk.Float(c.temperature),
		System: []anthropicsdk.TextBlockParam{
			{Text: req.SystemPrompt + jsonOnlyInstruction},
		},
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(req.UserPrompt)),
		},
	})
	if err != nil {
		if cctx.Err() != nil {
			return "", jobs.Classify(jobs.KindCancelled, cctx.Err())
		}
		var apiErr *anthropicsdk.Error
		if errors.As(err, &apiErr) {
			return "", jobs.Classify(classifyStatusCode(apiErr.StatusCode), fmt.Errorf("anthropic: %w", err))
		}
		return "", jobs.Classify(jobs.KindTransient, fmt.Errorf("anthropic: %w", err))
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

func classifyStatusCode(status int) jobs.Kind {
	switch {
	case status == 429:
		return jobs.KindRateLimited
	case status >= 500:
		return jobs.KindTransient
	default:
		return jobs.KindPermanent
	}
}
