// Package llm adapts the OpenAI chat API to the model port the core uses.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"finanzas/pkg/apperr"
	"finanzas/pkg/logger"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

const defaultModel = "gpt-4o-mini"

type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Client wraps the OpenAI chat API behind a circuit breaker. Categorization
// and deposit extraction both degrade gracefully when the breaker is open,
// so a provider outage slows nothing down.
type Client struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
	breaker   *gobreaker.CircuitBreaker
	log       *logger.Logger
}

func NewClient(cfg Config, log *logger.Logger) *Client {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openai",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("llm breaker %s: %s -> %s", name, from, to)
		},
	})

	return &Client{
		client:    openai.NewClient(cfg.APIKey),
		model:     model,
		maxTokens: maxTokens,
		timeout:   timeout,
		breaker:   breaker,
		log:       log,
	}
}

// CompleteJSON sends a system+user prompt pair and asks the model for a
// strict JSON object back.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:     c.model,
			MaxTokens: c.maxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return "{}", nil
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", c.mapError(err)
	}
	return result.(string), nil
}

func (c *Client) mapError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.Transient("openai breaker open", err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return apperr.Quota("openai", err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperr.AuthFailed("openai", err)
		}
		if apiErr.HTTPStatusCode >= 500 {
			return apperr.Transient("openai request", err)
		}
		return fmt.Errorf("openai request: %w", err)
	}
	return apperr.Transient("openai request", err)
}
