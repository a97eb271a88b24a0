// Package llm generates multiple-choice questions through an
// OpenAI-compatible chat completion API.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/leaveportal/internal/llm/prompts"
	"github.com/pavelanni/leaveportal/internal/model"
)

var codeFenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

type questionSet struct {
	Questions []model.GeneratedQuestion `json:"questions"`
}

// GenerateQuestions asks the model for count questions on subject. The
// returned items are parsed but not validated.
func (c *Client) GenerateQuestions(ctx context.Context, subject string, difficulty model.Difficulty, count int) ([]model.GeneratedQuestion, error) {
	userPrompt, err := prompts.BuildGeneratePrompt(difficulty, subject, count)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompts.System()},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.7,
		MaxTokens:   2000,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)

	questions, err := parseQuestions(raw)
	if err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	return questions, nil
}

// parseQuestions accepts {"questions": [...]} or a bare array, optionally
// wrapped in a markdown code fence.
func parseQuestions(raw string) ([]model.GeneratedQuestion, error) {
	content := strings.TrimSpace(raw)
	if m := codeFenceRegex.FindStringSubmatch(content); m != nil {
		content = m[1]
	}
	if strings.HasPrefix(content, "[") {
		var qs []model.GeneratedQuestion
		if err := json.Unmarshal([]byte(content), &qs); err != nil {
			return nil, err
		}
		return qs, nil
	}
	var set questionSet
	if err := json.Unmarshal([]byte(content), &set); err != nil {
		return nil, err
	}
	if set.Questions == nil {
		return nil, fmt.Errorf("response has no questions field")
	}
	return set.Questions, nil
}
