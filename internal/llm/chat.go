package llm

import (
	"context"
	"fmt"
)

// Chat completion defaults.
const (
	DefaultChatModel           = "gpt-4o-mini"
	DefaultMaxCompletionTokens = 600
)

// ChatConfig configures a chat completion client.
type ChatConfig struct {
	Config
	MaxCompletionTokens int
	Temperature         *float64
}

// ChatClient calls the chat completions endpoint with a single user message.
type ChatClient struct {
	*client
	temperature *float64
	model       string
	maxTokens   int
}

// NewChatClient creates a chat completion client.
func NewChatClient(cfg ChatConfig) (*ChatClient, error) {
	c, err := newClient(cfg.Config)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = DefaultChatModel
	}
	maxTokens := cfg.MaxCompletionTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxCompletionTokens
	}
	return &ChatClient{client: c, model: model, maxTokens: maxTokens, temperature: cfg.Temperature}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Temperature         *float64      `json:"temperature,omitempty"`
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	MaxCompletionTokens int           `json:"max_completion_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends prompt as a user message and returns the first choice's content.
func (c *ChatClient) Complete(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:               c.model,
		Messages:            []chatMessage{{Role: "user", Content: prompt}},
		MaxCompletionTokens: c.maxTokens,
		Temperature:         c.temperature,
	}
	var out chatResponse
	if err := c.post(ctx, "/chat/completions", req, &out); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrNoChoices
	}
	return out.Choices[0].Message.Content, nil
}

// Model returns the chat model name.
func (c *ChatClient) Model() string {
	return c.model
}
