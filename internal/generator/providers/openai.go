package providers

import (
	"context"
	"fmt"
)

const (
	openAIBaseURL      = "https://api.openai.com"
	openAIDefaultModel = "gpt-4"
)

// OpenAI talks to the chat completions API.
type OpenAI struct {
	opts Options
	url  string
}

func NewOpenAI(opts Options) *OpenAI {
	if opts.Model == "" {
		opts.Model = openAIDefaultModel
	}
	return &OpenAI{
		opts: opts,
		url:  orDefault(opts.BaseURL, openAIBaseURL) + "/v1/chat/completions",
	}
}

func (o *OpenAI) Name() string  { return "openai" }
func (o *OpenAI) Model() string { return o.opts.Model }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (o *OpenAI) Complete(ctx context.Context, system, prompt string) (string, error) {
	msgs := make([]chatMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})

	reqBody := chatRequest{
		Model:       o.opts.Model,
		Messages:    msgs,
		Temperature: 0.7,
		MaxTokens:   4000,
	}
	headers := map[string]string{"Authorization": "Bearer " + o.opts.APIKey}

	var resp chatResponse
	if err := postJSON(ctx, o.opts.client(), "OpenAI", o.url, headers, reqBody, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("OpenAI API error: %s - %s", resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("OpenAI returned empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
