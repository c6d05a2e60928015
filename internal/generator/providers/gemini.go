package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const (
	geminiBaseURL      = "https://generativelanguage.googleapis.com"
	geminiDefaultModel = "gemini-2.5-flash"
)

// Gemini talks to the generateContent API.
type Gemini struct {
	opts Options
	base string
}

func NewGemini(opts Options) *Gemini {
	if opts.Model == "" {
		opts.Model = geminiDefaultModel
	}
	return &Gemini{opts: opts, base: orDefault(opts.BaseURL, geminiBaseURL)}
}

func (g *Gemini) Name() string  { return "gemini" }
func (g *Gemini) Model() string { return g.opts.Model }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) Complete(ctx context.Context, system, prompt string) (string, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	}
	if system != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.base, url.PathEscape(g.opts.Model))
	headers := map[string]string{"x-goog-api-key": g.opts.APIKey}

	var resp geminiResponse
	if err := postJSON(ctx, g.opts.client(), "Gemini", endpoint, headers, reqBody, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	if len(resp.Candidates) > 0 {
		for _, p := range resp.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("Gemini returned empty response")
	}
	return sb.String(), nil
}
