package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, path string, check func(*http.Request, map[string]any), reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, path, r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		check(r, body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIComplete(t *testing.T) {
	srv := serve(t, "/v1/chat/completions", func(r *http.Request, body map[string]any) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.Equal(t, "gpt-4", body["model"])
		assert.InDelta(t, 0.7, body["temperature"], 1e-9)
		assert.EqualValues(t, 4000, body["max_tokens"])
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 2)
		assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
		assert.Equal(t, "hi", msgs[1].(map[string]any)["content"])
	}, `{"choices":[{"message":{"role":"assistant","content":"タイトル: A\n本文"}}]}`)

	p := NewOpenAI(Options{APIKey: "k", BaseURL: srv.URL})
	out, err := p.Complete(context.Background(), "sys", "hi")
	require.NoError(t, err)
	assert.Equal(t, "タイトル: A\n本文", out)
}

func TestAnthropicComplete(t *testing.T) {
	srv := serve(t, "/v1/messages", func(r *http.Request, body map[string]any) {
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		assert.Equal(t, "sys", body["system"])
	}, `{"content":[{"type":"text","text":"one"},{"type":"text","text":" two"}]}`)

	p := NewAnthropic(Options{APIKey: "k", BaseURL: srv.URL + "/"})
	out, err := p.Complete(context.Background(), "sys", "hi")
	require.NoError(t, err)
	assert.Equal(t, "one two", out)
	assert.Equal(t, anthropicDefaultModel, p.Model())
}

func TestGeminiComplete(t *testing.T) {
	srv := serve(t, "/v1beta/models/gemini-2.5-flash:generateContent", func(r *http.Request, body map[string]any) {
		assert.Equal(t, "k", r.Header.Get("x-goog-api-key"))
		assert.NotNil(t, body["systemInstruction"])
	}, `{"candidates":[{"content":{"parts":[{"text":"gem"}]}}]}`)

	p := NewGemini(Options{APIKey: "k", BaseURL: srv.URL})
	out, err := p.Complete(context.Background(), "sys", "hi")
	require.NoError(t, err)
	assert.Equal(t, "gem", out)
}

func TestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOpenAI(Options{BaseURL: srv.URL}).Complete(context.Background(), "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	_, err := NewGemini(Options{BaseURL: srv.URL}).Complete(context.Background(), "", "hi")
	assert.ErrorContains(t, err, "empty response")
}
