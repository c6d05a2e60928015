package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// LLMExchange represents a prompt/response pair for caching
type LLMExchange struct {
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Error     string    `json:"error,omitempty"`
}

// ExchangeCache writes LLM exchanges as JSON files under dir.
type ExchangeCache struct {
	dir string
}

// NewExchangeCache returns a cache rooted at dir, typically <cache>/llm.
func NewExchangeCache(dir string) *ExchangeCache {
	return &ExchangeCache{dir: dir}
}

// SaveLLMExchange serializes an LLM exchange to JSON and writes it to a timestamped file.
// Returns the path to the saved file.
func (c *ExchangeCache) SaveLLMExchange(exchange LLMExchange) (string, error) {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", err
	}

	at := exchange.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	path := filepath.Join(c.dir, generateFilename(at, exchange.Provider, ".json"))

	data, err := json.MarshalIndent(exchange, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}
