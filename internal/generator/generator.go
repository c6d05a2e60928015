// Package generator turns a topic or custom prompt into a titled article by
// way of a pluggable LLM provider.
package generator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ibeckermayer/notedraft/internal/config"
	"github.com/ibeckermayer/notedraft/internal/failure"
	"github.com/ibeckermayer/notedraft/internal/generator/providers"
	"github.com/ibeckermayer/notedraft/internal/logx"
	"github.com/ibeckermayer/notedraft/internal/store"
)

// Request describes one article to generate. Blank Tone and Length fall back
// to the built-in defaults; Provider blank means the registry default.
type Request struct {
	Topic           string
	Tone            string
	Length          string
	OtherConditions string
	CustomPrompt    string
	Provider        string
}

// Draft is a generated article.
type Draft struct {
	Title string
	Body  string
}

// Provider completes a prompt against one LLM backend.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// ExchangeSink records prompt/response pairs for later inspection.
type ExchangeSink interface {
	SaveLLMExchange(ex store.LLMExchange) (string, error)
}

// Registry selects a Provider by name and runs the prompt/parse cycle.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	def       string
	sink      ExchangeSink
	log       logx.Logger
}

// NewRegistry creates an empty registry. Register providers before use.
func NewRegistry(def string, sink ExchangeSink, log logx.Logger) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		def:       def,
		sink:      sink,
		log:       log.Component("generator"),
	}
}

// FromConfig registers every provider that has an API key configured.
func FromConfig(cfg config.GeneratorConfig, sink ExchangeSink, log logx.Logger) *Registry {
	if !cfg.CacheExchanges {
		sink = nil
	}
	r := NewRegistry(cfg.DefaultProvider, sink, log)
	timeout := cfg.Timeout.Or(providers.DefaultTimeout)
	if p := cfg.Anthropic; p.APIKey != "" {
		r.Register(providers.NewAnthropic(providers.Options{APIKey: p.APIKey, Model: p.Model, BaseURL: p.BaseURL, Timeout: timeout}))
	}
	if p := cfg.OpenAI; p.APIKey != "" {
		r.Register(providers.NewOpenAI(providers.Options{APIKey: p.APIKey, Model: p.Model, BaseURL: p.BaseURL, Timeout: timeout}))
	}
	if p := cfg.Gemini; p.APIKey != "" {
		r.Register(providers.NewGemini(providers.Options{APIKey: p.APIKey, Model: p.Model, BaseURL: p.BaseURL, Timeout: timeout}))
	}
	return r
}

// Register adds or replaces a provider under its Name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string) (Provider, error) {
	if name == "" {
		name = r.def
	}
	r.mu.RLock()
	p, ok := r.providers[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, failure.Newf(failure.KindGeneration, "provider %s is not available", name)
	}
	return p, nil
}

// Generate builds the prompt for req, calls the selected provider and parses
// the reply. Every failure carries the Generation kind.
func (r *Registry) Generate(ctx context.Context, req Request) (Draft, error) {
	if strings.TrimSpace(req.Topic) == "" && strings.TrimSpace(req.CustomPrompt) == "" {
		return Draft{}, failure.Newf(failure.KindGeneration, "topic or custom prompt is required")
	}
	p, err := r.lookup(req.Provider)
	if err != nil {
		return Draft{}, err
	}

	prompt := BuildPrompt(req)
	start := time.Now()
	text, err := p.Complete(ctx, SystemPrompt, prompt)
	r.record(p, prompt, text, err)
	if err != nil {
		return Draft{}, failure.Wrapf(err, failure.KindGeneration, "%s generation", p.Name())
	}
	if strings.TrimSpace(text) == "" {
		return Draft{}, failure.Newf(failure.KindGeneration, "%s returned an empty response", p.Name())
	}

	d := ParseResponse(text)
	r.log.Info("article generated",
		logx.String("provider", p.Name()),
		logx.String("title", d.Title),
		logx.Int("body_chars", len([]rune(d.Body))),
		logx.Duration("elapsed", time.Since(start)))
	return d, nil
}

func (r *Registry) record(p Provider, prompt, response string, err error) {
	if r.sink == nil {
		return
	}
	ex := store.LLMExchange{
		Timestamp: time.Now(),
		Provider:  p.Name(),
		Model:     p.Model(),
		Prompt:    prompt,
		Response:  response,
	}
	if err != nil {
		ex.Error = err.Error()
	}
	if path, serr := r.sink.SaveLLMExchange(ex); serr != nil {
		r.log.Warn("failed to cache llm exchange", logx.Err(serr))
	} else {
		r.log.Debug("llm exchange cached", logx.String("path", path))
	}
}
