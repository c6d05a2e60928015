// Package trends scrapes the current Japanese X trends from twittrend.jp and
// caches them.
package trends

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/ibeckermayer/notedraft/internal/logx"
	"github.com/ibeckermayer/notedraft/internal/types"
)

const (
	DefaultURL      = "https://twittrend.jp/compare/result/23424856/1/"
	DefaultCacheTTL = 30 * time.Minute
	MaxTrends       = 50
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var fallbackKeywords = []string{
	"AI", "プログラミング", "起業", "投資", "健康",
	"テクノロジー", "ビジネス", "教育", "ライフスタイル", "エンターテイメント",
	"副業", "在宅ワーク", "ママ", "パパ", "節約",
	"ダイエット", "旅行", "グルメ", "スポーツ", "映画",
}

// Fallback returns up to limit generic topics used when nothing was ever scraped.
func Fallback(limit int) []types.Trend {
	if limit <= 0 || limit > len(fallbackKeywords) {
		limit = len(fallbackKeywords)
	}
	out := make([]types.Trend, limit)
	for i := range out {
		out[i] = types.Trend{Keyword: fallbackKeywords[i]}
	}
	return out
}

type Options struct {
	URL             string
	CacheTTL        time.Duration
	RefreshInterval time.Duration
	Timeout         time.Duration
	Client          *http.Client
}

// Source fetches and caches trends. Safe for concurrent use.
type Source struct {
	url    string
	ttl    time.Duration
	every  time.Duration
	client *http.Client
	log    logx.Logger
	group  singleflight.Group
	now    func() time.Time

	mu      sync.RWMutex
	cached  []types.Trend
	updated time.Time

	cron     *cron.Cron
	warm     sync.WaitGroup
	stopWarm context.CancelFunc
}

func New(opts Options, log logx.Logger) *Source {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = opts.CacheTTL
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Source{
		url:    opts.URL,
		ttl:    opts.CacheTTL,
		every:  opts.RefreshInterval,
		client: client,
		log:    log.Component("trends"),
		now:    time.Now,
	}
}

// GetTrends returns up to limit trends. With useCache a fresh cache is served
// without fetching. A failed fetch serves the stale cache, or the built-in
// fallback list when nothing has been scraped yet. It never returns an error
// for fetch failures.
func (s *Source) GetTrends(ctx context.Context, limit int, useCache bool) ([]types.Trend, error) {
	if limit <= 0 || limit > MaxTrends {
		limit = MaxTrends
	}
	if useCache {
		if cached, ok := s.fresh(); ok {
			return head(cached, limit), nil
		}
	}

	trends, err := s.refresh(ctx)
	if err != nil {
		if cached, _ := s.snapshot(); len(cached) > 0 {
			s.log.Warn("trend fetch failed, serving stale cache", logx.Err(err))
			return head(cached, limit), nil
		}
		s.log.Warn("trend fetch failed, using fallback topics", logx.Err(err))
		return Fallback(limit), nil
	}
	return head(trends, limit), nil
}

// Refresh fetches now and updates the cache on success.
func (s *Source) Refresh(ctx context.Context) error {
	_, err := s.refresh(ctx)
	return err
}

func (s *Source) refresh(ctx context.Context) ([]types.Trend, error) {
	v, err, _ := s.group.Do("fetch", func() (any, error) {
		trends, err := s.fetch(ctx)
		if err != nil {
			return nil, err
		}
		if len(trends) == 0 {
			return nil, fmt.Errorf("no trends found on %s", s.url)
		}
		s.mu.Lock()
		s.cached = trends
		s.updated = s.now()
		s.mu.Unlock()
		s.log.Info("trends refreshed", logx.Int("count", len(trends)), logx.String("top", trends[0].Keyword))
		return trends, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]types.Trend), nil
}

func (s *Source) fetch(ctx context.Context) ([]types.Trend, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "ja-JP,ja;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch trends: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch trends: status %d", resp.StatusCode)
	}
	return Parse(resp.Body, MaxTrends)
}

func (s *Source) fresh() ([]types.Trend, bool) {
	cached, updated := s.snapshot()
	if len(cached) == 0 || s.now().Sub(updated) >= s.ttl {
		return nil, false
	}
	return cached, true
}

func (s *Source) snapshot() ([]types.Trend, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached, s.updated
}

// Start fetches once in the background, then every RefreshInterval until Stop.
func (s *Source) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.every), func() {
		if err := s.Refresh(ctx); err != nil {
			s.log.Warn("background trend refresh failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule trend refresh: %w", err)
	}
	s.cron = c
	c.Start()

	// Fill the cache right away so the first job does not fetch inline.
	wctx, cancel := context.WithCancel(ctx)
	s.stopWarm = cancel
	s.warm.Add(1)
	go func() {
		defer s.warm.Done()
		if err := s.Refresh(wctx); err != nil {
			s.log.Warn("initial trend refresh failed", logx.Err(err))
		}
	}()
	s.log.Info("background trend refresh started", logx.Duration("every", s.every))
	return nil
}

// Stop halts background refresh and waits for a running fetch.
func (s *Source) Stop() {
	if s.cron == nil {
		return
	}
	s.stopWarm()
	s.warm.Wait()
	<-s.cron.Stop().Done()
}

func head(ts []types.Trend, n int) []types.Trend {
	if len(ts) > n {
		ts = ts[:n]
	}
	out := make([]types.Trend, len(ts))
	copy(out, ts)
	return out
}
