// Package app wires the posting pipeline together and exposes the operations
// the CLI and daemon drive.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ibeckermayer/notedraft/internal/auth"
	"github.com/ibeckermayer/notedraft/internal/browser"
	"github.com/ibeckermayer/notedraft/internal/config"
	"github.com/ibeckermayer/notedraft/internal/executor"
	"github.com/ibeckermayer/notedraft/internal/generator"
	"github.com/ibeckermayer/notedraft/internal/logx"
	"github.com/ibeckermayer/notedraft/internal/metrics"
	"github.com/ibeckermayer/notedraft/internal/notifier"
	"github.com/ibeckermayer/notedraft/internal/platform"
	"github.com/ibeckermayer/notedraft/internal/pool"
	"github.com/ibeckermayer/notedraft/internal/scheduler"
	"github.com/ibeckermayer/notedraft/internal/session"
	"github.com/ibeckermayer/notedraft/internal/store"
	"github.com/ibeckermayer/notedraft/internal/trends"
	"github.com/ibeckermayer/notedraft/internal/types"
)

// Paths locates on-disk state. Zero fields are resolved from the config.
type Paths struct {
	ConfigFile string
	Store      string
	Artifacts  string
	Cache      string
	Cookies    string
}

func resolvePaths(cfg *config.Config, p Paths) (Paths, error) {
	var err error
	if p.Store == "" {
		if p.Store, err = cfg.StorePath(); err != nil {
			return p, err
		}
	}
	if p.Artifacts == "" {
		if p.Artifacts, err = cfg.ArtifactDir(); err != nil {
			return p, err
		}
	}
	if p.Cache == "" {
		if p.Cache, err = config.CacheDir(); err != nil {
			return p, err
		}
	}
	if p.Cookies == "" {
		if p.Cookies, err = config.ConfigDir(); err != nil {
			return p, err
		}
	}
	return p, nil
}

// App holds the application state.
type App struct {
	log   logx.Logger
	paths Paths
	site  platform.Site
	loc   *time.Location
	// launch is kept so interactive logins can open a headful copy.
	launch browser.LaunchOptions

	// Immutable after New.
	store     *store.Store
	auth      *auth.Manager
	selectors *platform.Registry
	metrics   *metrics.Metrics
	pool      *pool.Pool
	engine    *scheduler.Engine
	exec      *executor.Executor
	trends    *trends.Source
	exchanges *store.ExchangeCache
	artifacts *store.ArtifactDir

	// Mutable fields - use getSnapshot() for concurrent access.
	mu        sync.RWMutex
	config    *config.Config
	generator *generator.Registry

	cancel context.CancelFunc
	bg     sync.WaitGroup
}

// snapshot holds fields that may be replaced by ReloadConfig.
type snapshot struct {
	config    *config.Config
	generator *generator.Registry
}

// getSnapshot returns a snapshot of mutable fields under read lock.
func (a *App) getSnapshot() snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return snapshot{config: a.config, generator: a.generator}
}

// New builds every component from cfg. Nothing runs until Start.
func New(cfg *config.Config, paths Paths, log logx.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	paths, err = resolvePaths(cfg, paths)
	if err != nil {
		return nil, fmt.Errorf("resolve paths: %w", err)
	}

	st, err := store.New(paths.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	selectors, err := platform.NewRegistry(cfg.Platform.SelectorsFile, log)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &App{
		log:       log.Component("app"),
		paths:     paths,
		site:      platform.DefaultSite(),
		loc:       loc,
		store:     st,
		selectors: selectors,
		metrics:   metrics.New(),
		exchanges: store.NewExchangeCache(filepath.Join(paths.Cache, "llm")),
		config:    cfg,
	}
	a.auth = auth.NewManager(paths.Cookies, a.site.CookieDomain, log)
	a.generator = generator.FromConfig(cfg.Generator, a.exchanges, log)

	locator := browser.NewLocator(selectors, browser.LocatorOptions{
		Wait:         cfg.Browser.LocateWait.Duration,
		Poll:         250 * time.Millisecond,
		QueryTimeout: 5 * time.Second,
	}, log, a.metrics)
	guard := browser.NewGuard(browser.NavOptions{
		Timeout: cfg.Navigation.Timeout.Duration,
		Retries: cfg.Navigation.Retries,
		Backoff: cfg.Navigation.Backoff.Duration,
	}, log)
	a.launch = browser.LaunchOptions{
		Headless:  cfg.Browser.Headless,
		UserAgent: cfg.Browser.UserAgent,
		Locale:    cfg.Browser.Locale,
		Timezone:  cfg.Browser.Timezone,
	}
	launcher := browser.NewLauncher(a.launch)
	a.artifacts = store.NewArtifactDir(paths.Artifacts)

	factory := pool.FactoryFunc(func(cred types.Credential) (pool.Session, error) {
		sc := session.Config{
			Credential:  cred,
			Pages:       launcher,
			Locator:     locator,
			Guard:       guard,
			Site:        a.site,
			Artifacts:   a.artifacts,
			StepTimeout: cfg.Browser.StepTimeout.Duration,
			LoginWait:   cfg.Platform.LoginWait.Duration,
			EditorWait:  cfg.Platform.EditorWait.Duration,
			SaveWait:    cfg.Platform.SaveWait.Duration,
			Log:         log,
		}
		if cfg.Pool.ReuseStoredCookies {
			sc.Cookies = a.auth.Store(cred.AccountID)
		}
		s, err := session.New(sc)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
	a.pool = pool.New(pool.Options{
		MaxSessions:       cfg.Pool.MaxSessions,
		IdleTimeout:       cfg.Pool.IdleTimeout.Duration,
		QueueTimeout:      cfg.Pool.QueueTimeout.Duration,
		OpTimeout:         cfg.Pool.OpTimeout.Duration,
		LoginAttempts:     cfg.Pool.LoginAttempts,
		RetryBackoff:      cfg.Pool.RetryBackoff.Duration,
		SessionsPerMinute: cfg.Pool.SessionsPerMinute,
	}, factory, st, log, a.metrics)

	a.trends = trends.New(trends.Options{
		URL:             cfg.Trends.URL,
		CacheTTL:        cfg.Trends.CacheTTL.Duration,
		RefreshInterval: cfg.Trends.RefreshInterval.Duration,
		Timeout:         cfg.Trends.Timeout.Duration,
	}, log)

	deps := executor.Deps{
		Store:     st,
		Generator: a,
		Trends:    a.trends,
		Submitter: a.pool,
		Observer:  a.metrics,
	}
	n, err := notifier.NewFromConfig(cfg.Email, loc, log)
	if err != nil {
		st.Close()
		return nil, err
	}
	if n != nil {
		deps.Notifier = n
	}
	a.exec = executor.New(deps, log)

	a.engine = scheduler.New(st, a.exec, scheduler.Options{
		Location:   loc,
		JobTimeout: cfg.Scheduler.JobTimeout.Duration,
	}, log, a.metrics)
	return a, nil
}

// Generate implements the executor's generator against the current
// provider registry, so ReloadConfig takes effect for the next job.
func (a *App) Generate(ctx context.Context, req generator.Request) (generator.Draft, error) {
	return a.getSnapshot().generator.Generate(ctx, req)
}

// Start seeds schedules and launches the background loops: the minute
// driver (which re-reads the store before every tick), pool janitor, trend
// refresh, selector hot reload and the optional metrics listener.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	n, err := a.engine.Seed(ctx)
	if err != nil {
		cancel()
		return err
	}
	a.pool.Start(ctx)
	if err := a.trends.Start(ctx); err != nil {
		cancel()
		return err
	}

	if a.getSnapshot().config.Platform.SelectorsFile != "" {
		a.goBackground(func() {
			if err := a.selectors.Watch(ctx); err != nil {
				a.log.Error("selector watcher stopped", logx.Err(err))
			}
		})
	}
	if addr := a.getSnapshot().config.Metrics.Listen; addr != "" {
		a.goBackground(func() {
			if err := a.metrics.Serve(ctx, addr, a.log); err != nil {
				a.log.Error("metrics listener failed", logx.Err(err))
			}
		})
	}

	a.engine.Start()
	a.log.Info("notedraft started", logx.Int("schedules", n), logx.String("timezone", a.loc.String()))
	return nil
}

func (a *App) goBackground(fn func()) {
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		fn()
	}()
}

// Shutdown stops dispatching, waits for running jobs within ctx, then
// closes sessions and the store.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(a.engine.Stop(ctx))
	a.trends.Stop()
	if a.cancel != nil {
		a.cancel()
	}
	keep(a.pool.Close(ctx))
	a.bg.Wait()
	keep(a.store.Close())
	a.log.Info("notedraft stopped")
	return firstErr
}

// Close releases resources for short-lived CLI use where Start was never called.
func (a *App) Close(ctx context.Context) error {
	perr := a.pool.Close(ctx)
	if err := a.store.Close(); err != nil {
		return err
	}
	return perr
}

// ReloadConfig re-reads the config file and swaps the generator providers.
// Browser, pool and scheduler settings apply on the next restart.
func (a *App) ReloadConfig() error {
	path := a.paths.ConfigFile
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	gen := generator.FromConfig(cfg.Generator, a.exchanges, a.log)
	if cfg.Platform.SelectorsFile != "" {
		if err := a.selectors.Reload(); err != nil {
			a.log.Warn("selector reload failed, keeping previous table", logx.Err(err))
		}
	}

	a.mu.Lock()
	a.config = cfg
	a.generator = gen
	a.mu.Unlock()

	a.log.Info("configuration reloaded", logx.Strings("providers", gen.Names()))
	return nil
}
