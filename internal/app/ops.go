package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ibeckermayer/notedraft/internal/auth"
	"github.com/ibeckermayer/notedraft/internal/browser"
	"github.com/ibeckermayer/notedraft/internal/generator"
	"github.com/ibeckermayer/notedraft/internal/logx"
	"github.com/ibeckermayer/notedraft/internal/scheduler"
	"github.com/ibeckermayer/notedraft/internal/types"
)

// The engine's view of schedules is refreshed from the store before each
// operation, since the CLI and the daemon share one database.
func (a *App) refresh(ctx context.Context) error {
	_, err := a.engine.Sync(ctx)
	return err
}

// AddSchedule validates and persists a new active schedule.
func (a *App) AddSchedule(ctx context.Context, spec scheduler.Spec) (string, error) {
	if spec.Job.Kind == types.RepostExisting {
		if _, err := a.store.GetArticle(ctx, spec.AccountID, spec.Job.ArticleID); err != nil {
			return "", err
		}
	}
	return a.engine.AddSchedule(ctx, spec)
}

// RemoveSchedule deletes a schedule owned by accountID.
func (a *App) RemoveSchedule(ctx context.Context, accountID, id string) error {
	if err := a.refresh(ctx); err != nil {
		return err
	}
	return a.engine.RemoveSchedule(ctx, accountID, id)
}

// PauseSchedule stops a schedule from firing until resumed.
func (a *App) PauseSchedule(ctx context.Context, accountID, id string) error {
	if err := a.refresh(ctx); err != nil {
		return err
	}
	return a.engine.SetStatus(ctx, accountID, id, types.Paused)
}

// ResumeSchedule reactivates a paused schedule.
func (a *App) ResumeSchedule(ctx context.Context, accountID, id string) error {
	if err := a.refresh(ctx); err != nil {
		return err
	}
	return a.engine.SetStatus(ctx, accountID, id, types.Active)
}

func (a *App) ListSchedules(ctx context.Context, accountID string) ([]scheduler.ScheduleInfo, error) {
	if err := a.refresh(ctx); err != nil {
		return nil, err
	}
	return a.engine.ListSchedules(accountID), nil
}

// RunNow executes a schedule's job immediately and returns its outcome.
func (a *App) RunNow(ctx context.Context, accountID, id string) (types.PostOutcome, error) {
	if err := a.refresh(ctx); err != nil {
		return types.PostOutcome{}, err
	}
	return a.engine.RunNow(ctx, accountID, id)
}

// TestLogin signs accountID in through the pool and reports whether it worked.
func (a *App) TestLogin(ctx context.Context, accountID string) (bool, error) {
	return a.pool.Login(ctx, accountID)
}

// Logout discards the account's live session and its stored cookies.
func (a *App) Logout(ctx context.Context, accountID string) error {
	if err := a.pool.Evict(ctx, accountID); err != nil {
		a.log.Warn("evict session", logx.String("account", accountID), logx.Err(err))
	}
	return a.auth.Logout(accountID)
}

// InteractiveLogin opens a visible browser on the login page and saves the
// cookies once the operator has signed in by hand.
func (a *App) InteractiveLogin(ctx context.Context, accountID string) error {
	opts := a.launch
	opts.Headless = false
	return a.auth.Interactive(ctx, browser.NewLauncher(opts), accountID, a.site.LoginURL, a.site.LoginPathMarker)
}

// Authenticated reports whether accountID has unexpired stored cookies.
func (a *App) Authenticated(accountID string) bool {
	return a.auth.IsAuthenticated(accountID)
}

// CookieStore exposes an account's cookie file, mainly for diagnostics.
func (a *App) CookieStore(accountID string) *auth.CookieStore {
	return a.auth.Store(accountID)
}

func (a *App) ListOutcomes(ctx context.Context, accountID string, limit int) ([]types.PostOutcome, error) {
	return a.store.ListOutcomes(ctx, accountID, limit)
}

// Trends returns up to limit trending keywords, possibly from cache.
func (a *App) Trends(ctx context.Context, limit int, useCache bool) ([]types.Trend, error) {
	return a.trends.GetTrends(ctx, limit, useCache)
}

// SaveAccount stores or replaces an account's settings.
func (a *App) SaveAccount(ctx context.Context, st types.Settings) error {
	if strings.TrimSpace(st.AccountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if p := st.Provider; p != "" && !a.hasProvider(p) {
		a.log.Warn("provider has no API key configured",
			logx.String("account", st.AccountID), logx.String("provider", p))
	}
	return a.store.SaveSettings(ctx, st)
}

func (a *App) hasProvider(name string) bool {
	for _, n := range a.getSnapshot().generator.Names() {
		if n == name {
			return true
		}
	}
	return false
}

func (a *App) ListAccounts(ctx context.Context) ([]types.Settings, error) {
	return a.store.ListAccounts(ctx)
}

// AddArticle stores a manually written article so it can be reposted.
func (a *App) AddArticle(ctx context.Context, accountID, title, body string) (types.Article, error) {
	return a.store.AddArticle(ctx, types.Article{AccountID: accountID, Title: title, Body: body})
}

// GenerateArticle generates and stores an article without posting it.
// Blank tone, length and provider come from the account's settings.
func (a *App) GenerateArticle(ctx context.Context, accountID string, job types.JobSpec) (types.Article, error) {
	job.Kind = types.GenerateThenPost
	return a.exec.GenerateArticle(ctx, accountID, job)
}

// PostArticle saves a stored article as a draft right away. The attempt is
// recorded as an outcome with no schedule id.
func (a *App) PostArticle(ctx context.Context, accountID string, id int64) (types.PostOutcome, error) {
	if _, err := a.store.GetArticle(ctx, accountID, id); err != nil {
		return types.PostOutcome{}, err
	}
	out := a.exec.Execute(ctx, types.Schedule{
		AccountID: accountID,
		Job:       types.JobSpec{Kind: types.RepostExisting, ArticleID: id},
		Status:    types.Active,
	})
	return out, nil
}

// DeleteArticle removes an article that no schedule reposts.
func (a *App) DeleteArticle(ctx context.Context, accountID string, id int64) error {
	scheds, err := a.store.ListSchedules(ctx, accountID)
	if err != nil {
		return err
	}
	for _, s := range scheds {
		if s.Job.Kind == types.RepostExisting && s.Job.ArticleID == id {
			return fmt.Errorf("article %d is used by schedule %s", id, s.ID)
		}
	}
	return a.store.DeleteArticle(ctx, accountID, id)
}

// XPost drafts an X post promoting a stored article. A blank provider
// means the account's provider, then the configured default.
func (a *App) XPost(ctx context.Context, accountID string, id int64, provider string) (generator.XPost, error) {
	art, err := a.store.GetArticle(ctx, accountID, id)
	if err != nil {
		return generator.XPost{}, err
	}
	if provider == "" {
		if st, err := a.store.GetSettings(ctx, accountID); err == nil {
			provider = st.Provider
		}
	}
	return a.getSnapshot().generator.XPost(ctx, provider, art.Title, art.Body)
}

// Themes lists suggested article themes.
func (a *App) Themes() []string {
	return generator.Themes()
}

func (a *App) ListArticles(ctx context.Context, accountID string) ([]types.Article, error) {
	return a.store.ListArticles(ctx, accountID)
}

// Artifacts lists the newest diagnostic screenshots for accountID.
func (a *App) Artifacts(accountID string, n int) ([]string, error) {
	return a.artifacts.Latest(accountID, n)
}

// PoolStats reports live sessions and queued operations.
func (a *App) PoolStats() (live, queued int) {
	return a.pool.Stats()
}
