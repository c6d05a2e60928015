// Package executor runs the job bound to a fired schedule: resolve or
// generate the article, submit it as a draft, and record the outcome.
package executor

import (
	"context"
	"strings"
	"time"

	"github.com/ibeckermayer/notedraft/internal/failure"
	"github.com/ibeckermayer/notedraft/internal/generator"
	"github.com/ibeckermayer/notedraft/internal/logx"
	"github.com/ibeckermayer/notedraft/internal/types"
)

// Store is the slice of the record store the executor needs.
type Store interface {
	GetSettings(ctx context.Context, accountID string) (types.Settings, error)
	GetArticle(ctx context.Context, accountID string, id int64) (types.Article, error)
	AddArticle(ctx context.Context, a types.Article) (types.Article, error)
	MarkPosted(ctx context.Context, accountID string, id int64, at time.Time) error
	RecordOutcome(ctx context.Context, o types.PostOutcome) (int64, error)
}

type Generator interface {
	Generate(ctx context.Context, req generator.Request) (generator.Draft, error)
}

type TrendSource interface {
	GetTrends(ctx context.Context, limit int, useCache bool) ([]types.Trend, error)
}

// Submitter posts a draft for an account, typically the session pool.
type Submitter interface {
	Submit(ctx context.Context, accountID, title, body string) (types.DraftResult, error)
}

// Notifier is told about every finished job. Optional.
type Notifier interface {
	NotifyOutcome(ctx context.Context, o types.PostOutcome) error
}

// Observer receives job telemetry.
type Observer interface {
	JobFinished(kind types.JobKind, o types.PostOutcome, elapsed time.Duration)
}

// Deps bundles the executor's collaborators. Trends, Notifier and Observer may be nil.
type Deps struct {
	Store     Store
	Generator Generator
	Trends    TrendSource
	Submitter Submitter
	Notifier  Notifier
	Observer  Observer
}

type Executor struct {
	deps Deps
	log  logx.Logger
	now  func() time.Time
}

func New(deps Deps, log logx.Logger) *Executor {
	return &Executor{deps: deps, log: log.Component("executor"), now: time.Now}
}

// recordTimeout bounds outcome bookkeeping after the job context may be gone.
const recordTimeout = 10 * time.Second

// Execute runs s.Job to completion and returns its outcome. It never returns
// an error: failures are carried in the outcome, which is always recorded.
func (e *Executor) Execute(ctx context.Context, s types.Schedule) types.PostOutcome {
	start := e.now()
	log := e.log.With(logx.String("schedule", s.ID), logx.String("account", s.AccountID),
		logx.String("job", string(s.Job.Kind)))

	out := types.PostOutcome{ScheduleID: s.ID, AccountID: s.AccountID, FiredAt: start}
	articleID, res, err := e.run(ctx, s, log)
	out.ArticleID = articleID
	if err != nil {
		out.ErrorKind = string(failure.KindOf(err))
		out.ErrorMessage = err.Error()
		log.Warn("job failed", logx.String("kind", out.ErrorKind), logx.Err(err))
	} else {
		out.Success = true
		out.ResultURL = res.URL
		log.Info("draft saved", logx.String("url", res.URL), logx.Int64("article", articleID))
	}

	e.finish(ctx, s.Job.Kind, &out, start, log)
	return out
}

func (e *Executor) run(ctx context.Context, s types.Schedule, log logx.Logger) (int64, types.DraftResult, error) {
	var (
		article types.Article
		err     error
	)
	switch s.Job.Kind {
	case types.RepostExisting:
		article, err = e.deps.Store.GetArticle(ctx, s.AccountID, s.Job.ArticleID)
		if err != nil {
			return s.Job.ArticleID, types.DraftResult{}, err
		}
	case types.GenerateThenPost:
		article, err = e.generate(ctx, s.AccountID, s.Job, log)
		if err != nil {
			return article.ID, types.DraftResult{}, err
		}
	default:
		return 0, types.DraftResult{}, failure.Newf(failure.KindScheduleValidation, "unknown job kind %q", s.Job.Kind)
	}

	res, err := e.deps.Submitter.Submit(ctx, s.AccountID, article.Title, article.Body)
	if err != nil {
		return article.ID, types.DraftResult{}, err
	}

	if err := e.deps.Store.MarkPosted(context.WithoutCancel(ctx), s.AccountID, article.ID, e.now()); err != nil {
		// The draft exists remotely, so the outcome stays successful.
		log.Error("failed to mark article posted", logx.Int64("article", article.ID), logx.Err(err))
	}
	return article.ID, res, nil
}

// GenerateArticle generates and stores an article for accountID without
// posting it. Blank job fields follow the same defaults as scheduled jobs.
func (e *Executor) GenerateArticle(ctx context.Context, accountID string, job types.JobSpec) (types.Article, error) {
	log := e.log.With(logx.String("account", accountID), logx.String("job", "generate"))
	return e.generate(ctx, accountID, job, log)
}

// generate produces and persists a new article. Nothing is stored when
// generation fails.
func (e *Executor) generate(ctx context.Context, accountID string, job types.JobSpec, log logx.Logger) (types.Article, error) {
	e.applyDefaults(ctx, accountID, &job, log)

	if strings.TrimSpace(job.Topic) == "" && strings.TrimSpace(job.TrendKeyword) == "" && strings.TrimSpace(job.CustomPrompt) == "" {
		kw, err := e.topTrend(ctx)
		if err != nil {
			return types.Article{}, err
		}
		log.Info("using trending keyword as topic", logx.String("keyword", kw))
		job.Topic = kw
	}
	if job.Topic == "" {
		job.Topic = job.TrendKeyword
	}

	conditions := job.OtherConditions
	if job.TrendKeyword != "" {
		conditions = withTrendClause(conditions, job.TrendKeyword)
	}

	draft, err := e.deps.Generator.Generate(ctx, generator.Request{
		Topic:           job.Topic,
		Tone:            job.Tone,
		Length:          job.Length,
		OtherConditions: conditions,
		CustomPrompt:    job.CustomPrompt,
		Provider:        job.Provider,
	})
	if err != nil {
		return types.Article{}, failure.Mark(err, failure.KindGeneration)
	}

	article, err := e.deps.Store.AddArticle(ctx, types.Article{
		AccountID:    accountID,
		Title:        draft.Title,
		Body:         draft.Body,
		Topic:        job.Topic,
		TrendKeyword: job.TrendKeyword,
	})
	if err != nil {
		return types.Article{}, failure.Wrapf(err, failure.KindGeneration, "persist generated article")
	}
	log.Info("article persisted", logx.Int64("article", article.ID), logx.String("title", article.Title))
	return article, nil
}

// applyDefaults fills blank tone, length, conditions and provider from the
// account's settings.
func (e *Executor) applyDefaults(ctx context.Context, accountID string, job *types.JobSpec, log logx.Logger) {
	st, err := e.deps.Store.GetSettings(ctx, accountID)
	if err != nil {
		log.Debug("no account settings, using built-in prompt defaults", logx.Err(err))
		return
	}
	if job.Tone == "" {
		job.Tone = st.Prompt.Tone
	}
	if job.Length == "" {
		job.Length = st.Prompt.Length
	}
	if job.OtherConditions == "" {
		job.OtherConditions = st.Prompt.OtherConditions
	}
	if job.Provider == "" {
		job.Provider = st.Provider
	}
}

func (e *Executor) topTrend(ctx context.Context) (string, error) {
	if e.deps.Trends == nil {
		return "", failure.Newf(failure.KindGeneration, "no topic given and no trend source configured")
	}
	trends, err := e.deps.Trends.GetTrends(ctx, 1, true)
	if err != nil {
		return "", failure.Wrapf(err, failure.KindGeneration, "no topic given and trends unavailable")
	}
	for _, t := range trends {
		if kw := strings.TrimSpace(t.Keyword); kw != "" {
			return kw, nil
		}
	}
	return "", failure.Newf(failure.KindGeneration, "no topic given and no trending keyword available")
}

// withTrendClause asks the article to mention a trending keyword.
func withTrendClause(conditions, keyword string) string {
	clause := "現在Xで話題になっている「" + keyword + "」についても触れてください。"
	if conditions == "" {
		return clause
	}
	return conditions + "\n\n" + clause
}

func (e *Executor) finish(ctx context.Context, kind types.JobKind, out *types.PostOutcome, start time.Time, log logx.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if id, err := e.deps.Store.RecordOutcome(rctx, *out); err != nil {
		log.Error("failed to record outcome", logx.Err(err))
	} else {
		out.ID = id
	}
	if e.deps.Observer != nil {
		e.deps.Observer.JobFinished(kind, *out, e.now().Sub(start))
	}
	if e.deps.Notifier != nil {
		if err := e.deps.Notifier.NotifyOutcome(rctx, *out); err != nil {
			log.Warn("failed to send outcome notification", logx.Err(err))
		}
	}
}
