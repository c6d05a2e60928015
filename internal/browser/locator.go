package browser

import (
	"context"
	"strings"
	"time"

	"github.com/ibeckermayer/notedraft/internal/failure"
	"github.com/ibeckermayer/notedraft/internal/logx"
	"github.com/ibeckermayer/notedraft/internal/types"
)

// Table maps each semantic action to its ordered fallback strategies.
type Table struct {
	Actions map[Action][]Strategy
	// FrameHints select sub-documents that are searched before the main document
	// when their URL contains any hint.
	FrameHints []string
}

// Strategies returns the ordered strategies for a, or nil.
func (t *Table) Strategies(a Action) []Strategy {
	if t == nil {
		return nil
	}
	return t.Actions[a]
}

// TableSource yields the strategy table current at call time.
type TableSource interface {
	Table() *Table
}

// StaticTable is a TableSource that never changes.
type StaticTable struct{ T *Table }

func (s StaticTable) Table() *Table { return s.T }

// LocatorObserver receives resolution telemetry. Implementations must be safe for concurrent use.
type LocatorObserver interface {
	LocatorMatched(action string, index int)
	LocatorMissed(action string)
}

// LocatorOptions tunes resolution timing.
type LocatorOptions struct {
	// Wait is how long Resolve keeps re-running passes before giving up. Zero means one pass.
	Wait time.Duration
	// Poll is the pause between passes.
	Poll time.Duration
	// QueryTimeout bounds each individual Find call.
	QueryTimeout time.Duration
}

// Locator resolves semantic actions to page elements.
type Locator struct {
	tables TableSource
	opts   LocatorOptions
	log    logx.Logger
	obs    LocatorObserver
}

// NewLocator creates a locator reading strategies from tables. obs may be nil.
func NewLocator(tables TableSource, opts LocatorOptions, log logx.Logger, obs LocatorObserver) *Locator {
	if opts.Poll <= 0 {
		opts.Poll = 500 * time.Millisecond
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 5 * time.Second
	}
	return &Locator{
		tables: tables,
		opts:   opts,
		log:    log.Component("locator"),
		obs:    obs,
	}
}

// Resolve finds the element for action using the configured wait budget.
func (l *Locator) Resolve(ctx context.Context, page Page, action Action) (Element, types.ActionResult, error) {
	return l.ResolveWithin(ctx, page, action, l.opts.Wait)
}

// Probe runs a single resolution pass, for cheap presence checks.
func (l *Locator) Probe(ctx context.Context, page Page, action Action) (Element, bool) {
	el, res, err := l.ResolveWithin(ctx, page, action, 0)
	return el, err == nil && res.Succeeded
}

// ResolveWithin iterates the action's strategies in declared order and returns the
// first visible, enabled element. Sub-documents matching the table's frame hints are
// queried before the main document. A strategy whose query errors is skipped for the
// rest of this resolution.
func (l *Locator) ResolveWithin(ctx context.Context, page Page, action Action, wait time.Duration) (Element, types.ActionResult, error) {
	start := time.Now()
	res := types.ActionResult{MatchedStrategyIndex: -1}

	table := l.tables.Table()
	strategies := table.Strategies(action)
	if len(strategies) == 0 {
		res.Elapsed = time.Since(start)
		l.missed(action)
		return Element{}, res, failure.Newf(failure.KindElementNotFound, "no strategies configured for %s", action)
	}

	var hints []string
	if table != nil {
		hints = table.FrameHints
	}

	broken := make([]bool, len(strategies))
	deadline := start.Add(wait)

	for pass := 1; ; pass++ {
		scopes := l.scopes(ctx, page, hints)

		for i, s := range strategies {
			if broken[i] {
				continue
			}
			for _, sc := range scopes {
				el, ok, err := l.find(ctx, page, sc, s)
				if err != nil {
					if ctx.Err() != nil {
						break
					}
					broken[i] = true
					l.log.Debug("strategy errored",
						logx.String("action", string(action)),
						logx.Int("index", i),
						logx.String("strategy", s.String()),
						logx.Err(err))
					break
				}
				if !ok {
					continue
				}

				res.Succeeded = true
				res.MatchedStrategyIndex = i
				res.Elapsed = time.Since(start)
				l.log.Info("action resolved",
					logx.String("action", string(action)),
					logx.Int("index", i),
					logx.String("strategy", s.String()),
					logx.Int("scope", sc.Index),
					logx.Int("pass", pass),
					logx.Duration("elapsed", res.Elapsed))
				if l.obs != nil {
					l.obs.LocatorMatched(string(action), i)
				}
				return el, res, nil
			}
		}

		if err := ctx.Err(); err != nil {
			res.Elapsed = time.Since(start)
			l.missed(action)
			return Element{}, res, failure.Wrapf(err, failure.KindElementNotFound, "resolve %s", action)
		}
		if !time.Now().Before(deadline) || allBroken(broken) {
			break
		}

		t := time.NewTimer(l.opts.Poll)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}

	res.Elapsed = time.Since(start)
	l.missed(action)
	l.log.Warn("all strategies exhausted",
		logx.String("action", string(action)),
		logx.Int("strategies", len(strategies)),
		logx.Duration("elapsed", res.Elapsed))
	return Element{}, res, failure.Newf(failure.KindElementNotFound, "%s: none of %d strategies matched", action, len(strategies))
}

func (l *Locator) find(ctx context.Context, page Page, sc Scope, s Strategy) (Element, bool, error) {
	qctx, cancel := context.WithTimeout(ctx, l.opts.QueryTimeout)
	defer cancel()
	el, ok, err := page.Find(qctx, sc, s)
	if err != nil {
		return Element{}, false, err
	}
	if ok {
		el.Scope = sc
	}
	return el, ok, nil
}

// scopes returns hinted frames first, then the main document. Frame listing
// errors fall back to the main document only.
func (l *Locator) scopes(ctx context.Context, page Page, hints []string) []Scope {
	if len(hints) == 0 {
		return []Scope{TopScope}
	}
	qctx, cancel := context.WithTimeout(ctx, l.opts.QueryTimeout)
	defer cancel()
	frames, err := page.Frames(qctx)
	if err != nil {
		return []Scope{TopScope}
	}

	out := make([]Scope, 0, len(frames)+1)
	for _, f := range frames {
		if containsAny(f.URL, hints) {
			out = append(out, f)
		}
	}
	return append(out, TopScope)
}

func (l *Locator) missed(action Action) {
	if l.obs != nil {
		l.obs.LocatorMissed(string(action))
	}
}

func allBroken(b []bool) bool {
	for _, v := range b {
		if !v {
			return false
		}
	}
	return true
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
