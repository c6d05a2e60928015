package browser

import (
	"context"
	"strings"
	"time"

	"github.com/ibeckermayer/notedraft/internal/failure"
	"github.com/ibeckermayer/notedraft/internal/logx"
)

// NavOptions controls one GoTo call.
type NavOptions struct {
	// Timeout bounds each attempt, including WaitFor.
	Timeout time.Duration
	// Retries is the number of extra attempts after the first.
	Retries int
	// Backoff is the fixed pause between attempts.
	Backoff time.Duration
	// WaitFor, when set, must succeed after the load for the attempt to count.
	WaitFor func(ctx context.Context, p Page) error
}

// Guard wraps navigation with timeout, retry and "already arrived" detection.
type Guard struct {
	defaults NavOptions
	log      logx.Logger
}

// NewGuard creates a guard whose GoTo uses defaults.
func NewGuard(defaults NavOptions, log logx.Logger) *Guard {
	if defaults.Timeout <= 0 {
		defaults.Timeout = 60 * time.Second
	}
	if defaults.Retries < 0 {
		defaults.Retries = 0
	}
	return &Guard{defaults: defaults, log: log.Component("navigation")}
}

// GoTo navigates with the guard's default options.
func (g *Guard) GoTo(ctx context.Context, page Page, url string) (bool, error) {
	return g.GoToWith(ctx, page, url, g.defaults)
}

// GoToWith navigates to url. When an attempt times out but the page has moved
// away from both the origin URL and about:blank, the navigation counts as
// arrived: the site's load signal is unreliable on heavy client-rendered pages.
// Otherwise it retries after a fixed backoff and finally fails with
// NavigationTimeout.
func (g *Guard) GoToWith(ctx context.Context, page Page, url string, opts NavOptions) (bool, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = g.defaults.Timeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	origin := g.currentURL(ctx, page)
	var lastErr error

	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, opts.Backoff); err != nil {
				return false, failure.Wrapf(err, failure.KindNavigationTimeout, "goto %s", url)
			}
		}

		actx, cancel := context.WithTimeout(ctx, opts.Timeout)
		err := page.Navigate(actx, url)
		if err == nil && opts.WaitFor != nil {
			err = opts.WaitFor(actx, page)
		}
		timedOut := actx.Err() != nil
		cancel()

		if err == nil {
			g.log.Debug("navigated", logx.String("url", url), logx.Int("attempt", attempt+1))
			return true, nil
		}
		if ctx.Err() != nil {
			return false, failure.Wrapf(ctx.Err(), failure.KindNavigationTimeout, "goto %s", url)
		}
		lastErr = err

		if timedOut {
			current := g.currentURL(ctx, page)
			if moved(current, origin) {
				g.log.Info("navigation timed out but page moved; treating as arrived",
					logx.String("url", url),
					logx.String("current", current),
					logx.Int("attempt", attempt+1))
				return true, nil
			}
		}

		g.log.Warn("navigation attempt failed",
			logx.String("url", url),
			logx.Int("attempt", attempt+1),
			logx.Int("attempts", opts.Retries+1),
			logx.Bool("timed_out", timedOut),
			logx.Err(err))
	}

	return false, failure.Wrapf(lastErr, failure.KindNavigationTimeout, "goto %s: %d attempts", url, opts.Retries+1)
}

func (g *Guard) currentURL(ctx context.Context, page Page) string {
	uctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	u, err := page.URL(uctx)
	if err != nil {
		return ""
	}
	return u
}

func moved(current, origin string) bool {
	switch {
	case current == "", current == "about:blank", current == origin:
		return false
	case strings.HasPrefix(current, "chrome-error://"):
		return false
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
