package browser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/notedraft/internal/browser"
	"github.com/ibeckermayer/notedraft/internal/browser/browsertest"
	"github.com/ibeckermayer/notedraft/internal/failure"
	"github.com/ibeckermayer/notedraft/internal/logx"
)

func fastGuard() *browser.Guard {
	return browser.NewGuard(browser.NavOptions{
		Timeout: 20 * time.Millisecond,
		Retries: 2,
		Backoff: time.Millisecond,
	}, logx.Nop())
}

// hang blocks until the attempt times out, optionally moving the page first.
func hang(moveTo string) func(ctx context.Context, p *browsertest.Page, url string) error {
	return func(ctx context.Context, p *browsertest.Page, url string) error {
		if moveTo != "" {
			p.SetURL(moveTo)
		}
		<-ctx.Done()
		return ctx.Err()
	}
}

func TestGoToSuccess(t *testing.T) {
	page := browsertest.New("about:blank")
	ok, err := fastGuard().GoTo(context.Background(), page, "https://note.com/login")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"https://note.com/login"}, page.Navigations())
}

func TestGoToTimeoutButMovedIsArrived(t *testing.T) {
	page := browsertest.New("https://note.com/")
	page.OnNavigate(hang("https://note.com/notes/n123/edit"))

	ok, err := fastGuard().GoTo(context.Background(), page, "https://note.com/notes/new")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, page.Navigations(), 1, "no retry once the page moved")
}

func TestGoToTimeoutOnBlankRetriesThenFails(t *testing.T) {
	page := browsertest.New("about:blank")
	page.OnNavigate(hang(""))

	ok, err := fastGuard().GoTo(context.Background(), page, "https://note.com/login")
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, failure.Is(err, failure.KindNavigationTimeout))
	assert.Len(t, page.Navigations(), 3)
}

func TestGoToTimeoutStillAtOriginFails(t *testing.T) {
	page := browsertest.New("https://note.com/")
	page.OnNavigate(hang("https://note.com/"))

	ok, err := fastGuard().GoToWith(context.Background(), page, "https://note.com/login", browser.NavOptions{
		Timeout: 10 * time.Millisecond,
		Retries: 0,
	})
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, failure.Is(err, failure.KindNavigationTimeout))
}

func TestGoToRetriesTransientError(t *testing.T) {
	page := browsertest.New("about:blank")
	calls := 0
	page.OnNavigate(func(ctx context.Context, p *browsertest.Page, url string) error {
		calls++
		if calls == 1 {
			return errors.New("net::ERR_CONNECTION_RESET")
		}
		p.SetURL(url)
		return nil
	})

	ok, err := fastGuard().GoTo(context.Background(), page, "https://note.com/")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, calls)
}

func TestGoToWaitForMustPass(t *testing.T) {
	page := browsertest.New("about:blank")
	waits := 0
	opts := browser.NavOptions{
		Timeout: 50 * time.Millisecond,
		Retries: 1,
		WaitFor: func(ctx context.Context, p browser.Page) error {
			waits++
			if waits == 1 {
				return errors.New("marker missing")
			}
			return nil
		},
	}

	ok, err := fastGuard().GoToWith(context.Background(), page, "https://note.com/", opts)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, waits)
}

func TestGoToParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	page := browsertest.New("about:blank")
	page.OnNavigate(func(ctx context.Context, p *browsertest.Page, url string) error {
		cancel()
		return ctx.Err()
	})

	ok, err := fastGuard().GoTo(ctx, page, "https://note.com/")
	require.Error(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, page.Navigations(), 1)
}
