package auth

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/notedraft/internal/browser/browsertest"
	"github.com/ibeckermayer/notedraft/internal/logx"
)

func noteCookies(expires time.Time) []*network.Cookie {
	return []*network.Cookie{
		{Name: "_note_session_v5", Value: "abc", Domain: ".note.com", Expires: float64(expires.Unix())},
		{Name: "XSRF-TOKEN", Value: "tok", Domain: "note.com", Session: true},
		{Name: "_ga", Value: "x", Domain: ".google.com", Expires: float64(expires.Add(time.Hour).Unix())},
	}
}

func TestCookiePathSanitizesAccount(t *testing.T) {
	assert.Equal(t, "/c/cookies/me_example.com.json", CookiePath("/c", "me@example.com"))
	assert.Equal(t, "/c/cookies/_.._x.json", CookiePath("/c", "/../x"))
}

func TestSaveLoadValid(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	cs := NewCookieStore(CookiePath(t.TempDir(), "acct"), "note.com")
	cs.now = func() time.Time { return now }

	exp := now.Add(24 * time.Hour)
	require.NoError(t, cs.Save("acct", noteCookies(exp)))

	info, err := os.Stat(cs.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	stored, err := cs.Load()
	require.NoError(t, err)
	assert.Equal(t, "acct", stored.AccountID)
	assert.Len(t, stored.Cookies, 2, "foreign domains are dropped")
	assert.Equal(t, exp.Unix(), stored.ExpiresAt.Unix())

	cookies, ok := cs.Valid()
	assert.True(t, ok)
	assert.Len(t, cookies, 2)

	cs.now = func() time.Time { return exp.Add(time.Second) }
	_, ok = cs.Valid()
	assert.False(t, ok, "expired")
}

func TestSaveWithoutPlatformCookiesFails(t *testing.T) {
	cs := NewCookieStore(CookiePath(t.TempDir(), "acct"), "note.com")
	err := cs.Save("acct", []*network.Cookie{{Name: "_ga", Domain: ".google.com"}})
	assert.Error(t, err)
}

func TestClearIsIdempotent(t *testing.T) {
	m := NewManager(t.TempDir(), "note.com", logx.Nop())
	require.NoError(t, m.Store("a").Save("a", noteCookies(time.Now().Add(time.Hour))))
	assert.True(t, m.IsAuthenticated("a"))

	require.NoError(t, m.Logout("a"))
	assert.False(t, m.IsAuthenticated("a"))
	require.NoError(t, m.Logout("a"))
}

func TestInteractiveSavesCookiesAfterLogin(t *testing.T) {
	page := browsertest.New("about:blank")
	require.NoError(t, page.SetCookies(context.Background(), noteCookies(time.Now().Add(time.Hour))))

	m := NewManager(t.TempDir(), "note.com", logx.Nop())
	m.PollInterval = 5 * time.Millisecond

	go func() {
		time.Sleep(30 * time.Millisecond)
		page.SetURL("https://note.com/")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.Interactive(ctx, browsertest.NewLauncher(nil, page), "a", "https://note.com/login", "login")
	require.NoError(t, err)

	assert.Equal(t, []string{"https://note.com/login"}, page.Navigations())
	assert.True(t, m.IsAuthenticated("a"))
	assert.Equal(t, 1, page.CloseCalls())
}

func TestInteractiveHonoursDeadline(t *testing.T) {
	page := browsertest.New("about:blank")
	m := NewManager(t.TempDir(), "note.com", logx.Nop())
	m.PollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.Interactive(ctx, browsertest.NewLauncher(nil, page), "a", "https://note.com/login", "login")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, m.IsAuthenticated("a"))
}
