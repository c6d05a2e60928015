package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ibeckermayer/notedraft/internal/browser"
	"github.com/ibeckermayer/notedraft/internal/logx"
)

// PageFactory opens browser pages.
type PageFactory interface {
	NewPage(ctx context.Context) (browser.Page, error)
}

// Manager owns the per-account cookie stores under one directory.
type Manager struct {
	dir    string
	domain string
	log    logx.Logger

	// PollInterval controls how often Interactive checks for a finished login.
	PollInterval time.Duration
}

// NewManager creates a manager storing cookies under dir/cookies.
func NewManager(dir, domain string, log logx.Logger) *Manager {
	return &Manager{
		dir:          dir,
		domain:       domain,
		log:          log.Component("auth"),
		PollInterval: 2 * time.Second,
	}
}

// Store returns the cookie store for accountID.
func (m *Manager) Store(accountID string) *CookieStore {
	return NewCookieStore(CookiePath(m.dir, accountID), m.domain)
}

// IsAuthenticated checks if we have valid stored cookies for accountID.
func (m *Manager) IsAuthenticated(accountID string) bool {
	_, ok := m.Store(accountID).Valid()
	return ok
}

// Logout clears the stored cookies for accountID.
func (m *Manager) Logout(accountID string) error {
	if err := m.Store(accountID).Clear(); err != nil {
		return fmt.Errorf("clear cookies for %s: %w", accountID, err)
	}
	m.log.Info("stored session cleared", logx.String("account", accountID))
	return nil
}

// Interactive opens the login page in a page the operator drives by hand
// (typically a headful browser, for logins that need a CAPTCHA or 2FA) and
// saves the cookies once the URL leaves the login form.
func (m *Manager) Interactive(ctx context.Context, pages PageFactory, accountID, loginURL, loginMarker string) error {
	page, err := pages.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, loginURL); err != nil {
		return fmt.Errorf("navigate to login page: %w", err)
	}
	m.log.Info("waiting for manual login", logx.String("account", accountID), logx.String("url", loginURL))

	if err := m.waitForLogin(ctx, page, loginMarker); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	cookies, err := page.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("extract cookies: %w", err)
	}
	if err := m.Store(accountID).Save(accountID, cookies); err != nil {
		return fmt.Errorf("save cookies: %w", err)
	}
	m.log.Info("session cookies saved", logx.String("account", accountID), logx.Int("cookies", len(cookies)))
	return nil
}

// waitForLogin polls until the page has left the login form.
func (m *Manager) waitForLogin(ctx context.Context, page browser.Page, loginMarker string) error {
	ticker := time.NewTicker(m.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			url, err := page.URL(ctx)
			if err != nil || url == "" || url == "about:blank" {
				continue
			}
			if !strings.Contains(url, loginMarker) {
				return nil
			}
		}
	}
}
