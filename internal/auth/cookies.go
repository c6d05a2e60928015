package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/ibeckermayer/notedraft/internal/config"
)

// CookieStore persists one account's platform session cookies.
type CookieStore struct {
	path   string
	domain string
	now    func() time.Time
}

// StoredCookies represents the persisted cookie data
type StoredCookies struct {
	AccountID  string            `json:"account_id"`
	Cookies    []*network.Cookie `json:"cookies"`
	CapturedAt time.Time         `json:"captured_at"`
	// ExpiresAt is the earliest expiry among persistent cookies; zero when all are session cookies.
	ExpiresAt time.Time `json:"expires_at"`
}

// NewCookieStore creates a cookie store at path, keeping only cookies whose
// domain ends with domain (all cookies when empty).
func NewCookieStore(path, domain string) *CookieStore {
	return &CookieStore{path: path, domain: domain, now: time.Now}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// CookiePath returns <dir>/cookies/<account>.json.
func CookiePath(dir, accountID string) string {
	name := unsafeChars.ReplaceAllString(accountID, "_")
	if name == "" {
		name = "_"
	}
	return filepath.Join(dir, "cookies", name+".json")
}

// DefaultCookieStore returns the store for accountID under the config dir.
func DefaultCookieStore(accountID, domain string) (*CookieStore, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return nil, err
	}
	return NewCookieStore(CookiePath(dir, accountID), domain), nil
}

// Path returns the backing file.
func (cs *CookieStore) Path() string { return cs.path }

// Save persists cookies to disk with owner-only permissions.
func (cs *CookieStore) Save(accountID string, cookies []*network.Cookie) error {
	kept := cs.filter(cookies)
	if len(kept) == 0 {
		return fmt.Errorf("no %s cookies to save", cs.domain)
	}
	if err := os.MkdirAll(filepath.Dir(cs.path), 0o700); err != nil {
		return err
	}

	var earliest time.Time
	for _, c := range kept {
		if c.Session || c.Expires <= 0 {
			continue
		}
		exp := time.Unix(int64(c.Expires), 0)
		if earliest.IsZero() || exp.Before(earliest) {
			earliest = exp
		}
	}

	stored := StoredCookies{
		AccountID:  accountID,
		Cookies:    kept,
		CapturedAt: cs.now(),
		ExpiresAt:  earliest,
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cs.path, data, 0o600)
}

// Load retrieves cookies from disk
func (cs *CookieStore) Load() (*StoredCookies, error) {
	data, err := os.ReadFile(cs.path)
	if err != nil {
		return nil, err
	}
	var stored StoredCookies
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode %s: %w", cs.path, err)
	}
	return &stored, nil
}

// Valid returns the stored cookies when they exist and have not expired.
func (cs *CookieStore) Valid() ([]*network.Cookie, bool) {
	stored, err := cs.Load()
	if err != nil || len(stored.Cookies) == 0 {
		return nil, false
	}
	if !stored.ExpiresAt.IsZero() && !cs.now().Before(stored.ExpiresAt) {
		return nil, false
	}
	return stored.Cookies, true
}

// Clear removes stored cookies. Clearing an absent store is not an error.
func (cs *CookieStore) Clear() error {
	if err := os.Remove(cs.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (cs *CookieStore) filter(cookies []*network.Cookie) []*network.Cookie {
	if cs.domain == "" {
		return cookies
	}
	var out []*network.Cookie
	for _, c := range cookies {
		if c == nil {
			continue
		}
		d := strings.TrimPrefix(c.Domain, ".")
		if d == cs.domain || strings.HasSuffix(d, "."+cs.domain) {
			out = append(out, c)
		}
	}
	return out
}
