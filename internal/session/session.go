// Package session drives one authenticated browser context through the
// platform's login and draft-editor flows.
package session

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/ibeckermayer/notedraft/internal/browser"
	"github.com/ibeckermayer/notedraft/internal/failure"
	"github.com/ibeckermayer/notedraft/internal/logx"
	"github.com/ibeckermayer/notedraft/internal/platform"
	"github.com/ibeckermayer/notedraft/internal/types"
)

// State is the lifecycle position of a Session.
type State string

const (
	Unauthenticated State = "unauthenticated"
	Authenticating  State = "authenticating"
	Authenticated   State = "authenticated"
	Submitting      State = "submitting"
	Failed          State = "failed"
	Closed          State = "closed"
)

// PageFactory opens the browser page a session drives.
type PageFactory interface {
	NewPage(ctx context.Context) (browser.Page, error)
}

// ArtifactSink stores diagnostic screenshots and returns a reference to them.
type ArtifactSink interface {
	Save(ctx context.Context, accountID, step string, png []byte) (string, error)
}

// CookieJar persists session cookies between browser contexts.
type CookieJar interface {
	Valid() ([]*network.Cookie, bool)
	Save(accountID string, cookies []*network.Cookie) error
}

// Config holds a session's collaborators and timing.
type Config struct {
	Credential types.Credential
	Pages      PageFactory
	Locator    *browser.Locator
	Guard      *browser.Guard
	Site       platform.Site

	// Optional.
	Artifacts ArtifactSink
	Cookies   CookieJar

	// StepTimeout bounds each individual page operation.
	StepTimeout time.Duration
	// LoginWait bounds the wait for the post-login success signal.
	LoginWait time.Duration
	// EditorWait bounds the wait for the editor surface after the trigger.
	EditorWait time.Duration
	// SaveWait bounds the wait for the draft-saved signal.
	SaveWait time.Duration
	// VerifyWait bounds the signed-in check on a reused or cookie-resumed session.
	VerifyWait time.Duration
	// Poll is the pause between success-signal checks.
	Poll time.Duration

	Log logx.Logger
}

// Session owns one browser page for one credential set. It is not safe for
// concurrent use; the pool serializes access per account.
type Session struct {
	cfg     Config
	log     logx.Logger
	draftRE *regexp.Regexp

	mu    sync.Mutex
	state State
	page  browser.Page

	closeOnce sync.Once
	closeErr  error
}

// New creates an unauthenticated session. The browser page opens lazily on first use.
func New(cfg Config) (*Session, error) {
	if cfg.Pages == nil || cfg.Locator == nil || cfg.Guard == nil {
		return nil, fmt.Errorf("session: pages, locator and guard are required")
	}
	re, err := regexp.Compile(cfg.Site.DraftURLPattern)
	if err != nil {
		return nil, fmt.Errorf("session: draft url pattern: %w", err)
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Second
	}
	if cfg.LoginWait <= 0 {
		cfg.LoginWait = 20 * time.Second
	}
	if cfg.EditorWait <= 0 {
		cfg.EditorWait = 15 * time.Second
	}
	if cfg.SaveWait <= 0 {
		cfg.SaveWait = 15 * time.Second
	}
	if cfg.VerifyWait <= 0 {
		cfg.VerifyWait = 5 * time.Second
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 500 * time.Millisecond
	}
	return &Session{
		cfg:     cfg,
		log:     cfg.Log.Component("session").With(logx.String("account", cfg.Credential.AccountID)),
		draftRE: re,
		state:   Unauthenticated,
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Healthy reports whether the session may be reused.
func (s *Session) Healthy() bool {
	st := s.State()
	return st != Failed && st != Closed
}

// Credential returns the credential the session was created with.
func (s *Session) Credential() types.Credential { return s.cfg.Credential }

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}
	if s.state != st {
		s.log.Debug("state change", logx.String("from", string(s.state)), logx.String("to", string(st)))
	}
	s.state = st
}

func (s *Session) pageFor(ctx context.Context) (browser.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return nil, fmt.Errorf("session closed")
	}
	if s.page != nil {
		return s.page, nil
	}
	p, err := s.cfg.Pages.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browser page: %w", err)
	}
	s.page = p
	return p, nil
}

// Close releases the browser page. It is idempotent and valid in any state.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		p := s.page
		s.page = nil
		s.state = Closed
		s.mu.Unlock()
		if p != nil {
			s.closeErr = p.Close()
		}
		s.log.Debug("session closed")
	})
	return s.closeErr
}

// Login authenticates the page. Stored cookies are tried first; the login
// form is used when they are missing or no longer accepted.
func (s *Session) Login(ctx context.Context) (types.ActionResult, error) {
	if st := s.State(); st == Closed {
		return types.ActionResult{MatchedStrategyIndex: -1}, failure.Newf(failure.KindLogin, "session closed")
	}
	s.setState(Authenticating)

	res, err := s.login(ctx)
	if err != nil {
		s.setState(Failed)
		return res, err
	}
	s.setState(Authenticated)
	return res, nil
}

func (s *Session) login(ctx context.Context) (types.ActionResult, error) {
	start := time.Now()
	res := types.ActionResult{MatchedStrategyIndex: -1}

	page, err := s.pageFor(ctx)
	if err != nil {
		return res, failure.Mark(err, failure.KindLogin)
	}

	if s.resumeFromCookies(ctx, page) {
		res.Succeeded = true
		res.Elapsed = time.Since(start)
		return res, nil
	}

	fail := func(step string, err error) (types.ActionResult, error) {
		res.Artifact = s.capture(ctx, page, "error_"+step)
		res.Elapsed = time.Since(start)
		s.log.Warn("login failed", logx.String("step", step), logx.Err(err))
		return res, failure.Wrapf(err, failure.KindLogin, "login: %s", step)
	}

	if _, err := s.cfg.Guard.GoTo(ctx, page, s.cfg.Site.LoginURL); err != nil {
		return fail("navigate_login", err)
	}
	s.capture(ctx, page, "login_page")

	if err := s.fill(ctx, page, platform.LoginEmail, s.cfg.Credential.LoginID); err != nil {
		return fail("fill_email", err)
	}
	if err := s.fill(ctx, page, platform.LoginPassword, s.cfg.Credential.LoginSecret); err != nil {
		return fail("fill_password", err)
	}

	el, submit, err := s.cfg.Locator.Resolve(ctx, page, platform.LoginSubmit)
	switch {
	case err == nil:
		res.MatchedStrategyIndex = submit.MatchedStrategyIndex
		if err := s.do(ctx, func(ctx context.Context) error { return page.Click(ctx, el) }); err != nil {
			return fail("submit_login", err)
		}
	case ctx.Err() != nil:
		return fail("submit_login", err)
	default:
		s.log.Info("login submit not found; pressing key", logx.String("keys", s.cfg.Site.SubmitKeys))
		if err := s.do(ctx, func(ctx context.Context) error { return page.Press(ctx, s.cfg.Site.SubmitKeys) }); err != nil {
			return fail("submit_login", err)
		}
	}

	if !s.waitUntil(ctx, s.cfg.LoginWait, func() bool { return s.authenticated(ctx, page) }) {
		reason := "no authenticated marker after submit"
		if msg := s.loginErrorText(ctx, page); msg != "" {
			reason = msg
		}
		return fail("verify_login", fmt.Errorf("login rejected: %s", reason))
	}

	res.Artifact = s.capture(ctx, page, "after_login")
	res.Succeeded = true
	res.Elapsed = time.Since(start)
	s.saveCookies(ctx, page)
	s.log.Info("logged in", logx.Duration("elapsed", res.Elapsed))
	return res, nil
}

// resumeFromCookies injects stored cookies and checks that the platform
// still accepts them.
func (s *Session) resumeFromCookies(ctx context.Context, page browser.Page) bool {
	if s.cfg.Cookies == nil {
		return false
	}
	cookies, ok := s.cfg.Cookies.Valid()
	if !ok {
		return false
	}
	if err := s.do(ctx, func(ctx context.Context) error { return page.SetCookies(ctx, cookies) }); err != nil {
		s.log.Debug("cookie injection failed", logx.Err(err))
		return false
	}
	if _, err := s.cfg.Guard.GoTo(ctx, page, s.cfg.Site.HomeURL); err != nil {
		return false
	}
	if !s.verified(ctx, page) {
		s.log.Info("stored cookies rejected; logging in with credentials")
		return false
	}
	s.log.Info("resumed session from stored cookies", logx.Int("cookies", len(cookies)))
	return true
}

func (s *Session) saveCookies(ctx context.Context, page browser.Page) {
	if s.cfg.Cookies == nil {
		return
	}
	var cookies []*network.Cookie
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		cookies, err = page.Cookies(ctx)
		return err
	})
	if err == nil {
		err = s.cfg.Cookies.Save(s.cfg.Credential.AccountID, cookies)
	}
	if err != nil {
		s.log.Warn("could not persist session cookies", logx.Err(err))
	}
}

// authenticated is the post-login success signal: the URL has left the login
// form, or an element only signed-in users see is present.
func (s *Session) authenticated(ctx context.Context, page browser.Page) bool {
	url, err := page.URL(ctx)
	if err == nil && url != "" && url != "about:blank" && !strings.Contains(url, s.cfg.Site.LoginPathMarker) {
		return true
	}
	_, ok := s.cfg.Locator.Probe(ctx, page, platform.AuthMarker)
	return ok
}

// verified is the stricter check used away from the login form: the page
// must not be the form and must show a signed-in element.
func (s *Session) verified(ctx context.Context, page browser.Page) bool {
	if url, err := page.URL(ctx); err != nil || strings.Contains(url, s.cfg.Site.LoginPathMarker) {
		return false
	}
	_, res, err := s.cfg.Locator.ResolveWithin(ctx, page, platform.AuthMarker, s.cfg.VerifyWait)
	return err == nil && res.Succeeded
}

func (s *Session) loginErrorText(ctx context.Context, page browser.Page) string {
	el, ok := s.cfg.Locator.Probe(ctx, page, platform.LoginError)
	if !ok {
		return ""
	}
	var text string
	_ = s.do(ctx, func(ctx context.Context) error {
		var err error
		text, err = page.Text(ctx, el)
		return err
	})
	return strings.TrimSpace(text)
}

// SubmitDraft fills the editor with title and body and saves it as a draft.
func (s *Session) SubmitDraft(ctx context.Context, title, body string) (types.DraftResult, error) {
	switch s.State() {
	case Closed:
		return types.DraftResult{}, failure.Newf(failure.KindSubmit, "session closed")
	case Unauthenticated, Failed:
		if _, err := s.Login(ctx); err != nil {
			return types.DraftResult{}, failure.Wrapf(err, failure.KindSubmit, "submit draft")
		}
	}
	s.setState(Submitting)

	res, err := s.submit(ctx, title, body)
	if err != nil {
		s.setState(Failed)
		return types.DraftResult{}, err
	}
	s.setState(Authenticated)
	return res, nil
}

func (s *Session) submit(ctx context.Context, title, body string) (types.DraftResult, error) {
	start := time.Now()
	page, err := s.pageFor(ctx)
	if err != nil {
		return types.DraftResult{}, failure.Mark(err, failure.KindSubmit)
	}

	fail := func(step string, err error) (types.DraftResult, error) {
		s.capture(ctx, page, "error_"+step)
		s.log.Warn("submit failed", logx.String("step", step), logx.Err(err))
		return types.DraftResult{}, failure.Wrapf(err, failure.KindSubmit, "submit draft: %s", step)
	}

	// Reused sessions are re-verified on the home page; an expired login
	// redirects to the form.
	if _, err := s.cfg.Guard.GoTo(ctx, page, s.cfg.Site.HomeURL); err != nil {
		return fail("navigate_home", err)
	}
	if !s.verified(ctx, page) {
		s.log.Info("session no longer authenticated; logging in again")
		s.setState(Authenticating)
		if _, err := s.login(ctx); err != nil {
			return types.DraftResult{}, failure.Wrapf(err, failure.KindSubmit, "submit draft: reauthenticate")
		}
		s.setState(Submitting)
	}

	if err := s.openEditor(ctx, page); err != nil {
		return fail("open_editor", err)
	}
	s.capture(ctx, page, "editor_page")

	if err := s.fillEditor(ctx, page, platform.EditorTitle, title); err != nil {
		return fail("fill_title", err)
	}
	if err := s.fillEditor(ctx, page, platform.EditorBody, body); err != nil {
		return fail("fill_body", err)
	}
	s.capture(ctx, page, "before_save")

	el, _, err := s.cfg.Locator.Resolve(ctx, page, platform.EditorSave)
	switch {
	case err == nil:
		if err := s.do(ctx, func(ctx context.Context) error { return page.Click(ctx, el) }); err != nil {
			return fail("save", err)
		}
	case ctx.Err() != nil:
		return fail("save", err)
	default:
		s.log.Info("save control not found; pressing key", logx.String("keys", s.cfg.Site.SaveKeys))
		if err := s.do(ctx, func(ctx context.Context) error { return page.Press(ctx, s.cfg.Site.SaveKeys) }); err != nil {
			return fail("save", err)
		}
	}

	var url string
	saved := s.waitUntil(ctx, s.cfg.SaveWait, func() bool {
		if u, err := page.URL(ctx); err == nil {
			url = u
			if s.draftRE.MatchString(u) {
				return true
			}
		}
		_, ok := s.cfg.Locator.Probe(ctx, page, platform.EditorSaved)
		return ok
	})
	if !saved {
		return fail("confirm_save", fmt.Errorf("no draft-saved signal at %s", url))
	}

	s.capture(ctx, page, "after_save")
	res := types.DraftResult{URL: url, DraftID: s.draftID(url)}
	s.log.Info("draft saved",
		logx.String("url", res.URL),
		logx.String("draft_id", res.DraftID),
		logx.Duration("elapsed", time.Since(start)))
	return res, nil
}

// openEditor reaches the editor via the post trigger, falling back to the
// direct editor URL when the trigger is missing. It tries twice.
func (s *Session) openEditor(ctx context.Context, page browser.Page) error {
	const attempts = 2
	var lastURL string
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if _, err := s.cfg.Guard.GoTo(ctx, page, s.cfg.Site.HomeURL); err != nil {
				return err
			}
		}

		el, _, err := s.cfg.Locator.Resolve(ctx, page, platform.EditorTrigger)
		switch {
		case err == nil:
			if err := s.do(ctx, func(ctx context.Context) error { return page.Click(ctx, el) }); err != nil {
				return err
			}
		case ctx.Err() != nil:
			return err
		default:
			s.log.Info("post trigger not found; opening editor directly", logx.String("url", s.cfg.Site.EditorURL))
			if _, err := s.cfg.Guard.GoTo(ctx, page, s.cfg.Site.EditorURL); err != nil {
				return err
			}
		}

		if s.waitUntil(ctx, s.cfg.EditorWait, func() bool {
			u, err := page.URL(ctx)
			lastURL = u
			return err == nil && containsAny(u, s.cfg.Site.EditorMarkers)
		}) {
			return nil
		}
		s.log.Debug("editor not reached", logx.Int("attempt", i+1), logx.String("url", lastURL))
	}
	return fmt.Errorf("editor not reached after %d attempts (at %s)", attempts, lastURL)
}

func (s *Session) fill(ctx context.Context, page browser.Page, action browser.Action, value string) error {
	el, _, err := s.cfg.Locator.Resolve(ctx, page, action)
	if err != nil {
		return err
	}
	return s.do(ctx, func(ctx context.Context) error { return page.Fill(ctx, el, value) })
}

// fillEditor writes text into an editor field. Rich surfaces get escaped
// HTML with line breaks; plain inputs are filled as-is.
func (s *Session) fillEditor(ctx context.Context, page browser.Page, action browser.Action, text string) error {
	el, _, err := s.cfg.Locator.Resolve(ctx, page, action)
	if err != nil {
		return err
	}
	if el.Rich {
		return s.do(ctx, func(ctx context.Context) error { return page.SetRichText(ctx, el, RichHTML(text)) })
	}
	return s.do(ctx, func(ctx context.Context) error { return page.Fill(ctx, el, text) })
}

// RichHTML escapes text and turns newlines into <br>.
func RichHTML(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(html.EscapeString(text), "\n", "<br>")
}

func (s *Session) draftID(url string) string {
	m := s.draftRE.FindStringSubmatch(url)
	if len(m) > 1 {
		return m[1]
	}
	return ""
}

// do runs fn under the per-step timeout.
func (s *Session) do(ctx context.Context, fn func(ctx context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()
	return fn(sctx)
}

// waitUntil polls cond until it holds, wait elapses or ctx is done.
func (s *Session) waitUntil(ctx context.Context, wait time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(wait)
	for {
		if cond() {
			return true
		}
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return false
		}
		t := time.NewTimer(s.cfg.Poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

// capture screenshots the page into the artifact sink. Failures only log.
func (s *Session) capture(ctx context.Context, page browser.Page, step string) string {
	if s.cfg.Artifacts == nil || page == nil {
		return ""
	}
	// Captures also run on failure paths where ctx may already be done.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StepTimeout)
	defer cancel()

	png, err := page.Screenshot(cctx)
	if err != nil {
		s.log.Debug("screenshot failed", logx.String("step", step), logx.Err(err))
		return ""
	}
	ref, err := s.cfg.Artifacts.Save(cctx, s.cfg.Credential.AccountID, step, png)
	if err != nil {
		s.log.Warn("artifact save failed", logx.String("step", step), logx.Err(err))
		return ""
	}
	return ref
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
