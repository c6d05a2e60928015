package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// Launcher starts Chrome-backed pages.
type Launcher struct {
	opts LaunchOptions
}

// NewLauncher creates a launcher using the given browser options.
func NewLauncher(opts LaunchOptions) *Launcher {
	return &Launcher{opts: opts}
}

// ChromePage is a Page backed by one chromedp tab in its own browser process.
type ChromePage struct {
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	closeOnce   sync.Once
}

// NewPage launches a browser and applies locale and timezone emulation.
// The browser outlives ctx; ctx only bounds the launch.
func (l *Launcher) NewPage(ctx context.Context) (Page, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), Options(l.opts)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	p := &ChromePage{allocCancel: allocCancel, tabCtx: tabCtx, tabCancel: tabCancel}

	var actions []chromedp.Action
	if l.opts.Locale != "" {
		actions = append(actions, emulation.SetLocaleOverride().WithLocale(l.opts.Locale))
	}
	if l.opts.Timezone != "" {
		actions = append(actions, emulation.SetTimezoneOverride(l.opts.Timezone))
	}
	if len(actions) == 0 {
		// An empty Run still starts the browser.
		actions = append(actions, chromedp.ActionFunc(func(context.Context) error { return nil }))
	}

	if err := p.run(ctx, actions...); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return p, nil
}

// run executes actions on the tab, honouring ctx's deadline and cancellation.
// Cancelling a child of the tab context leaves the tab open.
func (p *ChromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		runCtx, dcancel = context.WithDeadline(runCtx, dl)
		defer dcancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *ChromePage) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

func (p *ChromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *ChromePage) Frames(ctx context.Context) ([]Scope, error) {
	var frames []Scope
	if err := p.run(ctx, chromedp.Evaluate(framesJS, &frames)); err != nil {
		return nil, err
	}
	return frames, nil
}

func (p *ChromePage) Find(ctx context.Context, scope Scope, s Strategy) (Element, bool, error) {
	script, err := findScript(scope, s)
	if err != nil {
		return Element{}, false, err
	}
	var res struct {
		Found bool   `json:"found"`
		Ref   string `json:"ref"`
		Tag   string `json:"tag"`
		Rich  bool   `json:"rich"`
	}
	if err := p.run(ctx, chromedp.Evaluate(script, &res)); err != nil {
		return Element{}, false, err
	}
	if !res.Found {
		return Element{}, false, nil
	}
	return Element{Ref: res.Ref, Scope: scope, Tag: res.Tag, Rich: res.Rich}, true, nil
}

func (p *ChromePage) evalOn(ctx context.Context, el Element, body, value string, out any) error {
	script, err := elementScript(el, body, value)
	if err != nil {
		return err
	}
	if out == nil {
		var ok bool
		out = &ok
	}
	return p.run(ctx, chromedp.Evaluate(script, out))
}

func refSelector(el Element) string {
	return fmt.Sprintf(`[data-nd-ref="%s"]`, el.Ref)
}

// Fill types into plain fields of the main document, falling back to a direct
// value assignment with input/change events.
func (p *ChromePage) Fill(ctx context.Context, el Element, text string) error {
	if el.Rich {
		return p.SetRichText(ctx, el, text)
	}
	if el.Scope.IsTop() {
		sel := refSelector(el)
		err := p.evalOn(ctx, el, clearBody, "", nil)
		if err == nil {
			err = p.run(ctx, chromedp.SendKeys(sel, text, chromedp.ByQuery))
		}
		if err == nil || ctx.Err() != nil {
			return err
		}
	}
	return p.evalOn(ctx, el, setValueBody, text, nil)
}

func (p *ChromePage) Click(ctx context.Context, el Element) error {
	if el.Scope.IsTop() {
		if err := p.run(ctx, chromedp.Click(refSelector(el), chromedp.ByQuery)); err == nil || ctx.Err() != nil {
			return err
		}
	}
	return p.evalOn(ctx, el, clickBody, "", nil)
}

func (p *ChromePage) SetRichText(ctx context.Context, el Element, html string) error {
	return p.evalOn(ctx, el, setHTMLBody, html, nil)
}

func (p *ChromePage) Text(ctx context.Context, el Element) (string, error) {
	var s string
	if err := p.evalOn(ctx, el, textBody, "", &s); err != nil {
		return "", err
	}
	return s, nil
}

func (p *ChromePage) Press(ctx context.Context, keys string) error {
	key, mods := parseChord(keys)
	if key == "" {
		return fmt.Errorf("empty key chord %q", keys)
	}
	var opts []chromedp.KeyOption
	if len(mods) > 0 {
		opts = append(opts, chromedp.KeyModifiers(mods...))
	}
	return p.run(ctx, chromedp.KeyEvent(key, opts...))
}

func (p *ChromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *ChromePage) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	return cookies, err
}

func (p *ChromePage) SetCookies(ctx context.Context, cookies []*network.Cookie) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly).
				WithSameSite(c.SameSite).
				Do(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	}))
}

// Close shuts the tab and the browser process. Safe to call more than once.
func (p *ChromePage) Close() error {
	p.closeOnce.Do(func() {
		p.tabCancel()
		p.allocCancel()
	})
	return nil
}

var namedKeys = map[string]string{
	"enter":     kb.Enter,
	"tab":       kb.Tab,
	"escape":    kb.Escape,
	"esc":       kb.Escape,
	"backspace": kb.Backspace,
}

// parseChord splits "Control+s" into the key and its modifiers.
func parseChord(chord string) (string, []input.Modifier) {
	parts := strings.Split(chord, "+")
	var mods []input.Modifier
	for _, part := range parts[:len(parts)-1] {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "control", "ctrl":
			mods = append(mods, input.ModifierCtrl)
		case "meta", "command", "cmd":
			mods = append(mods, input.ModifierMeta)
		case "shift":
			mods = append(mods, input.ModifierShift)
		case "alt", "option":
			mods = append(mods, input.ModifierAlt)
		}
	}
	key := strings.TrimSpace(parts[len(parts)-1])
	if named, ok := namedKeys[strings.ToLower(key)]; ok {
		key = named
	}
	return key, mods
}
