// Package browsertest provides a scripted in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/network"

	"github.com/ibeckermayer/notedraft/internal/browser"
)

type element struct {
	scope int
	tag   string
	rich  bool
	text  string
}

// Page is a fake browser.Page. Elements are registered per strategy: a
// registered strategy always finds its element, an unregistered one never does.
type Page struct {
	mu sync.Mutex

	url      string
	elements map[browser.Strategy]element
	errs     map[browser.Strategy]error
	frames   []browser.Scope
	cookies  []*network.Cookie

	navigate func(ctx context.Context, p *Page, url string) error
	onClick  map[browser.Strategy]func(p *Page)
	onPress  map[string]func(p *Page)
	refs     map[string]browser.Strategy

	navigations []string
	fills       map[browser.Strategy]string
	richTexts   map[browser.Strategy]string
	clicks      []browser.Strategy
	presses     []string
	finds       map[browser.Strategy]int
	screenshots int
	closed      int
}

// New returns a page currently showing url.
func New(url string) *Page {
	return &Page{
		url:       url,
		elements:  map[browser.Strategy]element{},
		errs:      map[browser.Strategy]error{},
		onClick:   map[browser.Strategy]func(*Page){},
		onPress:   map[string]func(*Page){},
		refs:      map[string]browser.Strategy{},
		fills:     map[browser.Strategy]string{},
		richTexts: map[browser.Strategy]string{},
		finds:     map[browser.Strategy]int{},
	}
}

// ElementOption customizes a registered element.
type ElementOption func(*element)

// Rich marks the element as a contenteditable surface.
func Rich() ElementOption { return func(e *element) { e.rich = true } }

// InFrame places the element in the frame with the given index.
func InFrame(index int) ElementOption { return func(e *element) { e.scope = index } }

// WithText sets the element's text content.
func WithText(s string) ElementOption { return func(e *element) { e.text = s } }

// Add makes s resolve to a visible element.
func (p *Page) Add(s browser.Strategy, opts ...ElementOption) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	el := element{scope: -1, tag: "div"}
	for _, o := range opts {
		o(&el)
	}
	p.elements[s] = el
	return p
}

// Remove makes s stop resolving.
func (p *Page) Remove(s browser.Strategy) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, s)
	return p
}

// FailOn makes queries for s return err.
func (p *Page) FailOn(s browser.Strategy, err error) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[s] = err
	return p
}

// AddFrame registers a queryable sub-document.
func (p *Page) AddFrame(index int, url string) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, browser.Scope{Index: index, URL: url})
	return p
}

// OnClick runs fn after the element for s is clicked.
func (p *Page) OnClick(s browser.Strategy, fn func(p *Page)) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClick[s] = fn
	return p
}

// OnPress runs fn after keys are pressed.
func (p *Page) OnPress(keys string, fn func(p *Page)) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPress[keys] = fn
	return p
}

// OnNavigate replaces the default navigation, which just sets the URL.
func (p *Page) OnNavigate(fn func(ctx context.Context, p *Page, url string) error) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigate = fn
	return p
}

// SetURL changes the current URL.
func (p *Page) SetURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = u
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.navigations = append(p.navigations, url)
	fn := p.navigate
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, p, url)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.SetURL(url)
	return nil
}

func (p *Page) Frames(ctx context.Context) ([]browser.Scope, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Scope(nil), p.frames...), nil
}

func (p *Page) Find(ctx context.Context, scope browser.Scope, s browser.Strategy) (browser.Element, bool, error) {
	if err := ctx.Err(); err != nil {
		return browser.Element{}, false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finds[s]++
	if err, ok := p.errs[s]; ok {
		return browser.Element{}, false, err
	}
	el, ok := p.elements[s]
	if !ok || el.scope != scope.Index {
		return browser.Element{}, false, nil
	}
	ref := fmt.Sprintf("%d", len(p.refs)+1)
	p.refs[ref] = s
	return browser.Element{Ref: ref, Scope: scope, Tag: el.tag, Rich: el.rich}, true, nil
}

func (p *Page) strategyOf(el browser.Element) (browser.Strategy, error) {
	s, ok := p.refs[el.Ref]
	if !ok {
		return browser.Strategy{}, fmt.Errorf("unknown element ref %q", el.Ref)
	}
	return s, nil
}

func (p *Page) Fill(ctx context.Context, el browser.Element, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.strategyOf(el)
	if err != nil {
		return err
	}
	p.fills[s] = text
	return nil
}

func (p *Page) Click(ctx context.Context, el browser.Element) error {
	p.mu.Lock()
	s, err := p.strategyOf(el)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.clicks = append(p.clicks, s)
	fn := p.onClick[s]
	p.mu.Unlock()

	if fn != nil {
		fn(p)
	}
	return nil
}

func (p *Page) SetRichText(ctx context.Context, el browser.Element, html string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.strategyOf(el)
	if err != nil {
		return err
	}
	p.richTexts[s] = html
	return nil
}

func (p *Page) Text(ctx context.Context, el browser.Element) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.strategyOf(el)
	if err != nil {
		return "", err
	}
	return p.elements[s].text, nil
}

func (p *Page) Press(ctx context.Context, keys string) error {
	p.mu.Lock()
	p.presses = append(p.presses, keys)
	fn := p.onPress[keys]
	p.mu.Unlock()

	if fn != nil {
		fn(p)
	}
	return nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.screenshots++
	return []byte("png"), nil
}

func (p *Page) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*network.Cookie(nil), p.cookies...), nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []*network.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, cookies...)
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

// Inspection helpers.

func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

func (p *Page) Filled(s browser.Strategy) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fills[s]
}

func (p *Page) RichText(s browser.Strategy) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.richTexts[s]
}

func (p *Page) Clicked(s browser.Strategy) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clicks {
		if c == s {
			return true
		}
	}
	return false
}

func (p *Page) Presses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.presses...)
}

func (p *Page) FindCalls(s browser.Strategy) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finds[s]
}

func (p *Page) Screenshots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.screenshots
}

func (p *Page) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Launcher hands out pre-built pages in order, for session factories.
type Launcher struct {
	mu    sync.Mutex
	pages []*Page
	next  int
	Make  func() *Page
}

// NewLauncher returns a launcher that serves pages in order, then calls mk.
func NewLauncher(mk func() *Page, pages ...*Page) *Launcher {
	return &Launcher{pages: pages, Make: mk}
}

func (l *Launcher) NewPage(ctx context.Context) (browser.Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.next < len(l.pages) {
		p := l.pages[l.next]
		l.next++
		return p, nil
	}
	if l.Make == nil {
		return nil, fmt.Errorf("no more pages")
	}
	l.next++
	return l.Make(), nil
}

// Launched reports how many pages were handed out.
func (l *Launcher) Launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next
}
