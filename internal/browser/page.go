package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/network"
)

// StrategyKind tags how a Strategy queries the document.
type StrategyKind string

const (
	// KindCSS matches Selector as a CSS selector.
	KindCSS StrategyKind = "css"
	// KindText matches elements of Selector (any element when empty) whose trimmed text contains Text.
	KindText StrategyKind = "text"
	// KindRole matches [role=Selector], optionally requiring Text in its accessible name or text.
	KindRole StrategyKind = "role"
	// KindXPath evaluates Selector as an XPath expression.
	KindXPath StrategyKind = "xpath"
)

// Strategy is one candidate way of finding the element behind an Action.
type Strategy struct {
	Kind     StrategyKind `yaml:"kind" json:"kind"`
	Selector string       `yaml:"selector" json:"selector"`
	Text     string       `yaml:"text,omitempty" json:"text,omitempty"`
}

func CSS(sel string) Strategy          { return Strategy{Kind: KindCSS, Selector: sel} }
func TextIn(sel, text string) Strategy { return Strategy{Kind: KindText, Selector: sel, Text: text} }
func Role(role, name string) Strategy  { return Strategy{Kind: KindRole, Selector: role, Text: name} }
func XPath(expr string) Strategy       { return Strategy{Kind: KindXPath, Selector: expr} }

func (s Strategy) String() string {
	if s.Text == "" {
		return fmt.Sprintf("%s(%s)", s.Kind, s.Selector)
	}
	return fmt.Sprintf("%s(%s %q)", s.Kind, s.Selector, s.Text)
}

// Validate rejects strategies that can never match.
func (s Strategy) Validate() error {
	switch s.Kind {
	case KindCSS, KindXPath, KindRole:
		if s.Selector == "" {
			return fmt.Errorf("%s strategy needs a selector", s.Kind)
		}
	case KindText:
		if s.Text == "" {
			return fmt.Errorf("text strategy needs text")
		}
	default:
		return fmt.Errorf("unknown strategy kind %q", s.Kind)
	}
	return nil
}

// Action names a semantic UI action such as "login.email".
type Action string

// Scope is a document to query: the top page or one same-origin iframe.
type Scope struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
}

// TopScope is the main document.
var TopScope = Scope{Index: -1}

func (s Scope) IsTop() bool { return s.Index < 0 }

// Element is a handle to a resolved element. It stays valid until the page navigates.
type Element struct {
	Ref   string `json:"ref"`
	Scope Scope  `json:"-"`
	Tag   string `json:"tag"`
	// Rich is true for contenteditable or role=textbox surfaces.
	Rich bool `json:"rich"`
}

// Page is the automation surface a session drives.
type Page interface {
	URL(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error
	// Frames lists same-origin sub-documents that can be queried.
	Frames(ctx context.Context) ([]Scope, error)
	// Find returns the first visible and enabled element matching s in scope.
	Find(ctx context.Context, scope Scope, s Strategy) (Element, bool, error)
	Fill(ctx context.Context, el Element, text string) error
	Click(ctx context.Context, el Element) error
	SetRichText(ctx context.Context, el Element, html string) error
	Text(ctx context.Context, el Element) (string, error)
	// Press sends a key chord such as "Enter" or "Control+s" to the focused element.
	Press(ctx context.Context, keys string) error
	Screenshot(ctx context.Context) ([]byte, error)
	Cookies(ctx context.Context) ([]*network.Cookie, error)
	SetCookies(ctx context.Context, cookies []*network.Cookie) error
	Close() error
}
