// Package platform describes the target site: its URLs, success markers and
// the declarative strategy table used to find UI elements.
//
// Selectors are tuned empirically against note.com and WILL break when its
// markup changes; override them from a selectors file instead of editing code.
package platform

import (
	"github.com/ibeckermayer/notedraft/internal/browser"
)

// Semantic actions the session resolves.
const (
	LoginEmail    browser.Action = "login.email"
	LoginPassword browser.Action = "login.password"
	LoginSubmit   browser.Action = "login.submit"
	LoginError    browser.Action = "login.error"
	AuthMarker    browser.Action = "auth.marker"
	EditorTrigger browser.Action = "editor.trigger"
	EditorTitle   browser.Action = "editor.title"
	EditorBody    browser.Action = "editor.body"
	EditorSave    browser.Action = "editor.save"
	EditorSaved   browser.Action = "editor.saved"
)

// AllActions lists every action the session needs a strategy for.
var AllActions = []browser.Action{
	LoginEmail, LoginPassword, LoginSubmit, LoginError, AuthMarker,
	EditorTrigger, EditorTitle, EditorBody, EditorSave, EditorSaved,
}

// Site holds the URLs and markers of the target platform.
type Site struct {
	LoginURL  string `yaml:"login_url"`
	HomeURL   string `yaml:"home_url"`
	EditorURL string `yaml:"editor_url"`
	// LoginPathMarker appears in the URL while the login form is still shown.
	LoginPathMarker string `yaml:"login_path_marker"`
	// EditorMarkers identify the editor surface by URL.
	EditorMarkers []string `yaml:"editor_markers"`
	// DraftURLPattern matches a saved draft URL; its first group, if any, is the draft id.
	DraftURLPattern string `yaml:"draft_url_pattern"`
	SaveKeys        string `yaml:"save_keys"`
	SubmitKeys      string `yaml:"submit_keys"`
	// CookieDomain filters which cookies are persisted between sessions.
	CookieDomain string `yaml:"cookie_domain"`
}

// DefaultSite returns note.com's URLs and markers.
func DefaultSite() Site {
	return Site{
		LoginURL:        "https://note.com/login",
		HomeURL:         "https://note.com/",
		EditorURL:       "https://note.com/mypage/notes/new",
		LoginPathMarker: "login",
		EditorMarkers:   []string{"editor", "/notes/new"},
		DraftURLPattern: `/notes/(n[0-9a-z]{6,})(?:/edit)?|draft`,
		SaveKeys:        "Control+s",
		SubmitKeys:      "Enter",
		CookieDomain:    "note.com",
	}
}

var (
	css  = browser.CSS
	text = browser.TextIn
)

// DefaultTable returns the built-in strategy table for note.com.
func DefaultTable() *browser.Table {
	return &browser.Table{
		FrameHints: []string{"editor", "notes/new"},
		Actions: map[browser.Action][]browser.Strategy{
			LoginEmail: {
				css(`input[type="email"]`),
				css(`input[name="email"]`),
				css(`input[placeholder*="メール"]`),
				css(`input[placeholder*="email"]`),
				css(`input[placeholder*="Email"]`),
				css(`input[id*="email"]`),
				css(`input[class*="email"]`),
				css(`input[type="text"]`),
				css(`input`),
			},
			LoginPassword: {
				css(`input[type="password"]`),
				css(`input[name="password"]`),
			},
			LoginSubmit: {
				css(`button[type="submit"]`),
				text("button", "ログイン"),
				text("a", "ログイン"),
				css(`button.login`),
				css(`a.login`),
				css(`[class*="login"] button`),
				css(`form button`),
				text("button", "送信"),
				text("button", "Sign in"),
			},
			LoginError: {
				css(`.error`),
				css(`.alert`),
				css(`[class*="error"]`),
				css(`[role="alert"]`),
			},
			AuthMarker: {
				css(`a[href*="/mypage"]`),
				css(`a[href*="/settings"]`),
				css(`[class*="mypage"]`),
				css(`[class*="user"]`),
				text("button", "投稿"),
				text("a", "投稿"),
			},
			EditorTrigger: {
				text("a", "投稿"),
				text("button", "投稿"),
				css(`a[href*="/notes/new"]`),
				css(`a[href*="/mypage/notes/new"]`),
				css(`[class*="post"] a`),
				css(`[class*="post"] button`),
				css(`a[href*="editor"]`),
				css(`header a[href*="/notes/new"]`),
				css(`nav a[href*="/notes/new"]`),
				text("header button", "投稿"),
			},
			EditorTitle: {
				css(`input[placeholder*="タイトル"]`),
				css(`input[placeholder*="title"]`),
				css(`textarea[placeholder*="タイトル"]`),
				css(`[contenteditable="true"][placeholder*="タイトル"]`),
				css(`[contenteditable="true"][data-placeholder*="タイトル"]`),
				css(`.note-editor-title`),
				css(`.editor-title`),
				css(`[class*="title"] input`),
				css(`input[type="text"]`),
				css(`input`),
			},
			EditorBody: {
				css(`textarea[placeholder*="本文"]`),
				css(`div[data-placeholder*="本文"]`),
				css(`div[aria-label*="本文"]`),
				css(`.note-editor-body [contenteditable="true"]`),
				css(`.editor-body [contenteditable="true"]`),
				css(`[class*="editor"] [contenteditable="true"]`),
				css(`section div[contenteditable="true"]`),
				css(`div[role="textbox"]`),
				css(`div[contenteditable="true"]`),
				css(`[contenteditable="true"]`),
				css(`.note-editor-body`),
				css(`.editor-body`),
				css(`textarea`),
			},
			EditorSave: {
				text("button", "下書き保存"),
				text("button", "保存"),
				text("button", "下書き"),
				text("a", "下書き保存"),
				text("a", "保存"),
				css(`.save-draft`),
				css(`.draft-save`),
				css(`[class*="save"] button`),
				css(`[data-testid*="save"]`),
				text("button", "Save"),
			},
			EditorSaved: {
				text("", "下書きを保存しました"),
				text("", "保存しました"),
				css(`[class*="toast"]`),
			},
		},
	}
}
