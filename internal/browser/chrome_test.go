package browser

import (
	"strings"
	"testing"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp/kb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChord(t *testing.T) {
	tests := []struct {
		in   string
		key  string
		mods []input.Modifier
	}{
		{"Enter", kb.Enter, nil},
		{"Control+s", "s", []input.Modifier{input.ModifierCtrl}},
		{"Meta+Shift+s", "s", []input.Modifier{input.ModifierMeta, input.ModifierShift}},
		{"escape", kb.Escape, nil},
	}
	for _, tt := range tests {
		key, mods := parseChord(tt.in)
		assert.Equal(t, tt.key, key, tt.in)
		assert.Equal(t, tt.mods, mods, tt.in)
	}
}

func TestFindScriptEmbedsArguments(t *testing.T) {
	script, err := findScript(Scope{Index: 2}, TextIn("button", `"下書き"`))
	require.NoError(t, err)
	assert.Contains(t, script, `"scope":2`)
	assert.Contains(t, script, `"kind":"text"`)
	assert.True(t, strings.HasSuffix(script, "})"+`({"kind":"text","scope":2,"selector":"button","text":"\"下書き\""})`))
}

func TestOptionsFlags(t *testing.T) {
	opts := Options(LaunchOptions{Headless: true, Locale: "ja-JP"})
	// DefaultExecAllocatorOptions plus our additions.
	assert.Greater(t, len(opts), 10)
}
