package browser_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/notedraft/internal/browser"
	"github.com/ibeckermayer/notedraft/internal/browser/browsertest"
	"github.com/ibeckermayer/notedraft/internal/failure"
	"github.com/ibeckermayer/notedraft/internal/logx"
)

const actionSave browser.Action = "editor.save"

var (
	stratA = browser.CSS("button.save-draft")
	stratB = browser.TextIn("button", "下書き保存")
	stratC = browser.CSS("[data-testid*=save]")
)

type recordingObserver struct {
	mu      sync.Mutex
	matched map[string][]int
	missed  map[string]int
}

func newObserver() *recordingObserver {
	return &recordingObserver{matched: map[string][]int{}, missed: map[string]int{}}
}

func (o *recordingObserver) LocatorMatched(action string, index int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.matched[action] = append(o.matched[action], index)
}

func (o *recordingObserver) LocatorMissed(action string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.missed[action]++
}

func newLocator(table *browser.Table, wait time.Duration, obs browser.LocatorObserver) *browser.Locator {
	return browser.NewLocator(browser.StaticTable{T: table}, browser.LocatorOptions{
		Wait: wait,
		Poll: 5 * time.Millisecond,
	}, logx.Nop(), obs)
}

func saveTable() *browser.Table {
	return &browser.Table{Actions: map[browser.Action][]browser.Strategy{
		actionSave: {stratA, stratB, stratC},
	}}
}

func TestResolveReturnsFirstMatchingStrategy(t *testing.T) {
	page := browsertest.New("https://note.com/notes/new")
	page.Add(stratB, browsertest.WithText("下書き保存"))
	page.Add(stratC)

	obs := newObserver()
	loc := newLocator(saveTable(), 0, obs)

	el, res, err := loc.Resolve(context.Background(), page, actionSave)
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, 1, res.MatchedStrategyIndex)

	require.NoError(t, page.Click(context.Background(), el))
	assert.True(t, page.Clicked(stratB))
	assert.False(t, page.Clicked(stratC))
	assert.Equal(t, []int{1}, obs.matched[string(actionSave)])
}

func TestResolveExhaustedIsElementNotFound(t *testing.T) {
	page := browsertest.New("https://note.com/")
	obs := newObserver()
	loc := newLocator(saveTable(), 20*time.Millisecond, obs)

	_, res, err := loc.Resolve(context.Background(), page, actionSave)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindElementNotFound))
	assert.False(t, res.Succeeded)
	assert.Equal(t, -1, res.MatchedStrategyIndex)
	assert.Equal(t, 1, obs.missed[string(actionSave)])
	// Several passes ran within the wait budget.
	assert.Greater(t, page.FindCalls(stratA), 1)
}

func TestResolveSkipsErroringStrategy(t *testing.T) {
	page := browsertest.New("https://note.com/")
	page.FailOn(stratA, errors.New("SyntaxError: not a valid selector"))

	loc := newLocator(saveTable(), 2*time.Second, nil)

	// Nothing matches at first; B appears while the locator is polling.
	go func() {
		time.Sleep(10 * time.Millisecond)
		page.Add(stratB)
	}()

	_, res, err := loc.Resolve(context.Background(), page, actionSave)
	require.NoError(t, err)
	assert.Equal(t, 1, res.MatchedStrategyIndex)
	assert.Equal(t, 1, page.FindCalls(stratA), "an erroring strategy is never retried")
}

func TestResolveSearchesHintedFrameFirst(t *testing.T) {
	body := browser.CSS("[contenteditable=true]")
	table := &browser.Table{
		Actions:    map[browser.Action][]browser.Strategy{"editor.body": {body}},
		FrameHints: []string{"editor"},
	}

	page := browsertest.New("https://note.com/notes/new")
	page.AddFrame(0, "https://ads.example.com/frame")
	page.AddFrame(1, "https://editor.note.com/notes/n1/edit")
	page.Add(body, browsertest.InFrame(1), browsertest.Rich())

	loc := newLocator(table, 0, nil)
	el, res, err := loc.Resolve(context.Background(), page, "editor.body")
	require.NoError(t, err)
	assert.Equal(t, 0, res.MatchedStrategyIndex)
	assert.Equal(t, 1, el.Scope.Index)
	assert.True(t, el.Rich)
}

func TestResolveUnknownAction(t *testing.T) {
	loc := newLocator(saveTable(), time.Second, nil)
	_, _, err := loc.Resolve(context.Background(), browsertest.New(""), "nope")
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindElementNotFound))
}

func TestResolveHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loc := newLocator(saveTable(), time.Minute, nil)
	start := time.Now()
	_, _, err := loc.Resolve(ctx, browsertest.New(""), actionSave)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindElementNotFound))
	assert.Less(t, time.Since(start), time.Second)
}

func TestProbe(t *testing.T) {
	page := browsertest.New("")
	loc := newLocator(saveTable(), time.Minute, nil)

	_, ok := loc.Probe(context.Background(), page, actionSave)
	assert.False(t, ok)

	page.Add(stratC)
	_, ok = loc.Probe(context.Background(), page, actionSave)
	assert.True(t, ok)
}

func TestStrategyValidate(t *testing.T) {
	assert.NoError(t, browser.CSS("input").Validate())
	assert.NoError(t, browser.TextIn("", "投稿").Validate())
	assert.Error(t, browser.CSS("").Validate())
	assert.Error(t, browser.TextIn("button", "").Validate())
	assert.Error(t, browser.Strategy{Kind: "regex", Selector: "x"}.Validate())
}
