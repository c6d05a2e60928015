package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	yaml "go.yaml.in/yaml/v3"

	"github.com/ibeckermayer/notedraft/internal/browser"
	"github.com/ibeckermayer/notedraft/internal/logx"
)

// Overrides is the on-disk selectors file.
//
//	frame_hints: [editor]
//	replace:
//	  editor.save:
//	    - {kind: css, selector: "button.new-save"}
//	prepend:
//	  editor.body:
//	    - {kind: role, selector: textbox, text: 本文}
//
// Replace swaps an action's whole list; prepend tries the given strategies
// before the built-in ones.
type Overrides struct {
	FrameHints []string                              `yaml:"frame_hints"`
	Replace    map[browser.Action][]browser.Strategy `yaml:"replace"`
	Prepend    map[browser.Action][]browser.Strategy `yaml:"prepend"`
}

// Validate rejects unknown actions and strategies that can never match.
func (o *Overrides) Validate() error {
	known := make(map[browser.Action]bool, len(AllActions))
	for _, a := range AllActions {
		known[a] = true
	}
	check := func(section string, m map[browser.Action][]browser.Strategy) error {
		for a, ss := range m {
			if !known[a] {
				return fmt.Errorf("%s: unknown action %q", section, a)
			}
			if section == "replace" && len(ss) == 0 {
				return fmt.Errorf("replace: %s has no strategies", a)
			}
			for i, s := range ss {
				if err := s.Validate(); err != nil {
					return fmt.Errorf("%s: %s[%d]: %w", section, a, i, err)
				}
			}
		}
		return nil
	}
	if err := check("replace", o.Replace); err != nil {
		return err
	}
	return check("prepend", o.Prepend)
}

// Apply returns base with o merged in. base is not modified.
func (o *Overrides) Apply(base *browser.Table) *browser.Table {
	out := &browser.Table{
		Actions:    make(map[browser.Action][]browser.Strategy, len(base.Actions)),
		FrameHints: append([]string(nil), base.FrameHints...),
	}
	for a, ss := range base.Actions {
		out.Actions[a] = append([]browser.Strategy(nil), ss...)
	}
	if len(o.FrameHints) > 0 {
		out.FrameHints = append([]string(nil), o.FrameHints...)
	}
	for a, ss := range o.Replace {
		out.Actions[a] = append([]browser.Strategy(nil), ss...)
	}
	for a, ss := range o.Prepend {
		out.Actions[a] = append(append([]browser.Strategy(nil), ss...), out.Actions[a]...)
	}
	return out
}

// ParseOverrides decodes and validates a selectors file.
func ParseOverrides(data []byte) (*Overrides, error) {
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse selectors: %w", err)
	}
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("invalid selectors: %w", err)
	}
	return &o, nil
}

// Registry holds the current strategy table. Reads are lock-free; a reload
// only affects resolutions that start after it.
type Registry struct {
	path string
	log  logx.Logger
	cur  atomic.Pointer[browser.Table]
}

// NewRegistry returns a registry serving the built-in table merged with the
// selectors file at path, if any. A missing file is not an error.
func NewRegistry(path string, log logx.Logger) (*Registry, error) {
	r := &Registry{path: path, log: log.Component("selectors")}
	r.cur.Store(DefaultTable())
	if path == "" {
		return r, nil
	}
	if err := r.Reload(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return r, nil
}

// Table implements browser.TableSource.
func (r *Registry) Table() *browser.Table { return r.cur.Load() }

// Reload re-reads the selectors file. On error the previous table stays in use.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}
	o, err := ParseOverrides(data)
	if err != nil {
		return err
	}
	r.cur.Store(o.Apply(DefaultTable()))
	r.log.Info("selectors loaded",
		logx.String("path", r.path),
		logx.Int("replaced", len(o.Replace)),
		logx.Int("prepended", len(o.Prepend)))
	return nil
}

// Watch reloads the selectors file whenever it changes, until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("selectors watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors often replace the file instead of writing it.
	dir, file := filepath.Dir(r.path), filepath.Base(r.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() {
			if ctx.Err() != nil {
				return
			}
			if err := r.Reload(); err != nil {
				r.log.Warn("selectors reload failed; keeping previous table",
					logx.String("path", r.path), logx.Err(err))
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("selectors watcher error", logx.Err(err))
		}
	}
}
