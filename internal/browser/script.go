package browser

import (
	"encoding/json"
	"fmt"
)

// scopeDocJS resolves args.scope to a document; -1 is the main document.
const scopeDocJS = `function(scope) {
	if (scope < 0) return document;
	const f = document.querySelectorAll('iframe')[scope];
	try { return f ? f.contentDocument : null; } catch (e) { return null; }
}`

// findJS tags the first visible, enabled match with a data-nd-ref attribute.
const findJS = `(function(args) {
	const doc = (` + scopeDocJS + `)(args.scope);
	if (!doc) return {found: false};
	let candidates = [];
	switch (args.kind) {
	case 'css':
		candidates = Array.from(doc.querySelectorAll(args.selector));
		break;
	case 'text':
		candidates = Array.from(doc.querySelectorAll(args.selector || '*'))
			.filter(e => (e.innerText || e.textContent || '').trim().includes(args.text));
		break;
	case 'role':
		candidates = Array.from(doc.querySelectorAll('[role="' + args.selector + '"]'))
			.filter(e => !args.text || ((e.getAttribute('aria-label') || '') + ' ' + (e.textContent || '')).includes(args.text));
		break;
	case 'xpath': {
		const r = doc.evaluate(args.selector, doc, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		for (let i = 0; i < r.snapshotLength; i++) candidates.push(r.snapshotItem(i));
		break;
	}
	default:
		throw new Error('unknown strategy kind ' + args.kind);
	}
	const win = doc.defaultView || window;
	const visible = e => {
		if (!e || e.nodeType !== 1) return false;
		const st = win.getComputedStyle(e);
		if (st.display === 'none' || st.visibility === 'hidden' || st.opacity === '0') return false;
		const r = e.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	};
	const enabled = e => !e.disabled && !e.readOnly && e.getAttribute('aria-disabled') !== 'true';
	for (const e of candidates) {
		if (!visible(e) || !enabled(e)) continue;
		window.__ndRef = (window.__ndRef || 0) + 1;
		const ref = String(window.__ndRef);
		e.setAttribute('data-nd-ref', ref);
		const rich = !!e.isContentEditable || e.getAttribute('role') === 'textbox';
		return {found: true, ref: ref, tag: e.tagName.toLowerCase(), rich: rich};
	}
	return {found: false};
})(%s)`

// elementJS runs body with `el` bound to the tagged element; body must return a JSON value.
const elementJS = `(function(args) {
	const doc = (` + scopeDocJS + `)(args.scope);
	const el = doc && doc.querySelector('[data-nd-ref="' + args.ref + '"]');
	if (!el) throw new Error('element ' + args.ref + ' is gone');
	%s
})(%s)`

const framesJS = `Array.from(document.querySelectorAll('iframe')).map((f, i) => {
	let url = f.src || '';
	let ok = false;
	try { ok = !!f.contentDocument; url = f.contentWindow.location.href || url; } catch (e) {}
	return {index: i, url: url, ok: ok};
}).filter(f => f.ok)`

const setValueBody = `
	el.focus();
	const proto = el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
	const desc = Object.getOwnPropertyDescriptor(proto, 'value');
	if (desc && desc.set) { desc.set.call(el, args.value); } else { el.value = args.value; }
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return true;`

const setHTMLBody = `
	el.focus();
	el.innerHTML = args.value;
	el.dispatchEvent(new InputEvent('input', {bubbles: true}));
	return true;`

const clickBody = `el.click(); return true;`

const textBody = `return (el.innerText || el.textContent || '').trim();`

const clearBody = `
	el.focus();
	if ('value' in el) {
		el.value = '';
		el.dispatchEvent(new Event('input', {bubbles: true}));
	}
	return true;`

func findScript(scope Scope, s Strategy) (string, error) {
	args, err := json.Marshal(map[string]any{
		"scope":    scope.Index,
		"kind":     s.Kind,
		"selector": s.Selector,
		"text":     s.Text,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(findJS, args), nil
}

func elementScript(el Element, body string, value string) (string, error) {
	args, err := json.Marshal(map[string]any{
		"scope": el.Scope.Index,
		"ref":   el.Ref,
		"value": value,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(elementJS, body, args), nil
}
