package browser

import (
	"context"
	"encoding/json"
	"fmt"
)

// PageMap represents the analyzed structure of a web page
type PageMap struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Elements []Element `json:"elements"`
	IsSPA    bool      `json:"isSPA"`
}

// Element represents an interactive element on the page
type Element struct {
	Selector    string `json:"selector"`
	Type        string `json:"type"` // button, input, link, select, checkbox, radio, region
	Text        string `json:"text,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Name        string `json:"name,omitempty"`
	Label       string `json:"label,omitempty"`
	Visible     bool   `json:"visible"`
}

// maxElements caps the page map handed to the semantic resolver
const maxElements = 200

// Snapshot extracts the interactive elements of the current page.
// Hidden elements are included and flagged, since many sites keep real
// controls visually hidden behind styled replacements.
func Snapshot(ctx context.Context, d Driver) (*PageMap, error) {
	raw, err := d.Eval(ctx, snapshotJS, maxElements)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot page: %w", err)
	}

	var pm PageMap
	if err := json.Unmarshal(raw, &pm); err != nil {
		return nil, fmt.Errorf("failed to decode page snapshot: %w", err)
	}
	return &pm, nil
}

const snapshotJS = `(limit) => {
	const elements = [];
	const seen = new Set();

	// Helper to check if a class name is a valid CSS identifier
	function isValidCSSClass(cls) {
		if (!cls || cls.length === 0) return false;
		if (/^[0-9]/.test(cls)) return false;
		if (/^-[0-9]/.test(cls)) return false;
		if (/[.:#\[\]()>~+*\/\\]/.test(cls)) return false;
		return true;
	}

	// Helper to generate unique selector
	function getSelector(el) {
		if (el.id && isValidCSSClass(el.id)) return '#' + el.id;
		if (el.getAttribute('data-testid')) return '[data-testid="' + el.getAttribute('data-testid') + '"]';
		if (el.name) return el.tagName.toLowerCase() + '[name="' + el.name + '"]';

		if (el.className && typeof el.className === 'string') {
			const validClasses = el.className.trim().split(/\s+/).filter(isValidCSSClass).slice(0, 2);
			if (validClasses.length > 0) {
				const selector = el.tagName.toLowerCase() + '.' + validClasses.join('.');
				try {
					if (document.querySelectorAll(selector).length === 1) return selector;
				} catch (e) {
					// Invalid selector, fall through
				}
			}
		}

		const parent = el.parentElement;
		if (parent && parent !== document.documentElement) {
			const index = Array.from(parent.children).indexOf(el) + 1;
			return getSelector(parent) + ' > ' + el.tagName.toLowerCase() + ':nth-child(' + index + ')';
		}
		return el.tagName.toLowerCase();
	}

	function labelOf(el) {
		if (el.getAttribute('aria-label')) return el.getAttribute('aria-label');
		if (el.id) {
			const l = document.querySelector('label[for="' + el.id + '"]');
			if (l) return l.textContent.trim();
		}
		const wrap = el.closest('label');
		return wrap ? wrap.textContent.trim() : '';
	}

	function push(el, type) {
		if (elements.length >= limit) return;
		const selector = getSelector(el);
		if (seen.has(selector)) return;
		seen.add(selector);
		elements.push({
			selector: selector,
			type: type,
			text: (el.textContent || el.value || '').trim().slice(0, 50),
			placeholder: el.placeholder || undefined,
			name: el.name || undefined,
			label: labelOf(el).slice(0, 50) || undefined,
			visible: !!(el.offsetParent || el.getClientRects().length)
		});
	}

	document.querySelectorAll('button, [role="button"], input[type="submit"], input[type="button"]').forEach(el => push(el, 'button'));
	document.querySelectorAll('input:not([type="hidden"]):not([type="submit"]):not([type="button"]), textarea, [contenteditable="true"]').forEach(el => {
		push(el, (el.type === 'checkbox' || el.type === 'radio') ? el.type : 'input');
	});
	document.querySelectorAll('select, [role="listbox"], [role="combobox"]').forEach(el => push(el, 'select'));
	document.querySelectorAll('a[href]').forEach(el => {
		const href = el.getAttribute('href');
		if (href.startsWith('javascript:')) return;
		push(el, 'link');
	});
	document.querySelectorAll('main, nav, aside, section, [role="dialog"], [role="region"]').forEach(el => {
		if (el.scrollHeight > el.clientHeight) push(el, 'region');
	});

	const isSPA = !!(window.__REACT_DEVTOOLS_GLOBAL_HOOK__ || document.querySelector('#__next') ||
		window.__VUE__ || window.ng || document.querySelector('[ng-version]'));

	return { url: location.href, title: document.title, elements: elements, isSPA: isSPA };
}`
