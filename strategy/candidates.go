package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/akkash/testbro-sub001/browser"
	"github.com/akkash/testbro-sub001/profile"
)

// candidate is one page element gathered by the collection script, with a
// selector generated browser-side.
type candidate struct {
	Selector   string              `json:"selector"`
	Tag        string              `json:"tag"`
	Role       string              `json:"role"`
	Text       string              `json:"text"`
	Attributes []profile.Attribute `json:"attributes"`
	Rect       browser.Rect        `json:"rect"`
	Visible    bool                `json:"visible"`
}

// toProfile lifts a candidate into an ElementProfile for similarity scoring.
func (c *candidate) toProfile() *profile.ElementProfile {
	role := c.Role
	return &profile.ElementProfile{
		Selector:     c.Selector,
		ElementType:  c.Tag,
		SemanticRole: role,
		TextContent:  c.Text,
		Attributes:   c.Attributes,
		Position:     c.Rect,
	}
}

func (c *candidate) attr(name string) (string, bool) {
	for _, a := range c.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// collectCandidates gathers visible elements matching the CSS query,
// capped at limit. The query is JSON-encoded into the script to survive
// quoting.
func collectCandidates(ctx context.Context, page browser.Page, query string, limit int) ([]candidate, error) {
	if query == "" {
		query = "*"
	}
	if limit <= 0 {
		limit = 50
	}
	q, _ := json.Marshal(query)

	script := fmt.Sprintf(`() => {
		const els = document.querySelectorAll(%s);
		const out = [];
		const css = (v) => (window.CSS && CSS.escape) ? CSS.escape(v) : v;
		const sel = (el) => {
			if (el.getAttribute('data-testid')) return '[data-testid="' + el.getAttribute('data-testid') + '"]';
			if (el.id) return '#' + css(el.id);
			const tag = el.tagName.toLowerCase();
			const cls = Array.from(el.classList).filter(c => c.length < 30).slice(0, 2);
			if (cls.length > 0) return tag + '.' + cls.map(css).join('.');
			const parent = el.parentElement;
			if (!parent) return tag;
			let idx = 1;
			for (const s of parent.children) {
				if (s === el) break;
				if (s.tagName === el.tagName) idx++;
			}
			return tag + ':nth-of-type(' + idx + ')';
		};
		for (const el of els) {
			const r = el.getBoundingClientRect();
			const cs = getComputedStyle(el);
			const visible = r.width > 0 && r.height > 0 &&
				cs.display !== 'none' && cs.visibility !== 'hidden';
			const attrs = [];
			for (const a of el.attributes) attrs.push({name: a.name, value: a.value});
			out.push({
				selector: sel(el),
				tag: el.tagName.toLowerCase(),
				role: el.getAttribute('role') || '',
				text: (el.textContent || '').trim().slice(0, 160),
				attributes: attrs,
				rect: {x: r.x, y: r.y, width: r.width, height: r.height},
				visible: visible
			});
			if (out.length >= %d) break;
		}
		return JSON.stringify(out);
	}`, string(q), limit)

	raw, err := page.Eval(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("collect candidates %q: %w", query, err)
	}

	var out []candidate
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	return out, nil
}

// classSelector builds a tag.class selector from a space-separated class
// attribute value, keeping at most two short classes.
func classSelector(tag, classAttr string) string {
	var kept []string
	for _, c := range strings.Fields(classAttr) {
		if len(c) < 30 {
			kept = append(kept, c)
		}
		if len(kept) == 2 {
			break
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return tag + "." + strings.Join(kept, ".")
}
