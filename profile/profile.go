// Package profile extracts a structural/visual/textual fingerprint of a
// page element. Profiles are immutable snapshots: comparisons always build
// a fresh profile for the "current" side rather than mutating an old one.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/akkash/testbro-sub001/browser"
)

// Attribute is one element attribute. Order is preserved as the browser
// reports it.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Visual holds the computed-style subset and interactivity flags.
type Visual struct {
	Display       string `json:"display"`
	Visibility    string `json:"visibility"`
	Color         string `json:"color"`
	Background    string `json:"background"`
	FontSize      string `json:"font_size"`
	Interactive   bool   `json:"interactive"`
	AccessibleVia string `json:"accessible_via,omitempty"` // aria-label, title, text
}

// Context summarises the element's DOM neighbourhood.
type Context struct {
	ParentTag   string   `json:"parent_tag"`
	ParentID    string   `json:"parent_id,omitempty"`
	SiblingTags []string `json:"sibling_tags,omitempty"`
	ChildCount  int      `json:"child_count"`
}

// Interactions records which interaction patterns the element participates in.
type Interactions struct {
	Clickable  bool `json:"clickable"`
	FormField  bool `json:"form_field"`
	Navigation bool `json:"navigation"`
}

// ElementProfile is an immutable snapshot of one element at one point in time.
type ElementProfile struct {
	Selector     string       `json:"selector"`
	ElementType  string       `json:"element_type"`
	SemanticRole string       `json:"semantic_role"`
	TextContent  string       `json:"text_content"`
	Attributes   []Attribute  `json:"attributes"`
	Position     browser.Rect `json:"position"`
	Visual       Visual       `json:"visual_characteristics"`
	Context      Context      `json:"context"`
	// StabilityScore in [0,1] estimates how resilient the element's
	// identity is to cosmetic change.
	StabilityScore float64      `json:"stability_score"`
	Uniqueness     []string     `json:"uniqueness_indicators,omitempty"`
	Interactions   Interactions `json:"interaction_patterns"`
}

// Attr returns the named attribute value and whether it is present.
func (p *ElementProfile) Attr(name string) (string, bool) {
	for _, a := range p.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Placeholder returns the minimal profile substituted when the original
// element can no longer be found. StabilityScore is 0 so downstream
// similarity scoring treats it as fully unknown.
func Placeholder(selector string) *ElementProfile {
	return &ElementProfile{
		Selector:       selector,
		ElementType:    guessTagFromSelector(selector),
		StabilityScore: 0,
	}
}

// Profiler captures element profiles from live pages.
type Profiler struct {
	logger *slog.Logger
}

// New creates a Profiler.
func New(logger *slog.Logger) *Profiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Profiler{logger: logger}
}

// Profile captures the profile of the element matched by selector. Returns
// browser.ErrElementNotFound when no visible element matches.
func (pr *Profiler) Profile(ctx context.Context, page browser.Page, selector string) (*ElementProfile, error) {
	el, err := page.Locate(ctx, selector)
	if err != nil {
		return nil, err
	}
	visible, err := el.Visible(ctx)
	if err != nil {
		return nil, fmt.Errorf("profile: visibility of %s: %w", selector, err)
	}
	if !visible {
		return nil, fmt.Errorf("%w: %s is not visible", browser.ErrElementNotFound, selector)
	}

	raw, err := page.Eval(ctx, captureScript(selector))
	if err != nil {
		return nil, fmt.Errorf("profile: capture %s: %w", selector, err)
	}

	var cap captured
	if err := json.Unmarshal([]byte(raw), &cap); err != nil {
		return nil, fmt.Errorf("profile: decode capture: %w", err)
	}

	p := cap.toProfile(selector)
	p.StabilityScore = stabilityScore(p)
	p.Uniqueness = uniquenessIndicators(p)

	pr.logger.Debug("profile: captured",
		"selector", selector, "tag", p.ElementType, "stability", p.StabilityScore)
	return p, nil
}

// captured mirrors the JSON shape produced by captureScript.
type captured struct {
	Tag        string       `json:"tag"`
	Role       string       `json:"role"`
	Text       string       `json:"text"`
	Attributes []Attribute  `json:"attributes"`
	Rect       browser.Rect `json:"rect"`
	Style      struct {
		Display    string `json:"display"`
		Visibility string `json:"visibility"`
		Color      string `json:"color"`
		Background string `json:"background"`
		FontSize   string `json:"fontSize"`
	} `json:"style"`
	Parent struct {
		Tag string `json:"tag"`
		ID  string `json:"id"`
	} `json:"parent"`
	Siblings   []string `json:"siblings"`
	ChildCount int      `json:"childCount"`
}

func (c *captured) toProfile(selector string) *ElementProfile {
	tag := strings.ToLower(c.Tag)
	role := c.Role
	if role == "" {
		role = implicitRole(tag, c.Attributes)
	}

	interactive := isInteractiveTag(tag) || role == "button" || role == "link"
	accessibleVia := ""
	for _, a := range c.Attributes {
		if a.Name == "aria-label" || a.Name == "title" {
			accessibleVia = a.Name
			break
		}
	}
	if accessibleVia == "" && strings.TrimSpace(c.Text) != "" {
		accessibleVia = "text"
	}

	return &ElementProfile{
		Selector:     selector,
		ElementType:  tag,
		SemanticRole: role,
		TextContent:  strings.TrimSpace(c.Text),
		Attributes:   c.Attributes,
		Position:     c.Rect,
		Visual: Visual{
			Display:       c.Style.Display,
			Visibility:    c.Style.Visibility,
			Color:         c.Style.Color,
			Background:    c.Style.Background,
			FontSize:      c.Style.FontSize,
			Interactive:   interactive,
			AccessibleVia: accessibleVia,
		},
		Context: Context{
			ParentTag:   strings.ToLower(c.Parent.Tag),
			ParentID:    c.Parent.ID,
			SiblingTags: c.Siblings,
			ChildCount:  c.ChildCount,
		},
		Interactions: Interactions{
			Clickable:  interactive,
			FormField:  isFormTag(tag),
			Navigation: tag == "a" || role == "link",
		},
	}
}

// captureScript builds the JS that snapshots one element. The selector is
// JSON-encoded into the script to survive quoting.
func captureScript(selector string) string {
	sel, _ := json.Marshal(selector)
	return `() => {
		const el = document.querySelector(` + string(sel) + `);
		if (!el) return JSON.stringify(null);
		const attrs = [];
		for (const a of el.attributes) attrs.push({name: a.name, value: a.value});
		const r = el.getBoundingClientRect();
		const cs = getComputedStyle(el);
		const siblings = [];
		for (const s of el.parentElement ? el.parentElement.children : []) {
			if (s !== el) siblings.push(s.tagName.toLowerCase());
		}
		return JSON.stringify({
			tag: el.tagName,
			role: el.getAttribute('role') || '',
			text: el.textContent || '',
			attributes: attrs,
			rect: {x: r.x, y: r.y, width: r.width, height: r.height},
			style: {
				display: cs.display, visibility: cs.visibility,
				color: cs.color, background: cs.backgroundColor, fontSize: cs.fontSize
			},
			parent: el.parentElement
				? {tag: el.parentElement.tagName, id: el.parentElement.id || ''}
				: {tag: '', id: ''},
			siblings: siblings.slice(0, 8),
			childCount: el.children.length
		});
	}`
}

// stabilityScore weighs how much durable identity the element carries.
func stabilityScore(p *ElementProfile) float64 {
	score := 0.2 // base: it exists and is visible
	if _, ok := p.Attr("data-testid"); ok {
		score += 0.35
	}
	if _, ok := p.Attr("id"); ok {
		score += 0.2
	}
	if _, ok := p.Attr("aria-label"); ok {
		score += 0.1
	}
	if _, ok := p.Attr("name"); ok {
		score += 0.05
	}
	if p.SemanticRole != "" {
		score += 0.05
	}
	if len(p.TextContent) > 0 && len(p.TextContent) < 80 {
		score += 0.05
	}
	if score > 1 {
		score = 1
	}
	return score
}

func uniquenessIndicators(p *ElementProfile) []string {
	var out []string
	if v, ok := p.Attr("data-testid"); ok {
		out = append(out, `[data-testid="`+v+`"]`)
	}
	if v, ok := p.Attr("id"); ok {
		out = append(out, "#"+v)
	}
	if v, ok := p.Attr("aria-label"); ok {
		out = append(out, `[aria-label="`+v+`"]`)
	}
	if p.TextContent != "" && len(p.TextContent) < 60 {
		out = append(out, "text="+p.TextContent)
	}
	return out
}

func implicitRole(tag string, attrs []Attribute) string {
	switch tag {
	case "button":
		return "button"
	case "a":
		return "link"
	case "input":
		for _, a := range attrs {
			if a.Name == "type" {
				switch a.Value {
				case "button", "submit":
					return "button"
				case "checkbox":
					return "checkbox"
				case "radio":
					return "radio"
				}
			}
		}
		return "textbox"
	case "select":
		return "combobox"
	case "textarea":
		return "textbox"
	case "nav":
		return "navigation"
	case "main":
		return "main"
	}
	return ""
}

func isInteractiveTag(tag string) bool {
	switch tag {
	case "button", "a", "input", "select", "textarea", "option", "label":
		return true
	}
	return false
}

func isFormTag(tag string) bool {
	switch tag {
	case "input", "select", "textarea", "option", "form", "label":
		return true
	}
	return false
}

// guessTagFromSelector extracts a leading tag name from a simple CSS
// selector, for placeholder profiles.
func guessTagFromSelector(selector string) string {
	s := strings.TrimSpace(selector)
	if s == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		break
	}
	return strings.ToLower(b.String())
}
