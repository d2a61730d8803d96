package strategy

import (
	"context"
	"fmt"
	"log/slog"
)

// attrPreference is one attribute the adaptation tries, with its fixed
// confidence weight. Order is the preference order.
type attrPreference struct {
	name   string
	weight float64
}

var attrPreferences = []attrPreference{
	{"data-testid", 0.95},
	{"id", 0.90},
	{"aria-label", 0.85},
	{"name", 0.80},
	{"class", 0.60},
}

// Attribute rebuilds a locator from the durable attributes the original
// element carried, most stable attribute first. Only candidates that are
// currently visible qualify.
type Attribute struct {
	logger *slog.Logger
}

// NewAttribute creates the attribute-adaptation strategy.
func NewAttribute(logger *slog.Logger) *Attribute {
	if logger == nil {
		logger = slog.Default()
	}
	return &Attribute{logger: logger}
}

func (a *Attribute) Name() string { return "attribute_adaptation" }

func (a *Attribute) Execute(ctx context.Context, in Input) (*Result, error) {
	if in.Original == nil {
		return nil, fmt.Errorf("attribute: no original profile")
	}

	var alternatives []string
	var best *Result

	for _, pref := range attrPreferences {
		value, ok := in.Original.Attr(pref.name)
		if !ok || value == "" {
			continue
		}

		selector := buildAttrSelector(in.Original.ElementType, pref.name, value)
		if selector == "" {
			continue
		}

		els, err := in.Page.LocateAll(ctx, selector)
		if err != nil {
			a.logger.Debug("attribute: query failed", "selector", selector, "error", err)
			continue
		}
		var visible bool
		for _, el := range els {
			v, err := el.Visible(ctx)
			if err == nil && v {
				visible = true
				break
			}
		}
		if !visible {
			continue
		}

		if best == nil {
			best = &Result{
				Success:     true,
				NewSelector: selector,
				Confidence:  pref.weight,
				Method:      MethodAttribute,
				Similarity:  pref.weight,
				Reasoning: fmt.Sprintf("rebuilt locator from %s=%q, the most stable attribute still present",
					pref.name, value),
				Rollback: newRollback(in),
				Details: AttributeDetails{
					Attribute: pref.name,
					Value:     value,
					Weight:    pref.weight,
				},
			}
		} else {
			alternatives = append(alternatives, selector)
		}
	}

	if best == nil {
		return &Result{Success: false, Method: MethodAttribute, Rollback: newRollback(in)}, nil
	}
	best.Alternatives = alternatives
	return best, nil
}

func buildAttrSelector(tag, name, value string) string {
	switch name {
	case "id":
		return idSelector(value)
	case "class":
		return classSelector(tag, value)
	default:
		return fmt.Sprintf(`[%s=%q]`, name, value)
	}
}

// idSelector prefers the #id shorthand but falls back to an attribute
// selector when the id needs CSS escaping, as with dotted or namespaced
// ids in generated markup.
func idSelector(value string) string {
	if isCSSIdent(value) {
		return "#" + value
	}
	return fmt.Sprintf(`[id=%q]`, value)
}

// isCSSIdent reports whether s is usable after "#" without escaping.
func isCSSIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r == '-':
			if i == 0 {
				return false
			}
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
