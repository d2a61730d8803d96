package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Text matches by the element's visible text: exact match on the same tag
// first, then exact match on any tag, then a tag+contains compound.
type Text struct {
	logger *slog.Logger
}

// NewText creates the text-content matching strategy.
func NewText(logger *slog.Logger) *Text {
	if logger == nil {
		logger = slog.Default()
	}
	return &Text{logger: logger}
}

func (t *Text) Name() string { return "text_matching" }

// Confidence tiers per match kind.
const (
	textExactTagConfidence = 0.80
	textExactConfidence    = 0.70
	textCompoundConfidence = 0.60
)

func (t *Text) Execute(ctx context.Context, in Input) (*Result, error) {
	if in.Original == nil {
		return nil, fmt.Errorf("text: no original profile")
	}
	want := strings.TrimSpace(in.Original.TextContent)
	if want == "" {
		return &Result{Success: false, Method: MethodText, Rollback: newRollback(in)}, nil
	}

	cands, err := collectCandidates(ctx, in.Page, "", 80)
	if err != nil {
		return nil, fmt.Errorf("text: %w", err)
	}

	var (
		exactTag *candidate
		exact    *candidate
		compound *candidate
	)
	for i := range cands {
		c := &cands[i]
		if !c.Visible {
			continue
		}
		got := strings.TrimSpace(c.Text)
		switch {
		case got == want && c.Tag == in.Original.ElementType:
			if exactTag == nil {
				exactTag = c
			}
		case got == want:
			if exact == nil {
				exact = c
			}
		case c.Tag == in.Original.ElementType && got != "" && strings.Contains(got, want):
			if compound == nil {
				compound = c
			}
		}
	}

	var (
		hit        *candidate
		confidence float64
		kind       string
	)
	switch {
	case exactTag != nil:
		hit, confidence, kind = exactTag, textExactTagConfidence, "exact_tag"
	case exact != nil:
		hit, confidence, kind = exact, textExactConfidence, "exact"
	case compound != nil:
		hit, confidence, kind = compound, textCompoundConfidence, "compound"
	default:
		return &Result{Success: false, Method: MethodText, Rollback: newRollback(in)}, nil
	}

	return &Result{
		Success:     true,
		NewSelector: hit.Selector,
		Confidence:  confidence,
		Method:      MethodText,
		Similarity:  confidence,
		Reasoning:   fmt.Sprintf("%s text match on %q (%s)", kind, want, hit.Tag),
		Rollback:    newRollback(in),
		Details: TextDetails{
			MatchKind:   kind,
			MatchedText: strings.TrimSpace(hit.Text),
		},
	}, nil
}
