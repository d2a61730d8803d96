package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/akkash/testbro-sub001/profile"
)

// Semantic matches by ARIA role, or by elements of the original tag near
// the original position, scored with full profile similarity.
type Semantic struct {
	logger *slog.Logger
}

// NewSemantic creates the semantic-matching strategy.
func NewSemantic(logger *slog.Logger) *Semantic {
	if logger == nil {
		logger = slog.Default()
	}
	return &Semantic{logger: logger}
}

func (s *Semantic) Name() string { return "semantic_matching" }

func (s *Semantic) Execute(ctx context.Context, in Input) (*Result, error) {
	if in.Original == nil {
		return nil, fmt.Errorf("semantic: no original profile")
	}

	// Role-scoped query when the original carried one, otherwise same tag.
	query := in.Original.ElementType
	if in.Original.SemanticRole != "" {
		query = fmt.Sprintf(`[role=%q]`, in.Original.SemanticRole)
		if tag := in.Original.ElementType; tag != "" {
			query += ", " + tag
		}
	}

	cands, err := collectCandidates(ctx, in.Page, query, 50)
	if err != nil {
		return nil, fmt.Errorf("semantic: %w", err)
	}

	var (
		best      *candidate
		bestScore float64
	)
	for i := range cands {
		c := &cands[i]
		if !c.Visible || c.Selector == in.Original.Selector {
			continue
		}
		score := profile.Similarity(in.Original, c.toProfile())
		if score > bestScore {
			bestScore = score
			best = c
		}
	}

	if best == nil {
		return &Result{Success: false, Method: MethodSemantic, Rollback: newRollback(in)}, nil
	}

	delta := math.Hypot(
		best.Rect.X-in.Original.Position.X,
		best.Rect.Y-in.Original.Position.Y,
	)

	return &Result{
		Success:     true,
		NewSelector: best.Selector,
		Confidence:  bestScore,
		Method:      MethodSemantic,
		Similarity:  bestScore,
		Reasoning: fmt.Sprintf("matched %s by role/tag with %.2f profile similarity at %.0fpx from original position",
			best.Tag, bestScore, delta),
		Rollback: newRollback(in),
		Details: SemanticDetails{
			MatchedRole:    best.Role,
			CandidateCount: len(cands),
			PositionDelta:  delta,
		},
	}, nil
}
