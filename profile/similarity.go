package profile

import (
	"math"
	"strings"
)

// Similarity scores how likely two profiles describe the same logical
// element, in [0,1]. Weights favour text and durable attributes over
// position, which shifts under layout changes.
func Similarity(a, b *ElementProfile) float64 {
	if a == nil || b == nil {
		return 0
	}

	var score float64

	// Tag and role: 0.25.
	if a.ElementType != "" && a.ElementType == b.ElementType {
		score += 0.15
	}
	if a.SemanticRole != "" && a.SemanticRole == b.SemanticRole {
		score += 0.10
	}

	// Text: 0.30.
	score += 0.30 * textSimilarity(a.TextContent, b.TextContent)

	// Durable attributes: 0.25.
	score += 0.25 * attributeSimilarity(a, b)

	// Position proximity: 0.20. Decays with distance; 200px ≈ half credit.
	score += 0.20 * positionSimilarity(a.Position.X, a.Position.Y, b.Position.X, b.Position.Y)

	if score > 1 {
		score = 1
	}
	return score
}

func textSimilarity(x, y string) float64 {
	x = strings.ToLower(strings.TrimSpace(x))
	y = strings.ToLower(strings.TrimSpace(y))
	if x == "" && y == "" {
		return 0.5 // both empty says little either way
	}
	if x == "" || y == "" {
		return 0
	}
	if x == y {
		return 1
	}
	if strings.Contains(x, y) || strings.Contains(y, x) {
		return 0.8
	}
	// Token overlap (Jaccard).
	xs := strings.Fields(x)
	ys := strings.Fields(y)
	set := make(map[string]bool, len(xs))
	for _, w := range xs {
		set[w] = true
	}
	var shared int
	seen := make(map[string]bool, len(ys))
	for _, w := range ys {
		if set[w] && !seen[w] {
			shared++
			seen[w] = true
		}
	}
	union := len(set) + len(ys) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// durableAttrs are the attributes that survive cosmetic refactors.
var durableAttrs = []string{"data-testid", "id", "aria-label", "name", "type", "href", "placeholder"}

func attributeSimilarity(a, b *ElementProfile) float64 {
	var considered, matched float64
	for _, name := range durableAttrs {
		av, aok := a.Attr(name)
		bv, bok := b.Attr(name)
		if !aok && !bok {
			continue
		}
		considered++
		if aok && bok && av == bv {
			matched++
		}
	}
	if considered == 0 {
		return 0.5
	}
	return matched / considered
}

func positionSimilarity(x1, y1, x2, y2 float64) float64 {
	if x1 == 0 && y1 == 0 && x2 == 0 && y2 == 0 {
		return 0.5
	}
	d := math.Hypot(x1-x2, y1-y2)
	return 1 / (1 + d/200)
}
