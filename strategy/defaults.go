package strategy

import (
	"log/slog"

	"github.com/akkash/testbro-sub001/completion"
)

// DefaultRegistrations is the production strategy table: priority order,
// per-strategy qualification thresholds.
//
//	1. semantic matching     threshold 0.80
//	2. attribute adaptation  threshold 0.70
//	3. text matching         threshold 0.60
//	4. AI-assisted           threshold 0.70
func DefaultRegistrations(client completion.Client, logger *slog.Logger) []Registration {
	return []Registration{
		{Strategy: NewSemantic(logger), Priority: 1, Threshold: 0.80},
		{Strategy: NewAttribute(logger), Priority: 2, Threshold: 0.70},
		{Strategy: NewText(logger), Priority: 3, Threshold: 0.60},
		{Strategy: NewAI(client, logger), Priority: 4, Threshold: 0.70},
	}
}
