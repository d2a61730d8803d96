package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// earlyExitConfidence stops the pipeline once the best candidate reaches
// this score. Saves the costlier later strategies, notably the AI call.
const earlyExitConfidence = 0.90

// Pipeline runs registered strategies in priority order and keeps the
// highest-confidence qualifying result.
type Pipeline struct {
	regs   []Registration
	logger *slog.Logger
}

// NewPipeline creates a pipeline. Registrations are sorted by ascending
// priority; order among equal priorities follows registration order.
func NewPipeline(logger *slog.Logger, regs ...Registration) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := make([]Registration, len(regs))
	copy(sorted, regs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return &Pipeline{regs: sorted, logger: logger}
}

// Strategies returns the registered strategy names in execution order.
func (p *Pipeline) Strategies() []string {
	names := make([]string, len(p.regs))
	for i, r := range p.regs {
		names[i] = r.Strategy.Name()
	}
	return names
}

// Run executes the pipeline and returns the winning result, or the
// canonical failure result when nothing qualifies. It never returns an
// error: strategy failures degrade to skips.
func (p *Pipeline) Run(ctx context.Context, in Input) *Result {
	var best *Result

	for _, reg := range p.regs {
		res, err := p.runOne(ctx, reg.Strategy, in)
		if err != nil {
			p.logger.Warn("pipeline: strategy failed, skipping",
				"strategy", reg.Strategy.Name(), "error", err)
			continue
		}
		if res == nil || !res.Success {
			p.logger.Debug("pipeline: strategy found nothing", "strategy", reg.Strategy.Name())
			continue
		}
		if res.Confidence < reg.Threshold {
			p.logger.Debug("pipeline: result below strategy threshold",
				"strategy", reg.Strategy.Name(),
				"confidence", res.Confidence, "threshold", reg.Threshold)
			continue
		}

		// Strictly greater keeps the first result on ties, which follows
		// priority order.
		if best == nil || res.Confidence > best.Confidence {
			best = res
		}

		if best.Confidence >= earlyExitConfidence {
			p.logger.Info("pipeline: early exit",
				"strategy", reg.Strategy.Name(), "confidence", best.Confidence)
			break
		}
	}

	if best == nil {
		return failedResult(in)
	}
	return best
}

// runOne isolates a single strategy execution. Panics from misbehaving
// strategies are converted to errors so one strategy can never take the
// pipeline down.
func (p *Pipeline) runOne(ctx context.Context, s Strategy, in Input) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Execute(ctx, in)
}
