package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/akkash/testbro-sub001/completion"
)

// maxAICandidates caps how many alternatives one completion may propose.
const maxAICandidates = 3

// AI asks the text-completion collaborator for replacement selectors.
// One call per execution; malformed model output is a strategy failure,
// never a pipeline abort.
type AI struct {
	client completion.Client
	logger *slog.Logger
}

// NewAI creates the AI-assisted strategy.
func NewAI(client completion.Client, logger *slog.Logger) *AI {
	if logger == nil {
		logger = slog.Default()
	}
	return &AI{client: client, logger: logger}
}

func (a *AI) Name() string { return "ai_assisted" }

type aiCandidate struct {
	selector   string
	confidence float64
	reasoning  string
}

func (a *AI) Execute(ctx context.Context, in Input) (*Result, error) {
	if in.Original == nil {
		return nil, fmt.Errorf("ai: no original profile")
	}

	pageHTML, err := in.Page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("ai: read page: %w", err)
	}

	prompt := buildPrompt(in.Original, pageHTML, in.TestName)
	raw, err := a.client.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("ai: completion: %w", err)
	}

	cands, err := parseCandidates(raw)
	if err != nil {
		return nil, fmt.Errorf("ai: %w", err)
	}
	if len(cands) == 0 {
		return &Result{Success: false, Method: MethodAI, Rollback: newRollback(in)}, nil
	}

	// Keep only candidates that resolve on the live page; the model
	// hallucinates selectors often enough that this filter pays for itself.
	var resolved []aiCandidate
	for _, c := range cands {
		els, err := in.Page.LocateAll(ctx, c.selector)
		if err != nil || len(els) == 0 {
			a.logger.Debug("ai: proposed selector does not resolve", "selector", c.selector)
			continue
		}
		resolved = append(resolved, c)
	}
	if len(resolved) == 0 {
		return &Result{Success: false, Method: MethodAI, Rollback: newRollback(in)}, nil
	}

	best := resolved[0]
	for _, c := range resolved[1:] {
		if c.confidence > best.confidence {
			best = c
		}
	}

	var alternatives []string
	for _, c := range resolved {
		if c.selector != best.selector {
			alternatives = append(alternatives, c.selector)
		}
	}

	return &Result{
		Success:      true,
		NewSelector:  best.selector,
		Confidence:   clamp01(best.confidence),
		Method:       MethodAI,
		Similarity:   clamp01(best.confidence),
		Reasoning:    best.reasoning,
		Alternatives: alternatives,
		Rollback:     newRollback(in),
		Details: AIDetails{
			Model:         a.client.Model(),
			RawCandidates: len(cands),
		},
	}, nil
}

// parseCandidates extracts the JSON array from the completion. Models wrap
// JSON in code fences or prose; gjson tolerates the noise once the array
// is sliced out.
func parseCandidates(raw string) ([]aiCandidate, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in completion")
	}
	arr := gjson.Parse(raw[start : end+1])
	if !arr.IsArray() {
		return nil, fmt.Errorf("completion is not a JSON array")
	}

	var out []aiCandidate
	for _, item := range arr.Array() {
		sel := strings.TrimSpace(item.Get("selector").String())
		if sel == "" {
			continue
		}
		out = append(out, aiCandidate{
			selector:   sel,
			confidence: item.Get("confidence").Float(),
			reasoning:  item.Get("reasoning").String(),
		})
		if len(out) == maxAICandidates {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable candidates in completion")
	}
	return out, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
