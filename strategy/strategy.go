// Package strategy implements the adaptation pipeline: an ordered set of
// independent heuristics that each propose a replacement locator with a
// confidence score. Strategies never abort the pipeline; a failing strategy
// is logged and skipped.
package strategy

import (
	"context"
	"time"

	"github.com/akkash/testbro-sub001/browser"
	"github.com/akkash/testbro-sub001/profile"
)

// Method identifies which strategy produced a result.
type Method string

const (
	MethodSemantic  Method = "semantic_matching"
	MethodAttribute Method = "attribute_adaptation"
	MethodText      Method = "text_matching"
	MethodAI        Method = "ai_assisted"
	// MethodFailed tags the canonical no-candidate result.
	MethodFailed Method = "failed"
)

// Details carries the per-strategy payload of a Result. The sealed
// interface keeps handling exhaustive: a switch over the concrete types
// covers every variant the pipeline can produce.
type Details interface{ isDetails() }

// SemanticDetails describes a semantic-matching hit.
type SemanticDetails struct {
	MatchedRole    string  `json:"matched_role,omitempty"`
	CandidateCount int     `json:"candidate_count"`
	PositionDelta  float64 `json:"position_delta"`
}

// AttributeDetails describes an attribute-adaptation hit.
type AttributeDetails struct {
	Attribute string  `json:"attribute"`
	Value     string  `json:"value"`
	Weight    float64 `json:"weight"`
}

// TextDetails describes a text-matching hit.
type TextDetails struct {
	MatchKind   string `json:"match_kind"` // "exact", "exact_tag", "compound"
	MatchedText string `json:"matched_text"`
}

// AIDetails describes an AI-assisted hit.
type AIDetails struct {
	Model         string `json:"model,omitempty"`
	RawCandidates int    `json:"raw_candidates"`
}

func (SemanticDetails) isDetails()  {}
func (AttributeDetails) isDetails() {}
func (TextDetails) isDetails()      {}
func (AIDetails) isDetails()        {}

// Rollback captures the verbatim original locator and context before any
// adaptation is applied, enabling exact reversal.
type Rollback struct {
	OriginalSelector string    `json:"original_selector"`
	PageURL          string    `json:"page_url,omitempty"`
	CapturedAt       time.Time `json:"captured_at"`
}

// Result is one strategy execution outcome.
type Result struct {
	Success      bool     `json:"success"`
	NewSelector  string   `json:"new_selector,omitempty"`
	Confidence   float64  `json:"confidence_score"`
	Method       Method   `json:"adaptation_method"`
	Similarity   float64  `json:"semantic_similarity"`
	Reasoning    string   `json:"reasoning,omitempty"`
	Alternatives []string `json:"alternative_selectors,omitempty"`
	Rollback     Rollback `json:"rollback_data"`
	Details      Details  `json:"-"`
}

// Input is what every strategy receives: the fingerprint of the element as
// it used to be, and the live page to search.
type Input struct {
	Original *profile.ElementProfile
	Page     browser.Page
	StepID   string
	// TestName gives the AI strategy human context about the step intent.
	TestName string
}

// Strategy proposes a replacement locator for a broken one.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, in Input) (*Result, error)
}

// Registration binds a strategy to its pipeline position and its own
// qualification threshold.
type Registration struct {
	Strategy Strategy
	// Priority orders execution, ascending = tried first.
	Priority int
	// Threshold is the minimum confidence for this strategy's result to
	// qualify, even when the strategy reports success.
	Threshold float64
}

// failedResult is the canonical outcome when no strategy qualifies.
func failedResult(in Input) *Result {
	original := ""
	pageURL := ""
	if in.Original != nil {
		original = in.Original.Selector
	}
	if in.Page != nil {
		pageURL = in.Page.URL()
	}
	return &Result{
		Success:    false,
		Confidence: 0,
		Method:     MethodFailed,
		Reasoning:  "no strategy produced a qualifying candidate",
		Rollback: Rollback{
			OriginalSelector: original,
			PageURL:          pageURL,
			CapturedAt:       time.Now().UTC(),
		},
	}
}

// newRollback snapshots the original selector for a successful result.
func newRollback(in Input) Rollback {
	r := Rollback{CapturedAt: time.Now().UTC()}
	if in.Original != nil {
		r.OriginalSelector = in.Original.Selector
	}
	if in.Page != nil {
		r.PageURL = in.Page.URL()
	}
	return r
}
