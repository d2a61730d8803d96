// Package classify decides whether a failed test step looks like a
// UI-change-induced failure (healable) or a genuine functional regression.
// It gates the expensive adaptation pipeline: non-healable failures never
// reach a strategy.
package classify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/akkash/testbro-sub001/browser"
)

// Input describes one failed step for classification.
type Input struct {
	Selector     string
	ErrorMessage string
	StepID       string
	// BaselineFingerprint is the structural fingerprint recorded when the
	// step last passed. Empty when no baseline exists.
	BaselineFingerprint string
}

// Verdict is the classification outcome.
type Verdict struct {
	Healable   bool    `json:"is_healable"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	// Fingerprint is the current page fingerprint, recorded so callers can
	// persist a fresh baseline.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Classifier scores failure healability from error text plus page-structure
// heuristics.
type Classifier struct {
	logger *slog.Logger
}

// New creates a Classifier.
func New(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{logger: logger}
}

// locatorErrorMarkers are error substrings that point at a broken locator
// rather than broken functionality.
var locatorErrorMarkers = []string{
	"element not found",
	"no element matches",
	"no node found",
	"not visible",
	"detached",
	"stale element",
	"waiting for selector",
	"timeout exceeded",
	"cannot locate",
}

// functionalErrorMarkers point at application-level regressions that a new
// selector cannot fix.
var functionalErrorMarkers = []string{
	"assertion",
	"expected",
	"status 500",
	"internal server error",
	"net::",
	"connection refused",
	"navigation failed",
	"unexpected value",
}

// Classify runs the healability gate. It never propagates internal errors:
// anything that prevents a confident classification fails closed with
// Healable=false, per the propagation policy.
func (c *Classifier) Classify(ctx context.Context, page browser.Page, in Input) Verdict {
	msg := strings.ToLower(in.ErrorMessage)

	for _, marker := range functionalErrorMarkers {
		if strings.Contains(msg, marker) {
			return Verdict{
				Healable:   false,
				Confidence: 0.85,
				Reason:     "error indicates a functional regression: " + marker,
			}
		}
	}

	var locatorSignal bool
	for _, marker := range locatorErrorMarkers {
		if strings.Contains(msg, marker) {
			locatorSignal = true
			break
		}
	}

	if page == nil {
		// Without a live page there is nothing to heal against.
		return Verdict{Healable: false, Confidence: 0, Reason: "no live page available"}
	}

	// Confirm the original selector really is gone. A selector that still
	// resolves means the failure came from somewhere else.
	if in.Selector != "" {
		els, err := page.LocateAll(ctx, in.Selector)
		if err != nil {
			c.logger.Warn("classify: selector probe failed", "selector", in.Selector, "error", err)
			return Verdict{Healable: false, Confidence: 0, Reason: "page query failed: " + err.Error()}
		}
		if len(els) > 0 {
			visible, _ := els[0].Visible(ctx)
			if visible {
				return Verdict{
					Healable:   false,
					Confidence: 0.7,
					Reason:     "original selector still resolves to a visible element",
				}
			}
		}
	}

	// Structural comparison against the baseline fingerprint.
	html, err := page.HTML(ctx)
	if err != nil {
		c.logger.Warn("classify: DOM read failed", "error", err)
		return Verdict{Healable: false, Confidence: 0, Reason: "DOM read failed: " + err.Error()}
	}
	current := Fingerprint([]byte(html))

	structureChanged := in.BaselineFingerprint != "" && current != in.BaselineFingerprint

	switch {
	case locatorSignal && structureChanged:
		return Verdict{
			Healable:    true,
			Confidence:  0.9,
			Reason:      "locator error with changed page structure",
			Fingerprint: current,
		}
	case locatorSignal:
		return Verdict{
			Healable:    true,
			Confidence:  0.75,
			Reason:      "locator error; no structural baseline to compare",
			Fingerprint: current,
		}
	case structureChanged:
		return Verdict{
			Healable:    true,
			Confidence:  0.6,
			Reason:      "page structure changed since last passing run",
			Fingerprint: current,
		}
	default:
		return Verdict{
			Healable:    false,
			Confidence:  0.55,
			Reason:      "no locator-drift signal in error or page structure",
			Fingerprint: current,
		}
	}
}
