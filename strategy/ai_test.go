package strategy_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/akkash/testbro-sub001/browser"
	"github.com/akkash/testbro-sub001/strategy"
)

// cannedClient returns a fixed completion and records the prompt.
type cannedClient struct {
	out    string
	err    error
	prompt string
}

func (c *cannedClient) Complete(_ context.Context, prompt string) (string, error) {
	c.prompt = prompt
	return c.out, c.err
}

func (c *cannedClient) Model() string { return "test-model" }

func aiPage() *fakePage {
	return &fakePage{
		url:  "https://app.example.com/login",
		html: `<html><body><button data-testid="login-btn">Log in</button></body></html>`,
		elements: map[string][]browser.Element{
			`[data-testid="login-btn"]`: {&fakeElement{visible: true, enabled: true}},
			"form button":               {&fakeElement{visible: true, enabled: true}},
		},
	}
}

func TestAIPicksHighestResolvingCandidate(t *testing.T) {
	client := &cannedClient{out: "Here you go:\n```json\n" + `[
		{"selector": "#hallucinated", "confidence": 0.99, "reasoning": "nope"},
		{"selector": "[data-testid=\"login-btn\"]", "confidence": 0.9, "reasoning": "testid match"},
		{"selector": "form button", "confidence": 0.6, "reasoning": "structural"}
	]` + "\n```"}

	res, err := strategy.NewAI(client, nil).Execute(context.Background(), strategy.Input{
		Original: buttonProfile(),
		Page:     aiPage(),
		TestName: "user can log in",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("got %+v", res)
	}
	// The 0.99 candidate does not resolve, so the 0.9 one wins.
	if res.NewSelector != `[data-testid="login-btn"]` {
		t.Fatalf("got %q", res.NewSelector)
	}
	if res.Confidence != 0.9 {
		t.Fatalf("got confidence %v", res.Confidence)
	}
	if len(res.Alternatives) != 1 || res.Alternatives[0] != "form button" {
		t.Fatalf("got alternatives %v", res.Alternatives)
	}

	d, ok := res.Details.(strategy.AIDetails)
	if !ok || d.Model != "test-model" || d.RawCandidates != 3 {
		t.Fatalf("got details %+v", res.Details)
	}

	if !strings.Contains(client.prompt, "#old-login") {
		t.Fatal("prompt should carry the broken selector")
	}
	if !strings.Contains(client.prompt, "user can log in") {
		t.Fatal("prompt should carry the test intent")
	}
}

func TestAIMalformedCompletionIsStrategyError(t *testing.T) {
	client := &cannedClient{out: "I could not find anything useful, sorry."}

	_, err := strategy.NewAI(client, nil).Execute(context.Background(), strategy.Input{
		Original: buttonProfile(),
		Page:     aiPage(),
	})
	if err == nil {
		t.Fatal("expected error for prose-only completion")
	}
}

func TestAINoResolvingCandidates(t *testing.T) {
	client := &cannedClient{out: `[{"selector": "#gone", "confidence": 0.9}]`}

	res, err := strategy.NewAI(client, nil).Execute(context.Background(), strategy.Input{
		Original: buttonProfile(),
		Page:     aiPage(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatalf("got %+v, want failure when nothing resolves", res)
	}
}

func TestAICompletionFailurePropagates(t *testing.T) {
	client := &cannedClient{err: errors.New("model overloaded")}

	_, err := strategy.NewAI(client, nil).Execute(context.Background(), strategy.Input{
		Original: buttonProfile(),
		Page:     aiPage(),
	})
	if err == nil {
		t.Fatal("expected completion error to surface")
	}
}

func TestAIConfidenceClamped(t *testing.T) {
	client := &cannedClient{out: `[{"selector": "form button", "confidence": 1.7}]`}

	res, err := strategy.NewAI(client, nil).Execute(context.Background(), strategy.Input{
		Original: buttonProfile(),
		Page:     aiPage(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Confidence != 1.0 {
		t.Fatalf("got confidence %v, want clamp to 1.0", res.Confidence)
	}
}
