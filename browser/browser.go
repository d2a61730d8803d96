// Package browser wraps Chrome automation behind the narrow contract the
// healing engine needs: locate an element, inspect it, click it. The rod
// implementation lives here too; everything above this package depends only
// on the Page and Element interfaces so tests can substitute fakes.
package browser

import (
	"context"
	"errors"
)

// ErrElementNotFound is returned when a selector matches nothing visible
// within the wait timeout.
var ErrElementNotFound = errors.New("browser: element not found")

// Rect is an element bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Element is a handle to one located page element.
type Element interface {
	Visible(ctx context.Context) (bool, error)
	Enabled(ctx context.Context) (bool, error)
	Box(ctx context.Context) (Rect, error)
	Text(ctx context.Context) (string, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	Click(ctx context.Context) error
}

// Page is the read-mostly view of a live browser page. The healing engine
// never opens or closes pages itself; whoever obtained the handle owns it
// and closes it when the healing call returns.
type Page interface {
	// Locate waits for the selector and returns a handle, or
	// ErrElementNotFound after the wait timeout.
	Locate(ctx context.Context, selector string) (Element, error)
	// LocateAll returns all current matches without waiting.
	LocateAll(ctx context.Context, selector string) ([]Element, error)
	URL() string
	// Eval runs a JS function expression and returns its result
	// serialised as a JSON string.
	Eval(ctx context.Context, js string) (string, error)
	// HTML returns the full document outer HTML.
	HTML(ctx context.Context) (string, error)
	// Close releases the underlying tab.
	Close() error
}
