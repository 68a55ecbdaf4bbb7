package browser

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no element matches a selector
	ErrNotFound = errors.New("element not found")
	// ErrNotVisible is returned when matches exist but none is visible
	ErrNotVisible = errors.New("element not visible")
)

// Match describes what a selector currently resolves to on the page
type Match struct {
	Count   int
	Visible bool
}

// Driver is the browser surface the engine needs. Every blocking call is
// bounded by the context it receives.
type Driver interface {
	// Navigate loads url and returns once the document has been parsed
	// (DOMContentLoaded), not when the network is idle.
	Navigate(ctx context.Context, url string) error
	// WaitDOMContentLoaded blocks until the current document has been parsed
	WaitDOMContentLoaded(ctx context.Context) error
	// WaitNetworkIdle blocks until no requests have been in flight for a short window
	WaitNetworkIdle(ctx context.Context) error

	// WaitAttached blocks until selector matches at least one element
	WaitAttached(ctx context.Context, selector string) error
	// WaitVisible blocks until selector matches a visible element
	WaitVisible(ctx context.Context, selector string) error
	// Query reports the current matches of selector without waiting
	Query(ctx context.Context, selector string) (Match, error)

	// The element actions below target the first visible match of selector
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Hover(ctx context.Context, selector string) error
	SelectOption(ctx context.Context, selector, value string) error

	PressKey(ctx context.Context, key string) error
	ScrollBy(ctx context.Context, dx, dy float64) error
	Viewport(ctx context.Context) (width, height int, err error)

	Text(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	// Eval runs a JavaScript function expression in the page with args and
	// returns its JSON-encoded result.
	Eval(ctx context.Context, js string, args ...any) ([]byte, error)
	// Screenshot captures the viewport as PNG
	Screenshot(ctx context.Context) ([]byte, error)
}
