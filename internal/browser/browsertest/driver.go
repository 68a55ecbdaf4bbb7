// Package browsertest provides an in-memory browser.Driver for tests.
package browsertest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/v0xg/stepflow/internal/browser"
)

// Element is the fake state of whatever a selector matches
type Element struct {
	Attached bool
	Visible  bool
}

// Driver records every call it receives. Waits on selectors that are not
// present block until the context expires, like a real page would.
type Driver struct {
	mu sync.Mutex

	Elements map[string]Element
	PageText string
	PageHTML string
	Width    int
	Height   int

	// Errors forces the call with the given log line (e.g. "click #a") to fail
	Errors map[string]error
	// NavigateDelay simulates a slow page load
	NavigateDelay time.Duration
	// EvalFunc produces Eval results; "null" is returned when nil
	EvalFunc func(js string, args ...any) ([]byte, error)

	calls []string
	url   string
}

var _ browser.Driver = (*Driver)(nil)

// New returns a driver with a 1280x720 viewport
func New() *Driver {
	return &Driver{
		Elements: map[string]Element{},
		Errors:   map[string]error{},
		Width:    1280,
		Height:   720,
	}
}

// Calls returns the recorded calls in order
func (d *Driver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

// Count returns how many recorded calls start with prefix
func (d *Driver) Count(prefix string) int {
	n := 0
	for _, c := range d.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// URL returns the last navigated URL
func (d *Driver) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

func (d *Driver) record(format string, args ...any) error {
	line := fmt.Sprintf(format, args...)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, line)
	return d.Errors[line]
}

func (d *Driver) element(selector string) Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Elements[selector]
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := d.record("navigate %s", url); err != nil {
		return err
	}
	if d.NavigateDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.NavigateDelay):
		}
	}
	d.mu.Lock()
	d.url = url
	d.mu.Unlock()
	return nil
}

func (d *Driver) WaitDOMContentLoaded(ctx context.Context) error {
	return d.record("domcontentloaded")
}

func (d *Driver) WaitNetworkIdle(ctx context.Context) error {
	return d.record("networkidle")
}

func (d *Driver) WaitAttached(ctx context.Context, selector string) error {
	if err := d.record("attached %s", selector); err != nil {
		return err
	}
	if d.element(selector).Attached {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (d *Driver) WaitVisible(ctx context.Context, selector string) error {
	if err := d.record("visible %s", selector); err != nil {
		return err
	}
	if d.element(selector).Visible {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (d *Driver) Query(ctx context.Context, selector string) (browser.Match, error) {
	if err := d.record("query %s", selector); err != nil {
		return browser.Match{}, err
	}
	el := d.element(selector)
	if !el.Attached {
		return browser.Match{}, nil
	}
	return browser.Match{Count: 1, Visible: el.Visible}, nil
}

func (d *Driver) act(verb, selector string, extra ...string) error {
	line := verb + " " + selector
	if len(extra) > 0 {
		line += " " + strings.Join(extra, " ")
	}
	if err := d.record("%s", line); err != nil {
		return err
	}
	el := d.element(selector)
	switch {
	case !el.Attached:
		return fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	case !el.Visible:
		return fmt.Errorf("%w: %s", browser.ErrNotVisible, selector)
	}
	return nil
}

func (d *Driver) Click(ctx context.Context, selector string) error {
	return d.act("click", selector)
}

func (d *Driver) Fill(ctx context.Context, selector, value string) error {
	return d.act("fill", selector, value)
}

func (d *Driver) Hover(ctx context.Context, selector string) error {
	return d.act("hover", selector)
}

func (d *Driver) SelectOption(ctx context.Context, selector, value string) error {
	return d.act("select", selector, value)
}

func (d *Driver) PressKey(ctx context.Context, key string) error {
	return d.record("press %s", key)
}

func (d *Driver) ScrollBy(ctx context.Context, dx, dy float64) error {
	return d.record("scrollBy %g %g", dx, dy)
}

func (d *Driver) Viewport(ctx context.Context) (int, int, error) {
	return d.Width, d.Height, d.record("viewport")
}

func (d *Driver) Text(ctx context.Context) (string, error) {
	return d.PageText, d.record("text")
}

func (d *Driver) HTML(ctx context.Context) (string, error) {
	return d.PageHTML, d.record("html")
}

func (d *Driver) Eval(ctx context.Context, js string, args ...any) ([]byte, error) {
	if err := d.record("eval %v", args); err != nil {
		return nil, err
	}
	if d.EvalFunc != nil {
		return d.EvalFunc(js, args...)
	}
	return []byte("null"), nil
}

func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	if err := d.record("screenshot"); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, 64, 36))
	for y := 0; y < 36; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 7), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
