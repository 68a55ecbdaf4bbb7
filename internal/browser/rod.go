package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Options configures the launched browser
type Options struct {
	Width      int
	Height     int
	Headless   bool
	Bin        string // Chrome/Chromium binary, looked up when empty
	ProfileDir string // Chrome/Chromium profile directory for authenticated sessions
}

// Session wraps the Rod browser and its single page
type Session struct {
	browser *rod.Browser
	page    *rod.Page
}

var _ Driver = (*Session)(nil)

// Launch starts a browser and opens a blank page with the configured viewport
func Launch(opts Options) (*Session, error) {
	bin := opts.Bin
	if bin == "" {
		bin, _ = launcher.LookPath()
	}

	l := launcher.New().Bin(bin).Headless(opts.Headless)
	if opts.ProfileDir != "" {
		l = l.UserDataDir(opts.ProfileDir)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	if opts.Width > 0 && opts.Height > 0 {
		err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.Width,
			Height:            opts.Height,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			_ = browser.Close()
			return nil, fmt.Errorf("failed to set viewport: %w", err)
		}
	}

	return &Session{browser: browser, page: page}, nil
}

// Close cleans up browser resources
func (s *Session) Close() error {
	var errs []error
	if s.page != nil {
		errs = append(errs, s.page.Close())
	}
	if s.browser != nil {
		errs = append(errs, s.browser.Close())
	}
	return errors.Join(errs...)
}

// Page returns the underlying Rod page
func (s *Session) Page() *rod.Page {
	return s.page
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	wait := p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	wait()
	return ctx.Err()
}

func (s *Session) WaitDOMContentLoaded(ctx context.Context) error {
	_, err := s.page.Context(ctx).Eval(`() => new Promise(resolve => {
		if (document.readyState !== 'loading') return resolve(true);
		document.addEventListener('DOMContentLoaded', () => resolve(true), { once: true });
	})`)
	return err
}

func (s *Session) WaitNetworkIdle(ctx context.Context) error {
	// Don't hang on persistent connections (WebSockets, polling, etc.);
	// the context bounds the whole wait.
	s.page.Context(ctx).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
	return ctx.Err()
}

func (s *Session) WaitAttached(ctx context.Context, selector string) error {
	if _, err := s.page.Context(ctx).Element(selector); err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

func (s *Session) WaitVisible(ctx context.Context, selector string) error {
	checkInterval := 100 * time.Millisecond
	for {
		m, err := s.Query(ctx, selector)
		if err == nil && m.Visible {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for visible %s: %w", selector, ctx.Err())
		case <-time.After(checkInterval):
		}
	}
}

func (s *Session) Query(ctx context.Context, selector string) (Match, error) {
	els, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return Match{}, err
	}
	m := Match{Count: len(els)}
	for _, el := range els {
		if v, err := el.Visible(); err == nil && v {
			m.Visible = true
			break
		}
	}
	return m, nil
}

// firstVisible returns the first visible element matching selector
func (s *Session) firstVisible(ctx context.Context, selector string) (*rod.Element, error) {
	els, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	for _, el := range els {
		if v, err := el.Visible(); err == nil && v {
			return el, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotVisible, selector)
}

func (s *Session) Click(ctx context.Context, selector string) error {
	el, err := s.firstVisible(ctx, selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	el, err := s.firstVisible(ctx, selector)
	if err != nil {
		return err
	}
	// Selecting first makes Input replace any existing text
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(value)
}

func (s *Session) Hover(ctx context.Context, selector string) error {
	el, err := s.firstVisible(ctx, selector)
	if err != nil {
		return err
	}
	return el.Hover()
}

func (s *Session) SelectOption(ctx context.Context, selector, value string) error {
	el, err := s.firstVisible(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Select([]string{value}, true, rod.SelectorTypeText); err == nil {
		return nil
	}
	return el.Select([]string{fmt.Sprintf("option[value=%q]", value)}, true, rod.SelectorTypeCSSSector)
}

func (s *Session) PressKey(ctx context.Context, key string) error {
	k, err := KeyByName(key)
	if err != nil {
		return err
	}
	return s.page.Context(ctx).Keyboard.Press(k)
}

func (s *Session) ScrollBy(ctx context.Context, dx, dy float64) error {
	_, err := s.page.Context(ctx).Eval(`(x, y) => window.scrollBy(x, y)`, dx, dy)
	return err
}

func (s *Session) Viewport(ctx context.Context) (int, int, error) {
	res, err := s.page.Context(ctx).Eval(`() => ({ w: window.innerWidth, h: window.innerHeight })`)
	if err != nil {
		return 0, 0, err
	}
	return res.Value.Get("w").Int(), res.Value.Get("h").Int(), nil
}

func (s *Session) Text(ctx context.Context) (string, error) {
	res, err := s.page.Context(ctx).Eval(`() => document.body ? document.body.innerText : ''`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

func (s *Session) Eval(ctx context.Context, js string, args ...any) ([]byte, error) {
	res, err := s.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res.Value)
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(false, nil)
}

var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"return":     input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"space":      input.Key(' '),
	"arrowup":    input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
}

// KeyByName maps a key name such as "Enter" or "ArrowDown", or a single
// character, to a Rod key.
func KeyByName(name string) (input.Key, error) {
	if k, ok := namedKeys[strings.ToLower(strings.TrimSpace(name))]; ok {
		return k, nil
	}
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		return input.Key(r), nil
	}
	return 0, fmt.Errorf("unsupported key %q", name)
}
