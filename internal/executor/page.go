package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/v0xg/stepflow/internal/ai"
	"github.com/v0xg/stepflow/internal/instruction"
	"github.com/v0xg/stepflow/internal/metrics"
)

type navigateHandler struct{}

func (navigateHandler) Handle(ctx context.Context, env *Env, p instruction.Params) (any, error) {
	params := p.(instruction.NavigateParams)
	ctx, cancel := context.WithTimeout(ctx, env.Timeouts.Navigate)
	defer cancel()
	if err := env.Driver.Navigate(ctx, params.URL); err != nil {
		return nil, err
	}
	return map[string]string{"url": params.URL}, nil
}

type waitHandler struct{}

// Handle never blocks past its bounded timeouts. A selector that never
// shows up degrades to a short fixed wait instead of failing.
func (waitHandler) Handle(ctx context.Context, env *Env, p instruction.Params) (any, error) {
	params := p.(instruction.WaitParams)
	d := env.Driver
	t := env.Timeouts

	switch {
	case params.Selector != "":
		wctx, cancel := context.WithTimeout(ctx, t.WaitSelector)
		err := d.WaitVisible(wctx, params.Selector)
		cancel()
		if err == nil {
			return map[string]string{"waited": "selector"}, nil
		}

		env.Logger.Warn("wait selector timed out, degrading",
			"selector", params.Selector,
			"error", err,
		)
		lctx, cancel := context.WithTimeout(ctx, t.Navigate)
		if err := d.WaitDOMContentLoaded(lctx); err != nil {
			env.Logger.Debug("domcontentloaded wait failed", "error", err)
		}
		cancel()
		if err := sleep(ctx, t.DegradedPause); err != nil {
			return nil, err
		}
		return map[string]string{"waited": "degraded"}, nil

	case params.Condition == "networkidle":
		nctx, cancel := context.WithTimeout(ctx, t.NetworkIdle)
		defer cancel()
		if err := d.WaitNetworkIdle(nctx); err != nil {
			return nil, fmt.Errorf("wait for network idle: %w", err)
		}
		return map[string]string{"waited": "networkidle"}, nil

	case params.Condition != "":
		nctx, cancel := context.WithTimeout(ctx, t.NetworkIdle)
		if err := d.WaitNetworkIdle(nctx); err != nil {
			env.Logger.Debug("best-effort network idle failed", "condition", params.Condition, "error", err)
		}
		cancel()
		if err := sleep(ctx, t.ConditionPause); err != nil {
			return nil, err
		}
		return map[string]string{"waited": "condition"}, nil

	case params.Timeout != nil:
		if err := sleep(ctx, time.Duration(*params.Timeout)*time.Millisecond); err != nil {
			return nil, err
		}
		return map[string]string{"waited": "timeout"}, nil
	}

	return nil, fmt.Errorf("wait has no strategy")
}

// quotePatterns match the quoted keywords of an assertion. The single
// quote form must not follow a letter so apostrophes are ignored.
var quotePatterns = []*regexp.Regexp{
	regexp.MustCompile(`"([^"]+)"`),
	regexp.MustCompile(`(?:^|[^\p{L}\p{N}])'([^']+)'`),
	regexp.MustCompile(`“([^”]+)”`),
	regexp.MustCompile(`‘([^’]+)’`),
	regexp.MustCompile(`「([^」]+)」`),
	regexp.MustCompile("`([^`]+)`"),
}

// Keywords returns the distinct quoted substrings of an assertion
func Keywords(assertion string) []string {
	var out []string
	seen := map[string]bool{}
	for _, re := range quotePatterns {
		for _, m := range re.FindAllStringSubmatch(assertion, -1) {
			kw := strings.TrimSpace(m[1])
			if kw == "" || seen[kw] {
				continue
			}
			seen[kw] = true
			out = append(out, kw)
		}
	}
	return out
}

type verifyHandler struct{}

func (verifyHandler) Handle(ctx context.Context, env *Env, p instruction.Params) (any, error) {
	params := p.(instruction.VerifyParams)

	if kws := Keywords(params.Assertion); len(kws) > 0 {
		if kw, ok := env.findKeyword(ctx, kws); ok {
			metrics.RecordTier(string(instruction.ActionVerify), string(TierKeyword))
			return Resolution{Tier: TierKeyword, Detail: kw}, nil
		}
	}

	out, err := env.semantic(ctx, params.Assertion)
	if err != nil {
		return nil, &ResolutionError{
			Action:  instruction.ActionVerify,
			Locator: instruction.Locator{SemanticLocator: params.Assertion},
			Cause:   err,
		}
	}
	if out.Verdict == ai.VerdictFalse {
		return nil, &AssertionError{Assertion: params.Assertion, Detail: out.Detail}
	}
	metrics.RecordTier(string(instruction.ActionVerify), string(TierSemantic))
	return Resolution{Tier: TierSemantic, Detail: out.Detail}, nil
}

// findKeyword reports the first keyword present in the page text or markup
func (env *Env) findKeyword(ctx context.Context, kws []string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, env.Timeouts.Action)
	defer cancel()

	var sources []string
	if text, err := env.Driver.Text(ctx); err == nil {
		sources = append(sources, text)
	} else {
		env.Logger.Debug("read page text failed", "error", err)
	}
	if html, err := env.Driver.HTML(ctx); err == nil {
		sources = append(sources, html)
	} else {
		env.Logger.Debug("read page html failed", "error", err)
	}

	for _, kw := range kws {
		for _, src := range sources {
			if strings.Contains(src, kw) {
				return kw, true
			}
		}
	}
	return "", false
}

type pressHandler struct{}

func (pressHandler) Handle(ctx context.Context, env *Env, p instruction.Params) (any, error) {
	params := p.(instruction.PressParams)
	ctx, cancel := context.WithTimeout(ctx, env.Timeouts.Action)
	defer cancel()
	if err := env.Driver.PressKey(ctx, params.Key); err != nil {
		return nil, err
	}
	return map[string]string{"key": params.Key}, nil
}

// scrollFraction is the share of the viewport height a page scroll moves
const scrollFraction = 0.75

type scrollHandler struct{}

func (scrollHandler) Handle(ctx context.Context, env *Env, p instruction.Params) (any, error) {
	params := p.(instruction.ScrollParams)

	if params.SemanticLocator != "" {
		out, err := env.semantic(ctx, fmt.Sprintf("Scroll %s within: %s", params.Direction, params.SemanticLocator))
		if err == nil {
			metrics.RecordTier(string(instruction.ActionScroll), string(TierSemantic))
			return Resolution{Tier: TierSemantic, Detail: out.Detail}, nil
		}
		env.Logger.Warn("semantic scroll failed, scrolling the page",
			"locator", params.SemanticLocator,
			"error", err,
		)
	}

	ctx, cancel := context.WithTimeout(ctx, env.Timeouts.Action)
	defer cancel()
	d := env.Driver

	switch params.Direction {
	case instruction.ScrollTop:
		if _, err := d.Eval(ctx, `() => window.scrollTo(0, 0)`); err != nil {
			return nil, err
		}
	case instruction.ScrollBottom:
		if _, err := d.Eval(ctx, `() => window.scrollTo(0, document.documentElement.scrollHeight)`); err != nil {
			return nil, err
		}
	case instruction.ScrollUp, instruction.ScrollDown:
		_, h, err := d.Viewport(ctx)
		if err != nil {
			return nil, err
		}
		dy := float64(h) * scrollFraction
		if params.Direction == instruction.ScrollUp {
			dy = -dy
		}
		if err := d.ScrollBy(ctx, 0, dy); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported scroll direction %q", params.Direction)
	}

	metrics.RecordTier(string(instruction.ActionScroll), string(TierPage))
	return Resolution{Tier: TierPage, Detail: string(params.Direction)}, nil
}
