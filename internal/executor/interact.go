package executor

import (
	"context"
	"fmt"

	"github.com/v0xg/stepflow/internal/browser"
	"github.com/v0xg/stepflow/internal/instruction"
	"github.com/v0xg/stepflow/internal/metrics"
)

// interaction is one element-targeted action run through the two tiers
type interaction struct {
	action  instruction.ActionType
	locator instruction.Locator
	value   string
	// native performs the user-facing action on a visible match
	native func(ctx context.Context, d browser.Driver, selector string) error
	// prompt is the instruction handed to the semantic resolver
	prompt string
}

// resolve applies the deterministic tier and then the semantic tier.
// Deterministic failures are logged and swallowed.
func (env *Env) resolve(ctx context.Context, it interaction) (Resolution, error) {
	var cause error

	if sel := it.locator.FallbackSelector; sel != "" {
		tier, err := env.deterministic(ctx, it)
		if err == nil {
			metrics.RecordTier(string(it.action), string(tier))
			return Resolution{Tier: tier, Selector: sel}, nil
		}
		env.Logger.Warn("deterministic tier failed",
			"action", it.action,
			"selector", sel,
			"error", err,
		)
		cause = err
	}

	if it.locator.SemanticLocator == "" {
		if cause == nil {
			cause = fmt.Errorf("no locator given")
		}
		return Resolution{}, &ResolutionError{Action: it.action, Locator: it.locator, Cause: cause}
	}

	out, err := env.semantic(ctx, it.prompt)
	if err != nil {
		return Resolution{}, &ResolutionError{Action: it.action, Locator: it.locator, Cause: err}
	}
	metrics.RecordTier(string(it.action), string(TierSemantic))
	return Resolution{Tier: TierSemantic, Detail: out.Detail}, nil
}

// deterministic waits briefly for the selector to attach, then acts on a
// visible match natively or dispatches DOM events on a hidden one.
func (env *Env) deterministic(ctx context.Context, it interaction) (Tier, error) {
	sel := it.locator.FallbackSelector
	d := env.Driver

	attachCtx, cancel := context.WithTimeout(ctx, env.Timeouts.Attach)
	defer cancel()
	if err := d.WaitAttached(attachCtx, sel); err != nil {
		return "", err
	}

	actCtx, cancel := context.WithTimeout(ctx, env.Timeouts.Action)
	defer cancel()

	m, err := d.Query(actCtx, sel)
	if err != nil {
		return "", err
	}
	switch {
	case m.Visible:
		return TierNative, it.native(actCtx, d, sel)
	case m.Count > 0:
		if _, err := d.Eval(actCtx, forceScript, sel, string(it.action), it.value); err != nil {
			return "", fmt.Errorf("forced %s: %w", it.action, err)
		}
		return TierForced, nil
	default:
		return "", fmt.Errorf("%w: %s", browser.ErrNotFound, sel)
	}
}

type clickHandler struct{}

func (clickHandler) Handle(ctx context.Context, env *Env, p instruction.Params) (any, error) {
	params := p.(instruction.ClickParams)
	return env.resolve(ctx, interaction{
		action:  instruction.ActionClick,
		locator: params.Locator,
		native: func(ctx context.Context, d browser.Driver, sel string) error {
			return d.Click(ctx, sel)
		},
		prompt: "Click on: " + params.SemanticLocator,
	})
}

type hoverHandler struct{}

func (hoverHandler) Handle(ctx context.Context, env *Env, p instruction.Params) (any, error) {
	params := p.(instruction.HoverParams)
	return env.resolve(ctx, interaction{
		action:  instruction.ActionHover,
		locator: params.Locator,
		native: func(ctx context.Context, d browser.Driver, sel string) error {
			return d.Hover(ctx, sel)
		},
		prompt: "Hover over: " + params.SemanticLocator,
	})
}

type inputHandler struct{}

func (inputHandler) Handle(ctx context.Context, env *Env, p instruction.Params) (any, error) {
	params := p.(instruction.InputParams)
	value := deref(params.Value)
	return env.resolve(ctx, interaction{
		action:  instruction.ActionInput,
		locator: params.Locator,
		value:   value,
		native: func(ctx context.Context, d browser.Driver, sel string) error {
			return d.Fill(ctx, sel, value)
		},
		prompt: fmt.Sprintf("Type %q into: %s", value, params.SemanticLocator),
	})
}

type selectHandler struct{}

func (selectHandler) Handle(ctx context.Context, env *Env, p instruction.Params) (any, error) {
	params := p.(instruction.SelectParams)
	value := deref(params.Value)
	return env.resolve(ctx, interaction{
		action:  instruction.ActionSelect,
		locator: params.Locator,
		value:   value,
		native: func(ctx context.Context, d browser.Driver, sel string) error {
			return d.SelectOption(ctx, sel, value)
		},
		prompt: fmt.Sprintf("Select %q in: %s", value, params.SemanticLocator),
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// forceScript acts on the first element matching a selector through DOM
// events instead of user input, for elements that are attached but hidden.
const forceScript = `(sel, kind, value) => {
	const el = document.querySelector(sel);
	if (!el) throw new Error('no element for ' + sel);
	const fire = (type, Ctor) => el.dispatchEvent(new (Ctor || Event)(type, { bubbles: true, cancelable: true }));

	switch (kind) {
	case 'click':
		if (typeof el.click === 'function') el.click();
		else fire('click', MouseEvent);
		break;
	case 'hover':
		fire('mouseover', MouseEvent);
		el.dispatchEvent(new MouseEvent('mouseenter', { bubbles: false }));
		fire('mousemove', MouseEvent);
		break;
	case 'input': {
		const proto = el instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
		const desc = Object.getOwnPropertyDescriptor(proto, 'value');
		if ((el instanceof HTMLInputElement || el instanceof HTMLTextAreaElement) && desc && desc.set) {
			desc.set.call(el, value);
		} else if (el.isContentEditable) {
			el.textContent = value;
		} else {
			el.value = value;
		}
		fire('input');
		fire('change');
		break;
	}
	case 'select': {
		const opts = Array.from(el.options || []);
		const opt = opts.find(o => o.value === value) || opts.find(o => o.textContent.trim() === value);
		if (!opt) throw new Error('no option ' + value);
		opt.selected = true;
		el.value = opt.value;
		fire('input');
		fire('change');
		break;
	}
	default:
		throw new Error('unsupported forced action ' + kind);
	}
	return true;
}`
