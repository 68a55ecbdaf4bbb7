package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/stepflow/internal/ai"
	"github.com/v0xg/stepflow/internal/browser/browsertest"
	"github.com/v0xg/stepflow/internal/instruction"
)

type fakeResolver struct {
	mu      sync.Mutex
	calls   []string
	outcome ai.Outcome
	err     error
	panics  bool
}

func (r *fakeResolver) Resolve(_ context.Context, in string) (ai.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, in)
	if r.panics {
		panic("resolver exploded")
	}
	return r.outcome, r.err
}

func (r *fakeResolver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func fastTimeouts() Timeouts {
	return Timeouts{
		Attach:         20 * time.Millisecond,
		Action:         100 * time.Millisecond,
		Navigate:       100 * time.Millisecond,
		WaitSelector:   20 * time.Millisecond,
		DegradedPause:  5 * time.Millisecond,
		NetworkIdle:    50 * time.Millisecond,
		ConditionPause: 5 * time.Millisecond,
		Semantic:       100 * time.Millisecond,
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(d *browsertest.Driver, r ai.Resolver) *Executor {
	return New(Env{Driver: d, Resolver: r, Logger: discard(), Timeouts: fastTimeouts()})
}

func step(id int, p instruction.Params) instruction.Instruction {
	return instruction.Instruction{StepID: id, Action: p.Action(), Params: p, Description: string(p.Action())}
}

func TestEveryActionHasHandler(t *testing.T) {
	for _, a := range instruction.ActionTypes {
		_, ok := handlers[a]
		assert.True(t, ok, "no handler for %s", a)
	}
	assert.Len(t, handlers, len(instruction.ActionTypes))
}

func TestClick_HiddenElementIsForcedWithoutResolver(t *testing.T) {
	d := browsertest.New()
	d.Elements["#menu-toggle"] = browsertest.Element{Attached: true, Visible: false}
	r := &fakeResolver{}

	res := newTestExecutor(d, r).Execute(context.Background(), step(1, instruction.ClickParams{Locator: instruction.Locator{
		FallbackSelector: "#menu-toggle",
		SemanticLocator:  "the hamburger menu",
	}}))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, Resolution{Tier: TierForced, Selector: "#menu-toggle"}, res.Result)
	assert.Equal(t, 0, r.count())
	assert.Equal(t, 1, d.Count("eval"))
	assert.Equal(t, 0, d.Count("click"))
}

func TestClick_VisibleElementUsesNativeAction(t *testing.T) {
	d := browsertest.New()
	d.Elements["#login"] = browsertest.Element{Attached: true, Visible: true}
	r := &fakeResolver{}

	res := newTestExecutor(d, r).Execute(context.Background(), step(1, instruction.ClickParams{Locator: instruction.Locator{FallbackSelector: "#login"}}))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, TierNative, res.Result.(Resolution).Tier)
	assert.Equal(t, 1, d.Count("click #login"))
	assert.Equal(t, 0, r.count())
}

func TestClick_EscalatesToSemanticTier(t *testing.T) {
	d := browsertest.New()
	r := &fakeResolver{outcome: ai.Outcome{Detail: "found it"}}

	res := newTestExecutor(d, r).Execute(context.Background(), step(1, instruction.ClickParams{Locator: instruction.Locator{
		FallbackSelector: "#gone",
		SemanticLocator:  "the login button",
	}}))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, TierSemantic, res.Result.(Resolution).Tier)
	assert.Equal(t, []string{"Click on: the login button"}, r.calls)
	assert.Equal(t, 1, d.Count("attached #gone"))
}

func TestClick_SemanticOnly(t *testing.T) {
	d := browsertest.New()
	r := &fakeResolver{}

	res := newTestExecutor(d, r).Execute(context.Background(), step(1, instruction.HoverParams{Locator: instruction.Locator{SemanticLocator: "account menu"}}))

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"Hover over: account menu"}, r.calls)
	assert.Equal(t, 0, d.Count("attached"))
}

func TestClick_ResolutionFailures(t *testing.T) {
	t.Run("selector missing and no semantic locator", func(t *testing.T) {
		r := &fakeResolver{}
		res := newTestExecutor(browsertest.New(), r).Execute(context.Background(), step(1, instruction.ClickParams{Locator: instruction.Locator{FallbackSelector: "#gone"}}))
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "could not resolve click")
		assert.Equal(t, 0, r.count())
	})

	t.Run("resolver fails", func(t *testing.T) {
		r := &fakeResolver{err: ai.ErrUnresolved}
		res := newTestExecutor(browsertest.New(), r).Execute(context.Background(), step(1, instruction.ClickParams{Locator: instruction.Locator{SemanticLocator: "x"}}))
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, ai.ErrUnresolved.Error())
	})

	t.Run("no resolver configured", func(t *testing.T) {
		res := newTestExecutor(browsertest.New(), nil).Execute(context.Background(), step(1, instruction.ClickParams{Locator: instruction.Locator{SemanticLocator: "x"}}))
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "semantic resolver unavailable")
	})

	t.Run("native action error escalates", func(t *testing.T) {
		d := browsertest.New()
		d.Elements["#save"] = browsertest.Element{Attached: true, Visible: true}
		d.Errors["click #save"] = errors.New("element covered")
		r := &fakeResolver{}

		res := newTestExecutor(d, r).Execute(context.Background(), step(1, instruction.ClickParams{Locator: instruction.Locator{
			FallbackSelector: "#save",
			SemanticLocator:  "save button",
		}}))
		assert.True(t, res.Success, res.Error)
		assert.Equal(t, 1, r.count())
	})
}

func TestInputAndSelect(t *testing.T) {
	d := browsertest.New()
	d.Elements["#email"] = browsertest.Element{Attached: true, Visible: true}
	d.Elements["#country"] = browsertest.Element{Attached: true, Visible: true}
	exec := newTestExecutor(d, &fakeResolver{})

	res := exec.Execute(context.Background(), step(1, instruction.InputParams{
		Locator: instruction.Locator{FallbackSelector: "#email"},
		Value:   instruction.String("me@example.com"),
	}))
	require.True(t, res.Success, res.Error)

	res = exec.Execute(context.Background(), step(2, instruction.SelectParams{
		Locator: instruction.Locator{FallbackSelector: "#country"},
		Value:   instruction.String("Japan"),
	}))
	require.True(t, res.Success, res.Error)

	assert.Equal(t, 1, d.Count("fill #email me@example.com"))
	assert.Equal(t, 1, d.Count("select #country Japan"))
}

func TestInput_SemanticPrompt(t *testing.T) {
	r := &fakeResolver{}
	res := newTestExecutor(browsertest.New(), r).Execute(context.Background(), step(1, instruction.InputParams{
		Locator: instruction.Locator{SemanticLocator: "search box"},
		Value:   instruction.String("go rod"),
	}))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{`Type "go rod" into: search box`}, r.calls)
}

func TestVerify(t *testing.T) {
	t.Run("keyword on page skips resolver", func(t *testing.T) {
		d := browsertest.New()
		d.PageText = "Hello and Welcome to the app"
		r := &fakeResolver{}

		res := newTestExecutor(d, r).Execute(context.Background(), step(1, instruction.VerifyParams{Assertion: `Verify that the page shows "Welcome"`}))
		require.True(t, res.Success, res.Error)
		assert.Equal(t, Resolution{Tier: TierKeyword, Detail: "Welcome"}, res.Result)
		assert.Equal(t, 0, r.count())
	})

	t.Run("keyword in markup", func(t *testing.T) {
		d := browsertest.New()
		d.PageHTML = `<input placeholder="Search docs">`
		r := &fakeResolver{}

		res := newTestExecutor(d, r).Execute(context.Background(), step(1, instruction.VerifyParams{Assertion: "a field with 'Search docs' exists"}))
		require.True(t, res.Success, res.Error)
		assert.Equal(t, 0, r.count())
	})

	t.Run("no quotes always asks resolver", func(t *testing.T) {
		d := browsertest.New()
		d.PageText = "the user is logged in"
		r := &fakeResolver{outcome: ai.Outcome{Verdict: ai.VerdictTrue}}

		res := newTestExecutor(d, r).Execute(context.Background(), step(1, instruction.VerifyParams{Assertion: "the user is logged in"}))
		require.True(t, res.Success, res.Error)
		assert.Equal(t, 1, r.count())
		assert.Equal(t, 0, d.Count("text"))
	})

	t.Run("keyword missing asks resolver", func(t *testing.T) {
		r := &fakeResolver{outcome: ai.Outcome{Verdict: ai.VerdictTrue}}
		res := newTestExecutor(browsertest.New(), r).Execute(context.Background(), step(1, instruction.VerifyParams{Assertion: `shows "Dashboard"`}))
		require.True(t, res.Success, res.Error)
		assert.Equal(t, []string{`shows "Dashboard"`}, r.calls)
	})

	t.Run("explicit false fails", func(t *testing.T) {
		r := &fakeResolver{outcome: ai.Outcome{Verdict: ai.VerdictFalse, Detail: "login form still shown"}}
		res := newTestExecutor(browsertest.New(), r).Execute(context.Background(), step(1, instruction.VerifyParams{Assertion: "user is logged in"}))
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "assertion failed: user is logged in (login form still shown)")
	})
}

func TestKeywords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{`Verify that the page shows "Welcome"`, []string{"Welcome"}},
		{`title is 'Home' and "Docs"`, []string{"Docs", "Home"}},
		{`it's the user's page`, nil},
		{"shows “Bonjour” and 「ようこそ」 and `code`", []string{"Bonjour", "ようこそ", "code"}},
		{`repeated "A" and "A"`, []string{"A"}},
		{`empty "" quotes`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Keywords(tt.in))
		})
	}
}

func TestWait(t *testing.T) {
	t.Run("selector never appears degrades", func(t *testing.T) {
		d := browsertest.New()
		res := newTestExecutor(d, nil).Execute(context.Background(), step(1, instruction.WaitParams{Selector: "#never"}))
		require.True(t, res.Success, res.Error)
		assert.Equal(t, map[string]string{"waited": "degraded"}, res.Result)
		assert.Equal(t, 1, d.Count("domcontentloaded"))
	})

	t.Run("selector visible", func(t *testing.T) {
		d := browsertest.New()
		d.Elements["#ready"] = browsertest.Element{Attached: true, Visible: true}
		res := newTestExecutor(d, nil).Execute(context.Background(), step(1, instruction.WaitParams{Selector: "#ready"}))
		require.True(t, res.Success, res.Error)
		assert.Equal(t, map[string]string{"waited": "selector"}, res.Result)
	})

	t.Run("networkidle", func(t *testing.T) {
		d := browsertest.New()
		res := newTestExecutor(d, nil).Execute(context.Background(), step(1, instruction.WaitParams{Condition: "networkidle"}))
		require.True(t, res.Success, res.Error)
		assert.Equal(t, 1, d.Count("networkidle"))
	})

	t.Run("networkidle failure fails the step", func(t *testing.T) {
		d := browsertest.New()
		d.Errors["networkidle"] = context.DeadlineExceeded
		res := newTestExecutor(d, nil).Execute(context.Background(), step(1, instruction.WaitParams{Condition: "networkidle"}))
		assert.False(t, res.Success)
	})

	t.Run("other condition is best effort", func(t *testing.T) {
		d := browsertest.New()
		d.Errors["networkidle"] = context.DeadlineExceeded
		res := newTestExecutor(d, nil).Execute(context.Background(), step(1, instruction.WaitParams{Condition: "spinner gone"}))
		require.True(t, res.Success, res.Error)
		assert.Equal(t, map[string]string{"waited": "condition"}, res.Result)
	})

	t.Run("bare timeout sleeps", func(t *testing.T) {
		start := time.Now()
		res := newTestExecutor(browsertest.New(), nil).Execute(context.Background(), step(1, instruction.WaitParams{Timeout: instruction.Millis(30)}))
		require.True(t, res.Success, res.Error)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})
}

func TestScroll(t *testing.T) {
	tests := []struct {
		dir  instruction.ScrollDirection
		call string
	}{
		{instruction.ScrollDown, "scrollBy 0 540"},
		{instruction.ScrollUp, "scrollBy 0 -540"},
		{instruction.ScrollTop, "eval []"},
		{instruction.ScrollBottom, "eval []"},
	}
	for _, tt := range tests {
		t.Run(string(tt.dir), func(t *testing.T) {
			d := browsertest.New()
			res := newTestExecutor(d, nil).Execute(context.Background(), step(1, instruction.ScrollParams{Direction: tt.dir}))
			require.True(t, res.Success, res.Error)
			assert.Equal(t, 1, d.Count(tt.call))
		})
	}

	t.Run("semantic region", func(t *testing.T) {
		d := browsertest.New()
		r := &fakeResolver{}
		res := newTestExecutor(d, r).Execute(context.Background(), step(1, instruction.ScrollParams{Direction: instruction.ScrollDown, SemanticLocator: "the results list"}))
		require.True(t, res.Success, res.Error)
		assert.Equal(t, []string{"Scroll down within: the results list"}, r.calls)
		assert.Equal(t, 0, d.Count("scrollBy"))
	})

	t.Run("semantic failure falls back to page", func(t *testing.T) {
		d := browsertest.New()
		r := &fakeResolver{err: errors.New("timeout")}
		res := newTestExecutor(d, r).Execute(context.Background(), step(1, instruction.ScrollParams{Direction: instruction.ScrollDown, SemanticLocator: "the results list"}))
		require.True(t, res.Success, res.Error)
		assert.Equal(t, TierPage, res.Result.(Resolution).Tier)
		assert.Equal(t, 1, d.Count("scrollBy 0 540"))
	})
}

func TestNavigateAndPress(t *testing.T) {
	d := browsertest.New()
	exec := newTestExecutor(d, nil)

	res := exec.Execute(context.Background(), step(1, instruction.NavigateParams{URL: "https://example.com"}))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "https://example.com", d.URL())

	res = exec.Execute(context.Background(), step(2, instruction.PressParams{Key: "Enter"}))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, d.Count("press Enter"))

	d.Errors["navigate https://down.example"] = errors.New("net::ERR_NAME_NOT_RESOLVED")
	res = exec.Execute(context.Background(), step(3, instruction.NavigateParams{URL: "https://down.example"}))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "ERR_NAME_NOT_RESOLVED")
}

func TestExecute_PreResolvedSkipsDispatch(t *testing.T) {
	d := browsertest.New()
	in := step(1, instruction.NavigateParams{URL: "https://example.com"})
	in.PreResolved = true

	res := newTestExecutor(d, nil).Execute(context.Background(), in)
	assert.True(t, res.Success)
	assert.Empty(t, d.Calls())
}

func TestExecute_NeverPanics(t *testing.T) {
	r := &fakeResolver{panics: true}
	res := newTestExecutor(browsertest.New(), r).Execute(context.Background(), step(1, instruction.ClickParams{Locator: instruction.Locator{SemanticLocator: "x"}}))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "panic: resolver exploded")
}

func TestExecute_BadInstruction(t *testing.T) {
	exec := newTestExecutor(browsertest.New(), nil)

	res := exec.Execute(context.Background(), instruction.Instruction{StepID: 1, Action: "drag", Params: instruction.RawParams{}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unsupported")

	res = exec.Execute(context.Background(), instruction.Instruction{StepID: 1, Action: instruction.ActionClick, Params: instruction.PressParams{Key: "a"}})
	assert.False(t, res.Success)
}
