package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/stepflow/internal/browser/browsertest"
	"github.com/v0xg/stepflow/internal/instruction"
)

// threeSteps fails at step 2 because #missing never attaches and there is
// no semantic locator to fall back on.
func threeSteps() []instruction.Instruction {
	return []instruction.Instruction{
		step(1, instruction.NavigateParams{URL: "https://example.com"}),
		step(2, instruction.ClickParams{Locator: instruction.Locator{FallbackSelector: "#missing"}}),
		step(3, instruction.PressParams{Key: "Enter"}),
	}
}

func TestRunner_StopOnError(t *testing.T) {
	d := browsertest.New()
	r := NewRunner(newTestExecutor(d, nil), discard())

	out := r.Run(context.Background(), threeSteps(), RunOptions{StopOnError: true})

	require.Len(t, out.Results, 2)
	assert.True(t, out.Results[0].Success)
	assert.False(t, out.Results[1].Success)
	assert.Equal(t, Summary{Total: 3, Success: 1, Fail: 1, AllPassed: false}, out.Summary)
	assert.Equal(t, 0, d.Count("press"))
}

func TestRunner_ContinueOnError(t *testing.T) {
	d := browsertest.New()
	r := NewRunner(newTestExecutor(d, nil), discard())

	out := r.Run(context.Background(), threeSteps(), RunOptions{StopOnError: false})

	require.Len(t, out.Results, 3)
	assert.Equal(t, Summary{Total: 3, Success: 2, Fail: 1, AllPassed: false}, out.Summary)
	assert.Equal(t, []int{1, 2, 3}, []int{out.Results[0].StepID, out.Results[1].StepID, out.Results[2].StepID})

	failed := out.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].StepID)
	assert.Equal(t, instruction.ActionClick, failed[0].Action)
}

func TestRunner_AllPassed(t *testing.T) {
	d := browsertest.New()
	d.Elements["#missing"] = browsertest.Element{Attached: true, Visible: true}
	r := NewRunner(newTestExecutor(d, nil), discard())

	out := r.Run(context.Background(), threeSteps(), DefaultRunOptions())

	assert.Equal(t, Summary{Total: 3, Success: 3, AllPassed: true}, out.Summary)
	assert.Empty(t, out.Failed())
}

func TestRunner_EmptyStream(t *testing.T) {
	out := NewRunner(newTestExecutor(browsertest.New(), nil), discard()).Run(context.Background(), nil, DefaultRunOptions())
	assert.Empty(t, out.Results)
	assert.Equal(t, Summary{AllPassed: true}, out.Summary)
}

func TestRunner_ObserversSeeEveryStep(t *testing.T) {
	var seen []int
	obs := ObserverFunc(func(_ context.Context, s StepResult) {
		seen = append(seen, s.StepID)
	})
	r := NewRunner(newTestExecutor(browsertest.New(), nil), discard(), obs)

	var late int
	r.Observe(ObserverFunc(func(context.Context, StepResult) { late++ }))

	r.Run(context.Background(), threeSteps(), RunOptions{})
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, 3, late)
}

func TestRunner_StepDelay(t *testing.T) {
	d := browsertest.New()
	d.Elements["#missing"] = browsertest.Element{Attached: true, Visible: true}
	r := NewRunner(newTestExecutor(d, nil), discard())

	start := time.Now()
	out := r.Run(context.Background(), threeSteps(), RunOptions{StopOnError: true, StepDelay: 25 * time.Millisecond})

	assert.True(t, out.Summary.AllPassed)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRunner_CancelledContextStopsBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(newTestExecutor(browsertest.New(), nil), discard(),
		ObserverFunc(func(context.Context, StepResult) { cancel() }))

	out := r.Run(ctx, threeSteps(), RunOptions{})

	assert.Len(t, out.Results, 1)
	assert.Equal(t, 3, out.Summary.Total)
	assert.False(t, out.Summary.AllPassed)
}
