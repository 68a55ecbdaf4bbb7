package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/v0xg/stepflow/internal/instruction"
	"github.com/v0xg/stepflow/internal/metrics"
)

// Handler carries out one kind of action. Params is always the variant
// belonging to the handler's ActionType.
type Handler interface {
	Handle(ctx context.Context, env *Env, p instruction.Params) (any, error)
}

// handlers maps every supported action to its handler
var handlers = map[instruction.ActionType]Handler{
	instruction.ActionNavigate: navigateHandler{},
	instruction.ActionClick:    clickHandler{},
	instruction.ActionInput:    inputHandler{},
	instruction.ActionVerify:   verifyHandler{},
	instruction.ActionWait:     waitHandler{},
	instruction.ActionSelect:   selectHandler{},
	instruction.ActionHover:    hoverHandler{},
	instruction.ActionPress:    pressHandler{},
	instruction.ActionScroll:   scrollHandler{},
}

// ExecutionResult is the outcome of a single instruction
type ExecutionResult struct {
	Success   bool          `json:"success"`
	Result    any           `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"-"`
	ElapsedMs int64         `json:"elapsedMs"`
}

// skippedResult is reported for pre-resolved instructions
var skippedResult = map[string]string{"skipped": "pre-resolved"}

// Executor dispatches instructions to their handlers
type Executor struct {
	env Env
}

// New creates an executor. A nil logger falls back to slog.Default and
// zero timeouts to DefaultTimeouts.
func New(env Env) *Executor {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	if env.Timeouts == (Timeouts{}) {
		env.Timeouts = DefaultTimeouts()
	}
	return &Executor{env: env}
}

// Execute runs one instruction. It never returns an error: handler errors
// and panics become a failed result.
func (e *Executor) Execute(ctx context.Context, in instruction.Instruction) (res ExecutionResult) {
	if in.PreResolved {
		metrics.RecordStep(string(in.Action), metrics.OutcomeSkipped, 0)
		return ExecutionResult{Success: true, Result: skippedResult}
	}

	env := e.env
	env.Logger = e.env.Logger.With("step_id", in.StepID, "action", in.Action)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			env.Logger.Error("handler panicked", "panic", r, "stack", string(debug.Stack()))
			res = ExecutionResult{Success: false, Error: fmt.Sprintf("panic: %v", r)}
		}
		res.Elapsed = time.Since(start)
		res.ElapsedMs = res.Elapsed.Milliseconds()

		outcome := metrics.OutcomeSuccess
		if !res.Success {
			outcome = metrics.OutcomeFailure
		}
		metrics.RecordStep(string(in.Action), outcome, res.Elapsed)
	}()

	h, ok := handlers[in.Action]
	if !ok {
		return ExecutionResult{Error: fmt.Sprintf("unsupported actionType %q", in.Action)}
	}
	if in.Params == nil || in.Params.Action() != in.Action {
		return ExecutionResult{Error: fmt.Sprintf("params do not match actionType %q", in.Action)}
	}

	result, err := h.Handle(ctx, &env, in.Params)
	if err != nil {
		return ExecutionResult{Error: err.Error()}
	}
	return ExecutionResult{Success: true, Result: result}
}
