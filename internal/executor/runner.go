package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/v0xg/stepflow/internal/instruction"
)

// RunOptions configures a stream run
type RunOptions struct {
	StopOnError bool
	// StepDelay is slept between steps regardless of their outcome
	StepDelay time.Duration
}

// DefaultRunOptions stops at the first failure with no delay
func DefaultRunOptions() RunOptions {
	return RunOptions{StopOnError: true}
}

// StepResult is an ExecutionResult tagged with its instruction
type StepResult struct {
	StepID      int                    `json:"stepId"`
	Action      instruction.ActionType `json:"actionType"`
	Description string                 `json:"description"`
	ExecutionResult
}

// Summary aggregates a stream run. Total is the length of the input
// stream, so a run stopped early is never AllPassed.
type Summary struct {
	Total     int  `json:"total"`
	Success   int  `json:"success"`
	Fail      int  `json:"fail"`
	AllPassed bool `json:"allPassed"`
}

// StreamResult holds the per-step results in input order and the summary
type StreamResult struct {
	Results []StepResult `json:"results"`
	Summary Summary      `json:"summary"`
}

// Failed returns the failed steps
func (r StreamResult) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Results {
		if !s.Success {
			out = append(out, s)
		}
	}
	return out
}

// Observer is notified after every executed step
type Observer interface {
	OnStep(ctx context.Context, step StepResult)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(ctx context.Context, step StepResult)

func (f ObserverFunc) OnStep(ctx context.Context, step StepResult) { f(ctx, step) }

// Runner executes instruction streams strictly in order
type Runner struct {
	exec      *Executor
	logger    *slog.Logger
	observers []Observer
}

// NewRunner creates a runner around exec
func NewRunner(exec *Executor, logger *slog.Logger, observers ...Observer) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{exec: exec, logger: logger, observers: observers}
}

// WithLogger returns a copy of r that logs to logger
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	c := *r
	c.logger = logger
	return &c
}

// Observe registers another observer
func (r *Runner) Observe(o Observer) {
	r.observers = append(r.observers, o)
}

// Run executes list one instruction at a time. With StopOnError the run
// ends at the first failure and the remaining steps are not reported.
// A cancelled context also ends the run between steps.
func (r *Runner) Run(ctx context.Context, list []instruction.Instruction, opts RunOptions) StreamResult {
	out := StreamResult{Results: make([]StepResult, 0, len(list))}

	for i, in := range list {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("run cancelled", "remaining", len(list)-i, "error", err)
			break
		}

		res := r.exec.Execute(ctx, in)
		step := StepResult{
			StepID:          in.StepID,
			Action:          in.Action,
			Description:     in.Description,
			ExecutionResult: res,
		}
		out.Results = append(out.Results, step)

		if res.Success {
			r.logger.Info("step passed",
				"step_id", in.StepID,
				"action", in.Action,
				"elapsed", res.Elapsed,
			)
		} else {
			r.logger.Error("step failed",
				"step_id", in.StepID,
				"action", in.Action,
				"description", in.Description,
				"error", res.Error,
			)
		}
		for _, o := range r.observers {
			o.OnStep(ctx, step)
		}

		if !res.Success && opts.StopOnError {
			break
		}
		if opts.StepDelay > 0 && i < len(list)-1 {
			if err := sleep(ctx, opts.StepDelay); err != nil {
				break
			}
		}
	}

	out.Summary = summarize(len(list), out.Results)
	return out
}

func summarize(total int, results []StepResult) Summary {
	s := Summary{Total: total}
	for _, r := range results {
		if r.Success {
			s.Success++
		} else {
			s.Fail++
		}
	}
	s.AllPassed = s.Fail == 0 && s.Success == s.Total
	return s
}
