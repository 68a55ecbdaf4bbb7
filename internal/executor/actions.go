package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/v0xg/stepflow/internal/ai"
	"github.com/v0xg/stepflow/internal/browser"
	"github.com/v0xg/stepflow/internal/instruction"
)

// Timeouts bounds every wait a handler performs
type Timeouts struct {
	Attach         time.Duration // deterministic tier: wait for fallbackSelector to attach
	Action         time.Duration // native element actions and key presses
	Navigate       time.Duration
	WaitSelector   time.Duration // wait{selector}
	DegradedPause  time.Duration // pause after a wait{selector} timed out
	NetworkIdle    time.Duration
	ConditionPause time.Duration // pause after a non-networkidle wait{condition}
	Semantic       time.Duration // one semantic resolver call
}

// DefaultTimeouts favors failing fast at the deterministic tier
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Attach:         2 * time.Second,
		Action:         5 * time.Second,
		Navigate:       30 * time.Second,
		WaitSelector:   5 * time.Second,
		DegradedPause:  time.Second,
		NetworkIdle:    10 * time.Second,
		ConditionPause: 2 * time.Second,
		Semantic:       60 * time.Second,
	}
}

// Env holds the collaborators handlers act through. Resolver may be nil,
// in which case the semantic tier is unavailable.
type Env struct {
	Driver   browser.Driver
	Resolver ai.Resolver
	Logger   *slog.Logger
	Timeouts Timeouts
}

// Tier names how an instruction was carried out
type Tier string

const (
	TierNative   Tier = "native"   // deterministic selector, visible element
	TierForced   Tier = "forced"   // deterministic selector, hidden element, DOM dispatch
	TierSemantic Tier = "semantic" // semantic resolver
	TierKeyword  Tier = "keyword"  // verify matched a quoted keyword
	TierPage     Tier = "page"     // page-level fallback (scroll)
)

// Resolution is the result payload of handlers that pick a tier
type Resolution struct {
	Tier     Tier   `json:"tier"`
	Selector string `json:"selector,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// ResolutionError means no tier could locate or act on the target
type ResolutionError struct {
	Action  instruction.ActionType
	Locator instruction.Locator
	Cause   error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("could not resolve %s target %q", e.Action, e.Locator.String())
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// AssertionError is a verify step the semantic resolver judged false
type AssertionError struct {
	Assertion string
	Detail    string
}

func (e *AssertionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("assertion failed: %s (%s)", e.Assertion, e.Detail)
	}
	return "assertion failed: " + e.Assertion
}

// errNoResolver marks the semantic tier as unavailable
var errNoResolver = errors.New("semantic resolver unavailable")

// semantic calls the resolver under the semantic timeout
func (env *Env) semantic(ctx context.Context, instruction string) (ai.Outcome, error) {
	if env.Resolver == nil {
		return ai.Outcome{}, errNoResolver
	}
	ctx, cancel := context.WithTimeout(ctx, env.Timeouts.Semantic)
	defer cancel()
	return env.Resolver.Resolve(ctx, instruction)
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
