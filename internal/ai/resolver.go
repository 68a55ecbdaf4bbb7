package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/v0xg/stepflow/internal/browser"
)

// Verdict is the judgment a resolver returns for an assertion
type Verdict int

const (
	// VerdictNone means the instruction was an action, not a judgment
	VerdictNone Verdict = iota
	VerdictTrue
	VerdictFalse
)

func (v Verdict) String() string {
	switch v {
	case VerdictTrue:
		return "true"
	case VerdictFalse:
		return "false"
	default:
		return "none"
	}
}

// Outcome is what the semantic resolver reports for an instruction
type Outcome struct {
	Verdict Verdict
	Detail  string
}

// Resolver carries out a natural language instruction on the current page.
// A returned error means the semantic tier could not help; callers treat
// it as unavailability rather than a fatal failure.
type Resolver interface {
	Resolve(ctx context.Context, instruction string) (Outcome, error)
}

// ErrUnresolved is returned when the model finds nothing matching the instruction
var ErrUnresolved = errors.New("no element matches the instruction")

// maxPageText bounds the text excerpt sent with each resolution
const maxPageText = 6000

// decision is the JSON reply expected from the model
type decision struct {
	Action    string `json:"action"`
	Selector  string `json:"selector"`
	Value     string `json:"value"`
	Direction string `json:"direction"`
	Verdict   *bool  `json:"verdict"`
	Reason    string `json:"reason"`
}

// LLMResolver resolves instructions by showing the model a page map and
// applying its decision through the driver.
type LLMResolver struct {
	provider Provider
	driver   browser.Driver
	logger   *slog.Logger
}

// NewResolver creates a semantic resolver bound to a page
func NewResolver(provider Provider, driver browser.Driver, logger *slog.Logger) *LLMResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMResolver{provider: provider, driver: driver, logger: logger}
}

// Resolve asks the model how to carry out instruction and performs it
func (r *LLMResolver) Resolve(ctx context.Context, instruction string) (Outcome, error) {
	pageMap, err := browser.Snapshot(ctx, r.driver)
	if err != nil {
		return Outcome{}, err
	}
	pageMapJSON, err := json.MarshalIndent(pageMap, "", "  ")
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to marshal page map: %w", err)
	}
	text, err := r.driver.Text(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to read page text: %w", err)
	}

	reply, err := r.provider.Complete(ctx, resolverPrompt, buildResolverPrompt(string(pageMapJSON), truncate(text, maxPageText), instruction))
	if err != nil {
		return Outcome{}, &ExternalServiceError{Service: r.provider.Name(), Op: "resolve", Err: err}
	}

	var d decision
	if err := decodeObject(reply, &d); err != nil {
		return Outcome{}, &ExternalServiceError{
			Service: r.provider.Name(),
			Op:      "resolve",
			Err:     fmt.Errorf("failed to parse response as JSON: %w\nResponse: %s", err, reply),
		}
	}

	r.logger.Debug("semantic decision",
		"instruction", instruction,
		"action", d.Action,
		"selector", d.Selector,
		"reason", d.Reason,
	)
	return r.apply(ctx, d)
}

func (r *LLMResolver) apply(ctx context.Context, d decision) (Outcome, error) {
	done := Outcome{Detail: d.Reason}

	switch d.Action {
	case "click":
		return done, r.driver.Click(ctx, d.Selector)
	case "fill":
		return done, r.driver.Fill(ctx, d.Selector, d.Value)
	case "hover":
		return done, r.driver.Hover(ctx, d.Selector)
	case "select":
		return done, r.driver.SelectOption(ctx, d.Selector, d.Value)
	case "scroll":
		dy := 400.0
		if d.Direction == "up" {
			dy = -dy
		}
		if d.Selector == "" {
			return done, r.driver.ScrollBy(ctx, 0, dy)
		}
		_, err := r.driver.Eval(ctx, `(sel, dy) => {
			const el = document.querySelector(sel);
			if (!el) throw new Error('no element for ' + sel);
			el.scrollBy(0, dy);
		}`, d.Selector, dy)
		return done, err
	case "assert":
		if d.Verdict == nil {
			return done, fmt.Errorf("assertion reply carried no verdict")
		}
		if *d.Verdict {
			done.Verdict = VerdictTrue
		} else {
			done.Verdict = VerdictFalse
		}
		return done, nil
	case "none", "":
		if d.Reason != "" {
			return done, fmt.Errorf("%w: %s", ErrUnresolved, d.Reason)
		}
		return done, ErrUnresolved
	default:
		return done, fmt.Errorf("unknown action %q in resolver reply", d.Action)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s + "\n... (truncated)"
}
