package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/v0xg/stepflow/internal/instruction"
)

// Planner turns a natural language prompt into a candidate instruction
// stream. The result is not validated.
type Planner interface {
	Plan(ctx context.Context, prompt string) ([]instruction.Instruction, error)
}

// LLMPlanner plans with an LLM provider
type LLMPlanner struct {
	provider Provider
	logger   *slog.Logger
}

// NewPlanner creates a planner backed by provider
func NewPlanner(provider Provider, logger *slog.Logger) *LLMPlanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMPlanner{provider: provider, logger: logger}
}

// Plan asks the provider for an instruction stream
func (p *LLMPlanner) Plan(ctx context.Context, prompt string) ([]instruction.Instruction, error) {
	start := time.Now()
	text, err := p.provider.Complete(ctx, plannerPrompt, "User request: "+prompt)
	if err != nil {
		return nil, &ExternalServiceError{Service: p.provider.Name(), Op: "plan", Err: err}
	}

	list, err := parseInstructionsJSON(text)
	if err != nil {
		return nil, &ExternalServiceError{
			Service: p.provider.Name(),
			Op:      "plan",
			Err:     fmt.Errorf("failed to parse response as JSON: %w\nResponse: %s", err, text),
		}
	}

	p.logger.Debug("planned instructions",
		"provider", p.provider.Name(),
		"count", len(list),
		"elapsed", time.Since(start),
	)
	return list, nil
}

// parseInstructionsJSON extracts and parses a JSON array from a response
// that may contain surrounding text
func parseInstructionsJSON(response string) ([]instruction.Instruction, error) {
	if list, err := instruction.Parse([]byte(response)); err == nil {
		return list, nil
	}

	jsonStr, err := extractJSON(response, '[', ']')
	if err != nil {
		return nil, err
	}
	list, err := instruction.Parse([]byte(jsonStr))
	if err != nil {
		return nil, fmt.Errorf("failed to parse extracted JSON: %w", err)
	}
	return list, nil
}

// extractJSON returns the first balanced open...close span of response,
// skipping brackets inside string literals.
func extractJSON(response string, open, close byte) (string, error) {
	start := strings.IndexByte(response, open)
	if start == -1 {
		return "", fmt.Errorf("no JSON %c found in response", open)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return response[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("no matching closing %c found", close)
}

// decodeObject is a convenience for single-object replies
func decodeObject(response string, v any) error {
	if err := json.Unmarshal([]byte(response), v); err == nil {
		return nil
	}
	jsonStr, err := extractJSON(response, '{', '}')
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(jsonStr), v)
}
