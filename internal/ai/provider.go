package ai

import (
	"context"
	"errors"
	"fmt"
)

// Provider sends a single system+user exchange to an LLM and returns the
// text of its reply.
type Provider interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

// ProviderConfig selects and authenticates a provider
type ProviderConfig struct {
	Name      string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
}

// NewProvider creates a new AI provider based on the provider name
func NewProvider(cfg ProviderConfig) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Name {
	case "claude", "anthropic":
		p, err = NewClaudeProvider(cfg)
	case "openai", "gpt":
		p, err = NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: claude, openai)", cfg.Name)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ExternalServiceError is a failure talking to a planner or resolver
// backend (transport, authentication, malformed reply). It is never
// retried by the engine.
type ExternalServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// IsExternal reports whether err came from an external AI service
func IsExternal(err error) bool {
	var ext *ExternalServiceError
	return errors.As(err, &ext)
}
