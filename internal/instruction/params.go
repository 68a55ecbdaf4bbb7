package instruction

import (
	"bytes"
	"encoding/json"
)

// Params is the action-specific payload of an instruction. The set of
// implementations is closed; each one belongs to exactly one ActionType.
type Params interface {
	Action() ActionType
	params()
}

// Locator identifies a target element by a structural selector, a natural
// language description, or both.
type Locator struct {
	SemanticLocator  string `json:"semanticLocator,omitempty"`
	FallbackSelector string `json:"fallbackSelector,omitempty"`
}

// Empty reports whether neither locator form is present
func (l Locator) Empty() bool {
	return l.SemanticLocator == "" && l.FallbackSelector == ""
}

// String describes the locator for logs and error messages
func (l Locator) String() string {
	switch {
	case l.FallbackSelector != "" && l.SemanticLocator != "":
		return l.FallbackSelector + " (" + l.SemanticLocator + ")"
	case l.FallbackSelector != "":
		return l.FallbackSelector
	default:
		return l.SemanticLocator
	}
}

type NavigateParams struct {
	URL string `json:"url"`
}

type ClickParams struct {
	Locator
}

type HoverParams struct {
	Locator
}

type InputParams struct {
	Locator
	Value *string `json:"value,omitempty"`
}

type SelectParams struct {
	Locator
	Value *string `json:"value,omitempty"`
}

type VerifyParams struct {
	Assertion string `json:"assertion"`
}

// WaitParams holds the wait strategy. Timeout is in milliseconds.
type WaitParams struct {
	Timeout   *int   `json:"timeout,omitempty"`
	Selector  string `json:"selector,omitempty"`
	Condition string `json:"condition,omitempty"`
}

type PressParams struct {
	Key string `json:"key"`
}

// ScrollDirection is the page-level scroll direction
type ScrollDirection string

const (
	ScrollUp     ScrollDirection = "up"
	ScrollDown   ScrollDirection = "down"
	ScrollTop    ScrollDirection = "top"
	ScrollBottom ScrollDirection = "bottom"
)

// Valid reports whether d is a known direction
func (d ScrollDirection) Valid() bool {
	switch d {
	case ScrollUp, ScrollDown, ScrollTop, ScrollBottom:
		return true
	}
	return false
}

type ScrollParams struct {
	Direction       ScrollDirection `json:"direction"`
	SemanticLocator string          `json:"semanticLocator,omitempty"`
}

// RawParams carries the params of an instruction whose actionType is not
// supported.
type RawParams map[string]any

func (NavigateParams) Action() ActionType { return ActionNavigate }
func (ClickParams) Action() ActionType    { return ActionClick }
func (HoverParams) Action() ActionType    { return ActionHover }
func (InputParams) Action() ActionType    { return ActionInput }
func (SelectParams) Action() ActionType   { return ActionSelect }
func (VerifyParams) Action() ActionType   { return ActionVerify }
func (WaitParams) Action() ActionType     { return ActionWait }
func (PressParams) Action() ActionType    { return ActionPress }
func (ScrollParams) Action() ActionType   { return ActionScroll }
func (RawParams) Action() ActionType      { return "" }

func (NavigateParams) params() {}
func (ClickParams) params()    {}
func (HoverParams) params()    {}
func (InputParams) params()    {}
func (SelectParams) params()   {}
func (VerifyParams) params()   {}
func (WaitParams) params()     {}
func (PressParams) params()    {}
func (ScrollParams) params()   {}
func (RawParams) params()      {}

// String returns a pointer to s, for building InputParams and SelectParams
func String(s string) *string { return &s }

// Millis returns a pointer to ms, for building WaitParams
func Millis(ms int) *int { return &ms }

func decodeParams(action ActionType, raw json.RawMessage) (Params, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}

	switch action {
	case ActionNavigate:
		return decodeInto[NavigateParams](raw)
	case ActionClick:
		return decodeInto[ClickParams](raw)
	case ActionHover:
		return decodeInto[HoverParams](raw)
	case ActionInput:
		return decodeInto[InputParams](raw)
	case ActionSelect:
		return decodeInto[SelectParams](raw)
	case ActionVerify:
		return decodeInto[VerifyParams](raw)
	case ActionWait:
		return decodeInto[WaitParams](raw)
	case ActionPress:
		return decodeInto[PressParams](raw)
	case ActionScroll:
		return decodeInto[ScrollParams](raw)
	default:
		var p RawParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
}

func decodeInto[T Params](raw json.RawMessage) (Params, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}
