package instruction

import (
	"encoding/json"
	"fmt"
)

// ActionType names one of the supported browser actions
type ActionType string

const (
	ActionNavigate ActionType = "navigate"
	ActionClick    ActionType = "click"
	ActionInput    ActionType = "input"
	ActionVerify   ActionType = "verify"
	ActionWait     ActionType = "wait"
	ActionSelect   ActionType = "select"
	ActionHover    ActionType = "hover"
	ActionPress    ActionType = "press"
	ActionScroll   ActionType = "scroll"
)

// ActionTypes lists every supported action in a stable order
var ActionTypes = []ActionType{
	ActionNavigate,
	ActionClick,
	ActionInput,
	ActionVerify,
	ActionWait,
	ActionSelect,
	ActionHover,
	ActionPress,
	ActionScroll,
}

// Supported reports whether a is one of the known action types
func (a ActionType) Supported() bool {
	for _, t := range ActionTypes {
		if t == a {
			return true
		}
	}
	return false
}

// Instruction is a single step of an instruction stream.
//
// PreResolved is set when an earlier stage already produced the effect of
// the step (for example the orchestrator navigated ahead of time). It is
// never serialized.
type Instruction struct {
	StepID      int
	Action      ActionType
	Params      Params
	Description string
	PreResolved bool

	// set when decoded from JSON without a stepId key
	missingStepID bool
}

// wireInstruction mirrors the JSON shape of an instruction
type wireInstruction struct {
	StepID      *int            `json:"stepId"`
	Action      ActionType      `json:"actionType"`
	Params      json.RawMessage `json:"params"`
	Description string          `json:"description"`
}

// MarshalJSON encodes the instruction in its wire format
func (in Instruction) MarshalJSON() ([]byte, error) {
	params := in.Params
	if params == nil {
		params = RawParams{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params for step %d: %w", in.StepID, err)
	}
	id := in.StepID
	return json.Marshal(wireInstruction{
		StepID:      &id,
		Action:      in.Action,
		Params:      raw,
		Description: in.Description,
	})
}

// UnmarshalJSON decodes the wire format, choosing the params variant from
// actionType. Unknown actions keep their params as RawParams so that the
// validator, not the decoder, reports the problem.
func (in *Instruction) UnmarshalJSON(data []byte) error {
	var w wireInstruction
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var id int
	if w.StepID != nil {
		id = *w.StepID
	}

	params, err := decodeParams(w.Action, w.Params)
	if err != nil {
		return fmt.Errorf("step %d: invalid params: %w", id, err)
	}

	*in = Instruction{
		StepID:        id,
		Action:        w.Action,
		Params:        params,
		Description:   w.Description,
		missingStepID: w.StepID == nil,
	}
	return nil
}

// Parse decodes an instruction stream from its JSON array form
func Parse(data []byte) ([]Instruction, error) {
	var list []Instruction
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Clone returns a copy of the stream so callers can flag PreResolved
// without touching a list shared with a cache.
func Clone(list []Instruction) []Instruction {
	if list == nil {
		return nil
	}
	out := make([]Instruction, len(list))
	copy(out, list)
	return out
}
