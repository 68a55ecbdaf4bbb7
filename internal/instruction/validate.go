package instruction

import (
	"fmt"
	"strings"
)

// Report is the result of validating a single instruction
type Report struct {
	Valid  bool
	Errors []string
}

// StepErrors groups the violations of one instruction in a stream
type StepErrors struct {
	StepID int      `json:"stepId"`
	Errors []string `json:"errors"`
}

// StreamReport is the result of validating an instruction stream
type StreamReport struct {
	Valid bool
	// Stream holds violations that belong to the stream as a whole
	Stream []string
	Steps  []StepErrors
}

// Err returns a *ValidationError describing the report, or nil if valid
func (r StreamReport) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Stream: r.Stream, Steps: r.Steps}
}

// ValidationError reports every schema violation found in a stream
type ValidationError struct {
	Stream []string
	Steps  []StepErrors
}

func (e *ValidationError) Error() string {
	var parts []string
	parts = append(parts, e.Stream...)
	for _, s := range e.Steps {
		parts = append(parts, fmt.Sprintf("step %d: %s", s.StepID, strings.Join(s.Errors, "; ")))
	}
	return "invalid instruction stream: " + strings.Join(parts, "; ")
}

// ValidateInstruction checks the required top-level fields and the param
// rules of the instruction's action. All violations are returned.
func ValidateInstruction(in Instruction) Report {
	var errs []string

	switch {
	case in.missingStepID:
		errs = append(errs, "stepId is required")
	case in.StepID < 0:
		errs = append(errs, "stepId must be a non-negative integer")
	}
	if strings.TrimSpace(in.Description) == "" {
		errs = append(errs, "description is required")
	}

	switch {
	case in.Action == "":
		errs = append(errs, "actionType is required")
	case !in.Action.Supported():
		errs = append(errs, fmt.Sprintf("unsupported actionType %q", in.Action))
	case in.Params == nil:
		errs = append(errs, "params is required")
	case in.Params.Action() != in.Action:
		errs = append(errs, fmt.Sprintf("params do not match actionType %q", in.Action))
	default:
		errs = append(errs, validateParams(in.Params)...)
	}

	return Report{Valid: len(errs) == 0, Errors: errs}
}

func validateParams(p Params) []string {
	var errs []string

	switch p := p.(type) {
	case NavigateParams:
		if strings.TrimSpace(p.URL) == "" {
			errs = append(errs, "params.url is required for navigate")
		}
	case ClickParams:
		errs = append(errs, validateLocator(ActionClick, p.Locator)...)
	case HoverParams:
		errs = append(errs, validateLocator(ActionHover, p.Locator)...)
	case InputParams:
		errs = append(errs, validateLocator(ActionInput, p.Locator)...)
		if p.Value == nil {
			errs = append(errs, "params.value is required for input")
		}
	case SelectParams:
		errs = append(errs, validateLocator(ActionSelect, p.Locator)...)
		if p.Value == nil {
			errs = append(errs, "params.value is required for select")
		}
	case VerifyParams:
		if strings.TrimSpace(p.Assertion) == "" {
			errs = append(errs, "params.assertion is required for verify")
		}
	case WaitParams:
		if p.Timeout == nil && p.Selector == "" && p.Condition == "" {
			errs = append(errs, "params for wait require at least one of timeout, selector or condition")
		}
		if p.Timeout != nil && *p.Timeout < 0 {
			errs = append(errs, "params.timeout must not be negative")
		}
	case PressParams:
		if strings.TrimSpace(p.Key) == "" {
			errs = append(errs, "params.key is required for press")
		}
	case ScrollParams:
		switch {
		case p.Direction == "":
			errs = append(errs, "params.direction is required for scroll")
		case !p.Direction.Valid():
			errs = append(errs, fmt.Sprintf("params.direction %q must be one of up, down, top, bottom", p.Direction))
		}
	}

	return errs
}

func validateLocator(action ActionType, l Locator) []string {
	if l.Empty() {
		return []string{fmt.Sprintf("params for %s require semanticLocator or fallbackSelector", action)}
	}
	return nil
}

// ValidateStream validates every instruction of a non-empty stream and
// reports duplicate step ids.
func ValidateStream(list []Instruction) StreamReport {
	if len(list) == 0 {
		return StreamReport{Stream: []string{"instruction stream must be a non-empty array"}}
	}

	report := StreamReport{}
	seen := make(map[int]bool, len(list))
	for _, in := range list {
		if !in.missingStepID && seen[in.StepID] {
			report.Stream = append(report.Stream, fmt.Sprintf("duplicate stepId %d", in.StepID))
		}
		if !in.missingStepID {
			seen[in.StepID] = true
		}

		r := ValidateInstruction(in)
		if !r.Valid {
			report.Steps = append(report.Steps, StepErrors{StepID: in.StepID, Errors: r.Errors})
		}
	}

	report.Valid = len(report.Stream) == 0 && len(report.Steps) == 0
	return report
}
