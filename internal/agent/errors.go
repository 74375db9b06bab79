package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors for turn execution. Callers match these with errors.Is.
var (
	// ErrMalformedToolCall marks a model response whose tool-call payload
	// could not be decoded. The retry layer grants exactly one more
	// attempt for this class of failure.
	ErrMalformedToolCall = errors.New("malformed tool call payload")

	// ErrToolNotFound is returned when the model requests a tool the
	// agent's toolbox does not contain.
	ErrToolNotFound = errors.New("tool not found")

	// ErrNotSuspended is returned when an approval answer arrives for a
	// conversation with no pending confirmation.
	ErrNotSuspended = errors.New("conversation has no pending approval")

	// ErrApprovalTokenMismatch is returned when an approval answer carries
	// the wrong resumption token.
	ErrApprovalTokenMismatch = errors.New("approval token mismatch")

	// ErrMaxToolRounds is returned when a single turn exceeds the
	// configured number of model/tool rounds.
	ErrMaxToolRounds = errors.New("maximum tool rounds exceeded")
)

// TurnError wraps a failure with the turn phase it occurred in.
type TurnError struct {
	Phase Phase
	Cause error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed in phase %s: %v", e.Phase, e.Cause)
}

func (e *TurnError) Unwrap() error { return e.Cause }

func turnErr(phase Phase, cause error) error {
	if cause == nil {
		return nil
	}
	return &TurnError{Phase: phase, Cause: cause}
}
