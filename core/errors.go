package core

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages.
var (
	// ErrUnknownOperator is returned when a rule condition names an
	// operator outside the supported set.
	ErrUnknownOperator = errors.New("unknown condition operator")

	// ErrRuleNotFound is returned when a rule ID does not resolve.
	ErrRuleNotFound = errors.New("correlation rule not found")

	// ErrDuplicateRule is returned when a rule ID is already registered.
	ErrDuplicateRule = errors.New("correlation rule already registered")
)

// ValidationError reports a malformed or incomplete raw event. The
// normalizer drops such events and counts the rejection; no correlation
// path is triggered.
type ValidationError struct {
	Source string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid event from %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid event from %s: %s", e.Source, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
