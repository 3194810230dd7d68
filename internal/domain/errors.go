package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy. Callers classify
// failures with errors.Is; wrapped messages carry the specifics.
var (
	// ErrInvalidInput marks a malformed request: missing columns, empty
	// date range, incoherent parameters. No partial work is performed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientData marks a window with too few bars for any
	// indicator. Recoverable inside an evaluation: signals stay flat and
	// the SOP validator fails the run.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvariant marks a programmer error (equity accounting broken,
	// orphan sell, negative cash). The run aborts; no silent correction.
	ErrInvariant = errors.New("invariant breach")
)

// InvalidInputf wraps ErrInvalidInput with a formatted message.
func InvalidInputf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidInput}, args...)...)
}

// InsufficientDataf wraps ErrInsufficientData with a formatted message.
func InsufficientDataf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInsufficientData}, args...)...)
}

// Invariantf wraps ErrInvariant with a formatted message.
func Invariantf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvariant}, args...)...)
}
