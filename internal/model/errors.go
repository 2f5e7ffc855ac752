package model

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// Sentinel errors for the failure taxonomy. Concrete errors wrap one of
// these so callers can branch with eris.Is.
var (
	ErrDataIntegrity        = eris.New("data integrity")
	ErrUnrecognizedCategory = eris.New("unrecognized category")
	ErrConvergence          = eris.New("buffer search did not converge")
	ErrIO                   = eris.New("artifact io")
)

// CategoryError reports a categorical value outside its closed set.
type CategoryError struct {
	Field string
	Value string
}

func (e *CategoryError) Error() string {
	return fmt.Sprintf("%s: %s %q", ErrUnrecognizedCategory.Error(), e.Field, e.Value)
}

// Unwrap lets eris.Is match ErrUnrecognizedCategory.
func (e *CategoryError) Unwrap() error { return ErrUnrecognizedCategory }

// ConvergenceError reports a buffer search that exhausted its iteration bound.
type ConvergenceError struct {
	District     string
	Iterations   int
	LastRadiusM  int
	LastFraction float64
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("%s: district %q after %d iterations (radius %dm, fraction %.4f)",
		ErrConvergence.Error(), e.District, e.Iterations, e.LastRadiusM, e.LastFraction)
}

// Unwrap lets eris.Is match ErrConvergence.
func (e *ConvergenceError) Unwrap() error { return ErrConvergence }

// IntegrityErrorf wraps ErrDataIntegrity with a formatted message.
func IntegrityErrorf(format string, args ...any) error {
	return eris.Wrapf(ErrDataIntegrity, format, args...)
}

// IOErrorf wraps err as an artifact IO failure.
func IOErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return eris.Wrapf(ErrIO, "%s: %v", fmt.Sprintf(format, args...), err)
}
