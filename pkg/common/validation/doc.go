// Package validation provides common validation utilities for configuration
// parameters across joinq.
//
// Every function returns a *errors.ValidationError that unwraps to
// errors.ErrInvalidConfiguration, so constructors can return the result
// directly and callers can match on either.
package validation
