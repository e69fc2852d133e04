// Package models contains data structures used throughout the application
package models

import "errors"

// ErrInvalidParameter is returned when a calculation parameter fails
// validation (non-positive half-life, ISF, or carb factor). Callers
// check it with errors.Is.
var ErrInvalidParameter = errors.New("invalid parameter")
