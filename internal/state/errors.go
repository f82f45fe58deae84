package state

import "errors"

// Sentinel errors for the Integrity taxonomy in spec.md §7.
var (
	ErrNotFound      = errors.New("not found")
	ErrHasDependents = errors.New("has dependents")
)
