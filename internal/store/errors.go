package store

import "errors"

// Sentinel errors returned by Store operations. Callers match with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrAmbiguousID        = errors.New("ambiguous id")
	ErrCyclicDependency   = errors.New("cyclic dependency")
	ErrNoSuchDependency   = errors.New("no such dependency")
	ErrIllegalTransition  = errors.New("illegal state transition")
	ErrInvalidEnum        = errors.New("invalid enum value")
	ErrEmptyPatch         = errors.New("update has no fields set")
)
