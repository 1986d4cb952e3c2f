package core

import "errors"

// Configuration errors surfaced during pipeline construction and parameter
// updates. Callers detect them with errors.Is.
var (
	// ErrUnknownParam marks a parameter name no service declares.
	ErrUnknownParam = errors.New("unknown parameter")
	// ErrSchemaMismatch marks incompatible map names or binning between
	// adjacent stages. It is always raised at construction, never during
	// evaluation.
	ErrSchemaMismatch = errors.New("schema mismatch")
)
