package persistence

import "errors"

// Common persistence errors
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflicting update")
)
