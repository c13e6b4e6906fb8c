// Package apperr holds the sentinel errors shared by the service, HTTP and
// MCP layers.
package apperr

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrAlreadyExists  = errors.New("already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotInitialized = errors.New("project not initialized")
)
