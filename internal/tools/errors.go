package tools

import "errors"

var (
	// ErrToolNameEmpty is returned when registering a tool without a name.
	ErrToolNameEmpty = errors.New("tool name must not be empty")

	// ErrToolExecuteNil is returned when registering a tool without an executor.
	ErrToolExecuteNil = errors.New("tool execute function must not be nil")

	// ErrToolAlreadyRegistered is returned on duplicate registration.
	ErrToolAlreadyRegistered = errors.New("tool already registered")

	// ErrToolNotFound is returned when looking up an unknown tool.
	ErrToolNotFound = errors.New("tool not found")

	// ErrMissingRequiredArg is returned when a required parameter is absent.
	ErrMissingRequiredArg = errors.New("missing required argument")
)
