package project

import "errors"

var (
	// ErrInvalidConfig is returned when a project configuration fails validation.
	ErrInvalidConfig = errors.New("invalid project config")

	// ErrConfigUnreadable is returned when a configuration file cannot be read.
	ErrConfigUnreadable = errors.New("project config unreadable")

	// ErrDisposed is returned by queries against a disposed graph or registry.
	ErrDisposed = errors.New("project disposed")
)
