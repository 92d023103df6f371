package provider

import "errors"

var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrInvalidConnection   = errors.New("invalid connection")
	ErrInvalidArguments    = errors.New("invalid arguments")
	ErrProviderError       = errors.New("provider error")
	ErrTimeout             = errors.New("provider timeout")
	ErrToolNotFound        = errors.New("tool not found")
	ErrDuplicateProvider   = errors.New("provider already registered")
)
