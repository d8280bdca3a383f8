package registry

import "errors"

var (
	ErrDuplicateProvider = errors.New("provider already registered")
	ErrUnknownProvider   = errors.New("provider not registered")
	ErrEmptyProviderName = errors.New("provider name is empty")
	ErrNilProvider       = errors.New("provider handler is nil")
)
