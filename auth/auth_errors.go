package auth

import "errors"

var (
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	ErrInvalidOptions      = errors.New("invalid login options")
	ErrNoUser              = errors.New("provider reported success without a user")
)
