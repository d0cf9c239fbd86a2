package status

import "errors"

var (
	ErrSessionNotFound      = errors.New("queue: session not found")
	ErrSessionNotActive     = errors.New("queue: session is not active")
	ErrSessionExpired       = errors.New("queue: session expired")
	ErrExtensionNotAllowed  = errors.New("queue: extension not allowed for this event")
	ErrExtensionAlreadyUsed = errors.New("queue: extension already used")
)
