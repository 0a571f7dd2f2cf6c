package matrix

import "errors"

var (
	ErrAlreadyRegistered = errors.New("matrix: already registered")
	ErrNotRegistered     = errors.New("matrix: not registered")
	ErrWrongPayment      = errors.New("matrix: wrong payment amount")
	ErrLevelOutOfOrder   = errors.New("matrix: previous level not active")
	ErrInvalidLevel      = errors.New("matrix: level out of range")
	ErrUnknownUser       = errors.New("matrix: unknown user")
)
