package processor

import "errors"

var (
	ErrUnknownProvider = errors.New("unknown payment provider")
	ErrUserNotFound    = errors.New("user lookup failed")
)
