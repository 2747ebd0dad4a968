package services

import "errors"

// ErrInvalidConfig is returned when submitted configuration fails parsing or validation.
var ErrInvalidConfig = errors.New("invalid configuration")
