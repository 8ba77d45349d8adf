package config

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed       = errors.New("malformed config")
	ErrInvalidInterval = errors.New("invalid interval")
	ErrWrongType       = errors.New("wrong type")
	ErrEmptyAddress    = errors.New("empty address")
)

// FieldError records a key that fell back to its default
type FieldError struct {
	Key string
	Err error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("config field %q ignored: %v", e.Key, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
