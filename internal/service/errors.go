package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the addressed consignment or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the tracking number is taken or the row changed underneath us.
	ErrConflict = errors.New("conflict")
	// ErrValidation means the input was rejected before any state was touched.
	ErrValidation = errors.New("validation failed")
)

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
