package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("already exists")
	ErrRemoteCall        = errors.New("remote call failed")
	ErrInconsistentState = errors.New("inconsistent state")
	ErrInvalidInput      = errors.New("invalid input")
)

// IsNotFound reports whether err marks a missing record, exemption or challenge.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// Remote marks err as a platform call failure while keeping it in the chain.
func Remote(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrRemoteCall, err)
}

func IsRemote(err error) bool {
	return errors.Is(err, ErrRemoteCall)
}
