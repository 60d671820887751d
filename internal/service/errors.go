package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds is returned when an entry would take a balance below zero
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAlreadyProcessed marks an idempotency hit; callers treat it as a skip
	ErrAlreadyProcessed = errors.New("already processed")
	ErrInvalidState     = errors.New("invalid state")
	ErrNotFound         = errors.New("not found")
	// ErrConfigurationMissing is returned when settings are absent and cannot be bootstrapped
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrOTPInvalid           = errors.New("invalid verification code")
	ErrOTPExpired           = errors.New("verification code expired")
	ErrValidation           = errors.New("validation failed")
)

// UserError carries the single human readable reason shown to the end user
// while still matching its category with errors.Is.
type UserError struct {
	Kind    error
	Message string
}

func (e *UserError) Error() string {
	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Kind
}

func userError(kind error, format string, args ...interface{}) error {
	return &UserError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Reason returns the message meant for the end user, falling back to the error text
func Reason(err error) string {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.Message
	}
	return err.Error()
}

func isAlreadyProcessed(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed)
}
