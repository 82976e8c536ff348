package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("reference already exists")
)

// ValidationError rejects a malformed inbound request before any state is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// GatewayError wraps an upstream payment API failure.
type GatewayError struct {
	Gateway string
	Op      string
	Status  int
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Gateway, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Gateway, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// SignatureError is returned when a webhook body does not match its signature.
type SignatureError struct {
	Gateway string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%s: invalid webhook signature", e.Gateway)
}

// SideEffectError records a failed dispatcher. It is logged, never escalated.
type SideEffectError struct {
	Effect    string
	Reference string
	Err       error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("side effect %s for %s: %v", e.Effect, e.Reference, e.Err)
}

func (e *SideEffectError) Unwrap() error { return e.Err }

// IsGatewayError reports whether err is, or wraps, a *GatewayError.
func IsGatewayError(err error) bool {
	var gerr *GatewayError
	return errors.As(err, &gerr)
}
