package service

import (
	"errors"
	"fmt"
)

// Kind classifies the outcome of an operation
type Kind string

const (
	KindNone              Kind = ""
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindUnauthorized      Kind = "unauthorized"
	KindInvalidTransition Kind = "invalid_transition"
	KindConflict          Kind = "conflict"
	KindPersistence       Kind = "persistence"
)

// Result is the envelope every lifecycle operation returns. Expected failures are
// reported here, never as a Go error or panic.
type Result[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Result  T      `json:"result"`
	Kind    Kind   `json:"kind,omitempty"`
}

// Ok builds a successful envelope
func Ok[T any](message string, value T) Result[T] {
	return Result[T]{Success: true, Message: message, Result: value}
}

// Fail builds a failed envelope with a zero result
func Fail[T any](kind Kind, message string) Result[T] {
	return Result[T]{Kind: kind, Message: message}
}

// Noop builds a successful envelope for a transition that left the invoice unchanged
func Noop[T any](kind Kind, message string, value T) Result[T] {
	return Result[T]{Success: true, Kind: kind, Message: message, Result: value}
}

// Failure carries an expected failure out of a transaction so the bracket rolls back
type Failure struct {
	Kind    Kind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func fail(kind Kind, message string) *Failure {
	return &Failure{Kind: kind, Message: message}
}

// failureOf maps any error returned from a transaction to an envelope kind and message.
// Errors that are not a *Failure are unexpected and map to KindPersistence.
func failureOf(err error) (Kind, string) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, f.Message
	}
	return KindPersistence, fmt.Sprintf("An error occurred: %v", err)
}

// failed converts err into a failed envelope
func failed[T any](err error) Result[T] {
	kind, message := failureOf(err)
	return Fail[T](kind, message)
}
