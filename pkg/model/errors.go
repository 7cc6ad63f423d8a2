package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoQuery is returned when a search request carries no query at all.
	ErrNoQuery = NewBadRequest("no query provided")
	// ErrUnknownResource is returned when a resource selector names a partition that is not configured.
	ErrUnknownResource = errors.New("unknown resource")
	// ErrNotFound is returned when a document or partition does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCanceled is returned when the operation is canceled by the caller.
	ErrCanceled = errors.New("operation canceled")
)

// BadRequestError is a caller-fixable input problem. Always a 4xx, never retried.
type BadRequestError struct {
	Message string
}

func NewBadRequest(msg string) *BadRequestError {
	return &BadRequestError{Message: msg}
}

func (e *BadRequestError) Error() string { return e.Message }

// IsBadRequest reports whether err is or wraps a BadRequestError.
func IsBadRequest(err error) bool {
	var br *BadRequestError
	return errors.As(err, &br)
}

// ConnectivityError reports a dependency that stayed unreachable after all startup attempts.
type ConnectivityError struct {
	Dependency string
	Attempts   int
	Err        error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s unreachable after %d attempt(s): %v", e.Dependency, e.Attempts, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// IsCanceled returns true if the error is due to context cancellation or deadline exceeded.
// It checks both direct context errors and wrapped errors (e.g., from the MongoDB driver).
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrCanceled) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "context canceled") || strings.Contains(errStr, "context deadline exceeded")
}
