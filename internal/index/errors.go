package index

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("index engine is closed")
	// ErrPartitionExists is returned when creating a partition that is already there.
	ErrPartitionExists = errors.New("partition already exists")
)

// SearchError is a rejected or failed query. Causes lists the reasons the
// engine gave, outermost first; it is empty when the engine gave none.
type SearchError struct {
	Status int
	Causes []string
	Err    error
}

func (e *SearchError) Error() string {
	if reason := e.Reason(); reason != "" {
		return fmt.Sprintf("search failed (%d): %s", e.Status, reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("search failed (%d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("search failed (%d)", e.Status)
}

func (e *SearchError) Unwrap() error { return e.Err }

// Reason returns the innermost cause, or "" when there is none.
func (e *SearchError) Reason() string {
	if len(e.Causes) == 0 {
		return ""
	}
	return e.Causes[len(e.Causes)-1]
}

// StatusCode returns the HTTP status, defaulting to 500.
func (e *SearchError) StatusCode() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// badQuery reports a query the engine refuses. Every message in the error
// chain becomes a cause.
func badQuery(err error) *SearchError {
	return &SearchError{Status: http.StatusBadRequest, Causes: causes(err), Err: err}
}

// invalidShape reports malformed geometry without exposing a cause.
func invalidShape(err error) *SearchError {
	return &SearchError{Status: http.StatusBadRequest, Err: err}
}

// unsupportedRequest reports a request body the parser cannot handle at
// all. Like invalidShape it carries no cause.
func unsupportedRequest(err error) *SearchError {
	return &SearchError{Status: http.StatusBadRequest, Err: err}
}

func noSuchPartition(name string) *SearchError {
	return &SearchError{
		Status: http.StatusNotFound,
		Causes: []string{fmt.Sprintf("no such index [%s]", name)},
	}
}

func causes(err error) []string {
	var out []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		out = append(out, e.Error())
	}
	return out
}
