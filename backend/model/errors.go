package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a pipeline failure for the caller
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindUpstream   ErrorKind = "upstream"
	KindTimeout    ErrorKind = "timeout"
	KindInternal   ErrorKind = "internal"
)

// HTTPStatus maps the kind to the response status code
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream, KindTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the short, stable text returned to clients
func (k ErrorKind) PublicMessage() string {
	switch k {
	case KindValidation:
		return "Validation failed"
	case KindNotFound:
		return "Price pack not found"
	case KindUpstream, KindTimeout:
		return "Temporary error generating the offer, please retry later"
	default:
		return "Internal server error"
	}
}

// ErrNotFound is returned when no catalog record matches under the active policy
var ErrNotFound = errors.New("price record not found")

// PipelineError carries the failure kind and the stage that produced it.
// Err holds the underlying cause for logs; Message, when set, is safe to show.
type PipelineError struct {
	Kind    ErrorKind
	Stage   string
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s: %s", e.Stage, e.Kind, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// PublicMessage returns Message if set, otherwise the kind's stable text
func (e *PipelineError) PublicMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.PublicMessage()
}

// NewError wraps err as a PipelineError of the given kind
func NewError(kind ErrorKind, stage string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Err: err}
}

// Classify extracts the kind of err. Deadline errors become Timeout,
// anything unrecognized is Internal.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindInternal
}
