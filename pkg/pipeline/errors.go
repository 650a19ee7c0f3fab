package pipeline

import (
	"errors"
	"net/http"

	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/detect"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/fetch"
)

// Kind tags a pipeline failure with a stable machine-readable reason.
type Kind string

const (
	KindInvalidSource     Kind = "invalid_source"
	KindTooLarge          Kind = "too_large"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindDetectionFailed   Kind = "detection_failed"
	KindAnnotationFailed  Kind = "annotation_failed"
	KindUnclassified      Kind = "unclassified"
)

// Error is the failure surfaced to callers of Run.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode maps the failure kind to an HTTP-style status code.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindInvalidSource, KindUnsupportedFormat:
		return http.StatusBadRequest
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindDetectionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the error payload shape for the external HTTP layer.
type ErrorResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// NewErrorResponse converts any error from Run into the wire error shape.
func NewErrorResponse(err error) ErrorResponse {
	var perr *Error
	if errors.As(err, &perr) {
		return ErrorResponse{Status: false, Message: perr.Err.Error(), Code: perr.StatusCode()}
	}
	return ErrorResponse{Status: false, Message: err.Error(), Code: http.StatusInternalServerError}
}

// classify wraps err into a tagged Error based on the sentinel it carries.
func classify(err error) *Error {
	switch {
	case errors.Is(err, fetch.ErrInvalidSource):
		return &Error{Kind: KindInvalidSource, Err: err}
	case errors.Is(err, fetch.ErrTooLarge):
		return &Error{Kind: KindTooLarge, Err: err}
	case errors.Is(err, fetch.ErrUnsupportedFormat):
		return &Error{Kind: KindUnsupportedFormat, Err: err}
	case errors.Is(err, detect.ErrDetectionFailed):
		return &Error{Kind: KindDetectionFailed, Err: err}
	default:
		return &Error{Kind: KindUnclassified, Err: err}
	}
}
