package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/convtune/internal/conv"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// errorClass is how a selection failure is reported over HTTP.
type errorClass struct {
	status int
	typ    string
	param  string
	code   string
}

func classify(err error) errorClass {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, conv.ErrInvalidProblem):
		return errorClass{status: http.StatusBadRequest, typ: "invalid_request_error"}
	case errors.Is(err, conv.ErrCapability):
		return errorClass{status: http.StatusUnprocessableEntity, typ: "capability_error", code: "unsupported"}
	case errors.Is(err, conv.ErrConfiguration):
		return errorClass{status: http.StatusUnprocessableEntity, typ: "configuration_error", param: "policy", code: "no_algorithm"}
	default:
		return errorClass{status: http.StatusInternalServerError, typ: "server_error"}
	}
}
