package v1

import (
	"errors"
	"net/http"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
)

var (
	ErrStartRequestCtx   = errors.New("start request missing in context")
	ErrDesiredStatus     = errors.New("desired status missing in context")
	ErrDesiredStatusJSON = errors.New("desiredStatus is required")
	ErrContentType       = errors.New("Content-Type must be application/json")
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, data.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, data.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, data.ErrAlreadyExists), errors.Is(err, data.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, data.ErrBadStatus):
		return http.StatusConflict
	case errors.Is(err, ErrContentType):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// writeError records err for the access log and answers with its status.
// Internal errors are not echoed to the client.
func writeError(w http.ResponseWriter, err error) {
	markErr(w, err)
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	http.Error(w, msg, code)
}
