// Package errs maps domain and service errors to HTTP status codes.
package errs

import (
	"errors"
	"net/http"

	"github.com/cwrk-planet/pad/internal/domain"
	"github.com/cwrk-planet/pad/internal/store"
)

var (
	ErrInvalidInput = errors.New("invalid input")

	ErrUpstream    = errors.New("upstream error")
	ErrUnavailable = errors.New("service unavailable")
)

func ToHTTP(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRoomExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, store.ErrInvalidCursor),
		errors.Is(err, domain.ErrEmptyRoomID),
		errors.Is(err, domain.ErrEmptyMessageID),
		errors.Is(err, domain.ErrDuplicateMessageID),
		errors.Is(err, domain.ErrInvalidRole),
		errors.Is(err, domain.ErrMalformedSnapshot):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code is the stable machine-readable name sent alongside the message.
func Code(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusBadGateway:
		return "upstream"
	default:
		return "internal"
	}
}
