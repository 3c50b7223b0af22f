package service

import (
	"errors"
	"net/http"

	"github.com/LeventeLantos/whatsapp-relay/internal/repo"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrMissingCredentials = errors.New("whatsapp credentials not configured")
	ErrValidation         = errors.New("invalid request")
	ErrContactNotFound    = errors.New("contact not found")
	ErrProvider           = errors.New("provider request failed")
	ErrAudioTooShort      = errors.New("audio shorter than 1s")
)

// SendError carries the id of the message record created before the
// failure so callers can correlate it.
type SendError struct {
	MessageID string
	Err       error
}

func (e *SendError) Error() string { return e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }

// StatusCode maps a relay error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMissingCredentials), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrContactNotFound), errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
