package http

import (
	"errors"
	"net/http"

	"trivia-duel-service/internal/domain"
)

var (
	errInvalidPayload     = errors.New("invalid message payload")
	errUnsupportedMessage = errors.New("unsupported message type")
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{domain.ErrPreconditionFailed, http.StatusConflict, "precondition_failed"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrQuestionNotFound, http.StatusNotFound, "question_not_found"},
	{domain.ErrAlreadyJoined, http.StatusConflict, "already_joined"},
	{domain.ErrExpired, http.StatusGone, "expired"},
	{domain.ErrOwnDuel, http.StatusConflict, "own_duel"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrContentExhausted, http.StatusServiceUnavailable, "content_exhausted"},
	{domain.ErrInvalidQuestionCount, http.StatusBadRequest, "invalid_request"},
	{errInvalidPayload, http.StatusBadRequest, "invalid_request"},
	{errUnsupportedMessage, http.StatusBadRequest, "invalid_request"},
}

// classify maps a service error onto its HTTP status and stable error code.
func classify(err error) (int, string) {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func errorPayload(err error) errorBody {
	_, code := classify(err)
	return errorBody{Code: code, Message: err.Error()}
}
