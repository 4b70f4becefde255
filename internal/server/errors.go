package server

import (
	"errors"
	"net/http"

	"github.com/parleylabs/parley/internal/auth"
	"github.com/parleylabs/parley/internal/chat"
	"github.com/parleylabs/parley/internal/groups"
	"github.com/parleylabs/parley/internal/membership"
	"github.com/parleylabs/parley/internal/users"
)

const (
	codeUnauthorized = "unauthorized"
	codeForbidden    = "forbidden"
	codeNotFound     = "not_found"
	codeInvalidInput = "invalid_input"
	codeConflict     = "conflict"
	codeUnavailable  = "unavailable"
	codeInternal     = "internal_error"
)

// statusForError maps service-layer failures onto the wire taxonomy. The
// membership source timing out reports 503 so clients know a retry may
// succeed, but the action itself was denied.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, users.ErrInvalidCredentials):
		return http.StatusUnauthorized, codeUnauthorized
	case errors.Is(err, membership.ErrNotMember),
		errors.Is(err, groups.ErrNotMember),
		errors.Is(err, groups.ErrNotOwner),
		errors.Is(err, groups.ErrOwnerImmutable):
		return http.StatusForbidden, codeForbidden
	case errors.Is(err, membership.ErrGroupNotFound),
		errors.Is(err, groups.ErrGroupNotFound),
		errors.Is(err, chat.ErrGroupNotFound),
		errors.Is(err, users.ErrUserNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, chat.ErrEmptyBody),
		errors.Is(err, chat.ErrBodyTooLong),
		errors.Is(err, chat.ErrInvalidLimit),
		errors.Is(err, groups.ErrInvalidName),
		errors.Is(err, users.ErrInvalidProfile),
		errors.Is(err, users.ErrWeakPassword):
		return http.StatusBadRequest, codeInvalidInput
	case errors.Is(err, users.ErrEmailExists),
		errors.Is(err, groups.ErrAlreadyMember):
		return http.StatusConflict, codeConflict
	case errors.Is(err, membership.ErrSourceUnavailable):
		return http.StatusServiceUnavailable, codeUnavailable
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// retryable reports whether the client may usefully retry the same action.
func retryable(err error) bool {
	return errors.Is(err, membership.ErrSourceUnavailable)
}
