package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/FiveIT/eseuri/internal/account"
	"github.com/FiveIT/eseuri/internal/auth"
	"github.com/FiveIT/eseuri/internal/bookmark"
	"github.com/FiveIT/eseuri/internal/gateway"
	"github.com/FiveIT/eseuri/internal/search"
	"github.com/FiveIT/eseuri/internal/session"
	"github.com/FiveIT/eseuri/internal/subject"
	"github.com/FiveIT/eseuri/internal/submission"
	"github.com/FiveIT/eseuri/internal/works"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errForbidden    = domainError(http.StatusForbidden, "FORBIDDEN", "Reader belongs to another user", nil)
	errUnregistered = domainError(http.StatusUnauthorized, "UNREGISTERED", "Unregistered user", nil)
	// Unverified tokens carry no Hasura user id to act as.
	errUnverifiedUser = domainError(http.StatusForbidden, "VERIFIED_TOKEN_REQUIRED", "This action needs a verified token", nil)
)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var gwErr *gateway.GatewayError
	if errors.As(err, &gwErr) {
		details := map[string]any{"operation": gwErr.Operation, "code": gwErr.Code}
		if gwErr.Path != "" {
			details["path"] = gwErr.Path
		}
		if gwErr.Code == gateway.CodeCircuitOpen {
			return http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", gwErr.Message, details
		}
		return http.StatusBadGateway, "GATEWAY_ERROR", gwErr.Message, details
	}

	switch {
	case errors.Is(err, subject.ErrNotFound):
		return http.StatusNotFound, "SUBJECT_NOT_FOUND", "Subject not found", nil
	case errors.Is(err, works.ErrWorkNotFound):
		return http.StatusNotFound, "WORK_NOT_FOUND", "Work not found", nil
	case errors.Is(err, works.ErrNoWorks):
		return http.StatusNotFound, "NO_WORKS", "Subject has no readable works", nil
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "READER_NOT_FOUND", "Reader not found or expired", nil
	case errors.Is(err, works.ErrInvalidType):
		return http.StatusBadRequest, "INVALID_WORK_TYPE", "Work type must be essay or characterization", nil
	case errors.Is(err, bookmark.ErrInvalidName):
		return http.StatusBadRequest, "INVALID_BOOKMARK", "Bookmark name is required", nil
	case errors.Is(err, works.ErrAlreadyStarted):
		return http.StatusConflict, "READER_STARTED", "Reader already started", nil
	case errors.Is(err, works.ErrNotStarted):
		return http.StatusConflict, "READER_NOT_STARTED", "Reader has not advanced yet", nil
	case errors.Is(err, account.ErrNotFound):
		return http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil
	case errors.Is(err, submission.ErrUnsupportedFile):
		return http.StatusBadRequest, "UNSUPPORTED_FILE", "File type is not supported", nil
	case errors.Is(err, submission.ErrEmptyFile):
		return http.StatusBadRequest, "EMPTY_FILE", "Uploaded file has no text", nil
	case errors.Is(err, submission.ErrInvalidSubject):
		return http.StatusBadRequest, "INVALID_SUBJECT", "Subject id must be a positive integer", nil
	case errors.Is(err, submission.ErrUnavailable):
		return http.StatusServiceUnavailable, "UPLOAD_UNAVAILABLE", "Uploads are not available", nil
	case errors.Is(err, bookmark.ErrNoSubscriptions):
		return http.StatusServiceUnavailable, "SUBSCRIPTIONS_UNAVAILABLE", "Live updates are not available", nil
	case errors.Is(err, search.ErrUnavailable):
		return http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search index is not available", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
