package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// ErrorKind classifies failures surfaced to session callers
type ErrorKind string

const (
	KindUnauthorized    ErrorKind = "Unauthorized"
	KindForbidden       ErrorKind = "Forbidden"
	KindConflict        ErrorKind = "Conflict"
	KindNetworkError    ErrorKind = "NetworkError"
	KindValidationError ErrorKind = "ValidationError"
	KindUnknown         ErrorKind = "Unknown"
)

var (
	ErrNotAuthenticated  = errors.New("session is not authenticated")
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrSessionClosed     = errors.New("session is closed")
)

// AuthError is the normalized error returned by Transport and Session
type AuthError struct {
	Kind    ErrorKind
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an AuthError of kind
func IsKind(err error, kind ErrorKind) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Kind == kind
}

// KindForStatus maps an HTTP status to an ErrorKind
func KindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusConflict:
		return KindConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidationError
	}
	return KindUnknown
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// errorFromResponse builds an AuthError from a failed response. Body values
// win over the status defaults when present.
func errorFromResponse(status int, body []byte) *AuthError {
	out := &AuthError{
		Kind:    KindForStatus(status),
		Status:  status,
		Message: http.StatusText(status),
	}

	var parsed errorBody
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil {
		if parsed.Code != "" {
			out.Code = parsed.Code
		}
		if parsed.Message != "" {
			out.Message = parsed.Message
		}
		out.Details = parsed.Details
	}

	return out
}

// NormalizeError converts any error into an AuthError
func NormalizeError(err error) *AuthError {
	if err == nil {
		return nil
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &AuthError{Kind: KindNetworkError, Message: "network error", Err: err}
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		kind := KindUnknown
		switch richErr.Category {
		case goerrors.CategoryAuth:
			kind = KindUnauthorized
		case goerrors.CategoryAuthz:
			kind = KindForbidden
		case goerrors.CategoryConflict:
			kind = KindConflict
		case goerrors.CategoryValidation, goerrors.CategoryBadInput:
			kind = KindValidationError
		}
		return &AuthError{
			Kind:    kind,
			Status:  richErr.Code,
			Code:    richErr.TextCode,
			Message: richErr.Message,
			Details: richErr.Metadata,
			Err:     err,
		}
	}

	return &AuthError{Kind: KindUnknown, Message: err.Error(), Err: err}
}
