package auth

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeUnauthorized         = "UNAUTHORIZED"
	TextCodeForbidden            = "FORBIDDEN"
	TextCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	TextCodeInvalidRefreshToken  = "INVALID_REFRESH_TOKEN"
	TextCodeRefreshTokenNotFound = "REFRESH_TOKEN_NOT_FOUND"
	TextCodeRefreshTokenExpired  = "REFRESH_TOKEN_EXPIRED"
	TextCodeRefreshTokenReused   = "REFRESH_TOKEN_REUSED"
	TextCodeTokenExpired         = "TOKEN_EXPIRED"
	TextCodeTokenMalformed       = "TOKEN_MALFORMED"
	TextCodeEmailTaken           = "CONFLICT"
	TextCodeOrganizationNotFound = "ORGANIZATION_NOT_FOUND"
	TextCodeIdentityNotFound     = "IDENTITY_NOT_FOUND"
	TextCodeValidation           = "VALIDATION_ERROR"
	TextCodeNotFound             = "NOT_FOUND"
	TextCodeRateLimited          = "TOO_MANY_REQUESTS"
	TextCodeInternal             = "INTERNAL_ERROR"
)

// ErrUnauthorized is returned when a request carries no usable identity
var ErrUnauthorized = goerrors.New("Authentication required", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthorized).
	WithCode(goerrors.CodeUnauthorized)

// ErrForbidden is returned when a valid identity lacks a capability
var ErrForbidden = goerrors.New("Access denied", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidCredentials is the only error login failures surface. Unknown
// email, wrong password and inactive account are indistinguishable.
var ErrInvalidCredentials = goerrors.New("Invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidRefreshToken is the only error refresh failures surface.
var ErrInvalidRefreshToken = goerrors.New("Invalid or expired refresh token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidRefreshToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrRefreshTokenNotFound is returned by stores for unknown hashes
var ErrRefreshTokenNotFound = goerrors.New("refresh token not found", goerrors.CategoryAuth).
	WithTextCode(TextCodeRefreshTokenNotFound).
	WithCode(goerrors.CodeUnauthorized)

// ErrRefreshTokenExpired is returned by stores for records past their expiry
var ErrRefreshTokenExpired = goerrors.New("refresh token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeRefreshTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrRefreshTokenReused is returned by stores when a consumed record is presented again
var ErrRefreshTokenReused = goerrors.New("refresh token already used", goerrors.CategoryAuth).
	WithTextCode(TextCodeRefreshTokenReused).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenExpired = goerrors.New("token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenMalformed = goerrors.New("token malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailTaken is returned when registering an email that already exists
var ErrEmailTaken = goerrors.New("User with this email already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailTaken).
	WithCode(goerrors.CodeConflict)

var ErrOrganizationNotFound = goerrors.New("Organization not found", goerrors.CategoryValidation).
	WithTextCode(TextCodeOrganizationNotFound).
	WithCode(goerrors.CodeBadRequest)

var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

var ErrNotFound = goerrors.New("Not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

var ErrRateLimited = goerrors.New("Too many requests", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited).
	WithCode(http.StatusTooManyRequests)

// ErrorResponse is the wire shape of every failed request
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// HasTextCode reports whether err is a rich error carrying the given text code
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// NewValidationError builds a 400 error with per field messages as details
func NewValidationError(message string, fields map[string]string) *goerrors.Error {
	err := goerrors.New(message, goerrors.CategoryValidation).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest)
	if len(fields) == 0 {
		return err
	}
	details := make(map[string]any, len(fields))
	for k, v := range fields {
		details[k] = v
	}
	return err.WithMetadata(details)
}

// HTTPStatus maps an error to its response status
func HTTPStatus(err error) int {
	status, _ := ToErrorResponse(err)
	return status
}

// ToErrorResponse normalizes any error into a status and an ErrorResponse.
// Internal details are never exposed for server side failures.
func ToErrorResponse(err error) (int, ErrorResponse) {
	var richErr *goerrors.Error
	if err == nil || !goerrors.As(err, &richErr) {
		return http.StatusInternalServerError, ErrorResponse{
			Code:    TextCodeInternal,
			Message: "An unexpected server error occurred",
		}
	}

	res := ErrorResponse{
		Code:    richErr.TextCode,
		Message: richErr.Message,
	}

	var status int
	switch richErr.Category {
	case goerrors.CategoryAuth:
		status = http.StatusUnauthorized
		res.Code = fallback(res.Code, TextCodeUnauthorized)
	case goerrors.CategoryAuthz:
		status = http.StatusForbidden
		res.Code = fallback(res.Code, TextCodeForbidden)
	case goerrors.CategoryConflict:
		status = http.StatusConflict
		res.Code = fallback(res.Code, "CONFLICT")
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		status = http.StatusBadRequest
		res.Code = fallback(res.Code, TextCodeValidation)
		res.Details = richErr.Metadata
	case goerrors.CategoryNotFound:
		status = http.StatusNotFound
		res.Code = fallback(res.Code, TextCodeNotFound)
	case goerrors.CategoryRateLimit:
		status = http.StatusTooManyRequests
		res.Code = fallback(res.Code, TextCodeRateLimited)
	default:
		return http.StatusInternalServerError, ErrorResponse{
			Code:    TextCodeInternal,
			Message: "An unexpected server error occurred",
		}
	}

	return status, res
}

func fallback(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
