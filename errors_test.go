package auth_test

import (
	"errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"

	auth "github.com/goliatone/go-taskauth"
)

func TestToErrorResponse(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized, auth.TextCodeInvalidCredentials},
		{"refresh", auth.ErrInvalidRefreshToken, http.StatusUnauthorized, auth.TextCodeInvalidRefreshToken},
		{"forbidden", auth.ErrForbidden, http.StatusForbidden, auth.TextCodeForbidden},
		{"email taken", auth.ErrEmailTaken, http.StatusConflict, auth.TextCodeEmailTaken},
		{"organization", auth.ErrOrganizationNotFound, http.StatusBadRequest, auth.TextCodeOrganizationNotFound},
		{"rate limited", auth.ErrRateLimited, http.StatusTooManyRequests, auth.TextCodeRateLimited},
		{"not found", auth.ErrIdentityNotFound, http.StatusNotFound, auth.TextCodeIdentityNotFound},
		{"bare auth", goerrors.New("nope", goerrors.CategoryAuth), http.StatusUnauthorized, auth.TextCodeUnauthorized},
		{"plain error", errors.New("db exploded"), http.StatusInternalServerError, auth.TextCodeInternal},
		{"internal", goerrors.New("secret detail", goerrors.CategoryInternal), http.StatusInternalServerError, auth.TextCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, res := auth.ToErrorResponse(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, res.Code)
			assert.Equal(t, tt.status, auth.HTTPStatus(tt.err))
		})
	}
}

func TestToErrorResponse_HidesInternalDetails(t *testing.T) {
	_, res := auth.ToErrorResponse(goerrors.New("connection string leaked", goerrors.CategoryInternal))
	assert.NotContains(t, res.Message, "connection string")
	assert.Nil(t, res.Details)
}

func TestNewValidationError(t *testing.T) {
	err := auth.NewValidationError("Validation failed", map[string]string{"email": "must be a valid email address"})

	status, res := auth.ToErrorResponse(err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, auth.TextCodeValidation, res.Code)
	assert.Equal(t, "must be a valid email address", res.Details["email"])
}

func TestHasTextCode(t *testing.T) {
	assert.True(t, auth.HasTextCode(auth.ErrTokenExpired, auth.TextCodeTokenExpired))
	assert.False(t, auth.HasTextCode(auth.ErrTokenExpired, auth.TextCodeTokenMalformed))
	assert.False(t, auth.HasTextCode(errors.New("plain"), auth.TextCodeTokenExpired))
}
