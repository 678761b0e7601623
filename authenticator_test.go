package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-taskauth"
)

func TestAuther_Login(t *testing.T) {
	stack := newTestStack(t)
	org := stack.seedOrganization(t, "Acme")
	user := stack.seedUser(t, "viewer@acme.io", auth.RoleViewer, org.ID, true)
	ctx := context.Background()

	result, err := stack.auther.Login(ctx, "Viewer@Acme.io", testPassword)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), result.User.ID)
	assert.Equal(t, "Test", result.User.FirstName)
	assert.Equal(t, "User", result.User.LastName)
	assert.Equal(t, org.ID.String(), result.User.OrganizationID)
	assert.NotEmpty(t, result.Tokens.AccessToken)
	assert.NotEmpty(t, result.Tokens.RefreshToken)

	claims, err := stack.auther.ClaimsFromToken(result.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID())
	assert.Equal(t, "viewer", claims.Role())
	assert.True(t, claims.Can(string(auth.CapabilityManageTasks)))
	assert.False(t, claims.Can(string(auth.CapabilityManageUsers)))

	_, err = stack.auther.Login(ctx, "viewer@acme.io", "wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	assert.Equal(t, []auth.ActivityEventType{
		auth.ActivityEventLoginSuccess,
		auth.ActivityEventLoginFailure,
	}, stack.events.types())

	failure := stack.events.events[1]
	assert.Equal(t, "viewer@acme.io", failure.Metadata["email"])
	assert.Empty(t, failure.UserID)
}

func TestAuther_RefreshAndLogout(t *testing.T) {
	stack := newTestStack(t)
	stack.seedUser(t, "admin@acme.io", auth.RoleAdmin, uuid.Nil, true)
	ctx := context.Background()

	first, err := stack.auther.Login(ctx, "admin@acme.io", testPassword)
	require.NoError(t, err)

	second, err := stack.auther.Refresh(ctx, first.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.Tokens.RefreshToken, second.Tokens.RefreshToken)
	assert.Equal(t, first.Tokens.FamilyID, second.Tokens.FamilyID)
	assert.Equal(t, "admin@acme.io", second.User.Email)

	require.NoError(t, stack.auther.Logout(ctx, second.Tokens.RefreshToken))

	_, err = stack.auther.Refresh(ctx, second.Tokens.RefreshToken)
	assert.Error(t, err)

	assert.Equal(t, []auth.ActivityEventType{
		auth.ActivityEventLoginSuccess,
		auth.ActivityEventRefreshSuccess,
		auth.ActivityEventLogout,
		auth.ActivityEventRefreshFailure,
	}, stack.events.types())
}

func TestAuther_Register(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	result, err := stack.auther.Register(ctx, auth.RegisterUserMessage{
		Email:    "New@Acme.io",
		Password: testPassword,
		Name:     "Nia New",
	})
	require.NoError(t, err)
	assert.Equal(t, "new@acme.io", result.User.Email)
	assert.Equal(t, "viewer", result.User.Role)
	assert.NotEmpty(t, result.Tokens.RefreshToken)

	_, err = stack.auther.Register(ctx, auth.RegisterUserMessage{
		Email:    "new@acme.io",
		Password: testPassword,
		Name:     "Nia Again",
	})
	assert.ErrorIs(t, err, auth.ErrEmailTaken)

	assert.Equal(t, []auth.ActivityEventType{
		auth.ActivityEventRegister,
		auth.ActivityEventRegisterFailure,
	}, stack.events.types())
}

func TestAuther_RegisterWithoutRegistrar(t *testing.T) {
	stack := newTestStack(t)
	bare := auth.NewAuthenticator(nil, stack.auther.Issuer(), stack.auther.TokenService())

	_, err := bare.Register(context.Background(), auth.RegisterUserMessage{Email: "x@acme.io", Password: testPassword})
	require.Error(t, err)
	assert.Equal(t, 500, auth.HTTPStatus(err))

	_, err = bare.RegisterWithOrganization(context.Background(), auth.RegisterOrganizationUserMessage{})
	assert.Error(t, err)
}

func TestAuther_WithTokenValidator(t *testing.T) {
	stack := newTestStack(t)
	external := errors.New("external validator rejected token")

	calls := 0
	stack.auther.WithTokenValidator(auth.TokenValidatorFunc(func(raw string) (auth.AuthClaims, error) {
		calls++
		if raw == "external" {
			return stack.auther.TokenService().Validate(mintAccessToken(t, time.Now(), time.Hour, testOwner()))
		}
		return nil, external
	}))

	claims, err := stack.auther.ClaimsFromToken("external")
	require.NoError(t, err)
	assert.Equal(t, "owner", claims.Role())

	_, err = stack.auther.ClaimsFromToken("anything")
	assert.ErrorIs(t, err, external)
	assert.Equal(t, 2, calls)
}

type failingSink struct{}

func (failingSink) Record(context.Context, auth.ActivityEvent) error {
	return errors.New("sink down")
}

func TestAuther_SinkFailureDoesNotFailLogin(t *testing.T) {
	stack := newTestStack(t)
	stack.seedUser(t, "viewer@acme.io", auth.RoleViewer, uuid.Nil, true)
	stack.auther.WithActivitySink(failingSink{})

	_, err := stack.auther.Login(context.Background(), "viewer@acme.io", testPassword)
	assert.NoError(t, err)
}
